// Package fileloader loads configuration from an optional YAML file
// overlaid with CURATION_* environment variables.
package fileloader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ahrav/curation-progress/internal/config"
)

// FileLoader loads configuration from a file on disk and the environment. It
// implements the Loader interface.
type FileLoader struct {
	// path is the filesystem path to the configuration file. Empty means
	// defaults and environment only.
	path string
}

// NewFileLoader creates a new FileLoader that will load configuration from
// the specified file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

var _ config.Loader = (*FileLoader)(nil)

// Load reads the file, applies environment overrides, and validates the
// result. Precedence is env over file over defaults.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.path != "" {
		v.SetConfigFile(l.path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Comma separated lists arrive from the environment as one string.
	cfg.HTTP.CORSOrigins = splitList(cfg.HTTP.CORSOrigins)
	cfg.Gateway.AllowedOrigins = splitList(cfg.Gateway.AllowedOrigins)
	cfg.Bus.Kafka.Brokers = splitList(cfg.Bus.Kafka.Brokers)

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
