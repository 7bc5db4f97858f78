// Package cli implements progressctl, a command line client for the
// progress server.
package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// DefaultServer is used when neither --server nor PROGRESSCTL_SERVER is set.
const DefaultServer = "http://localhost:8001"

type options struct {
	server  string
	output  string
	timeout time.Duration
	now     func() time.Time
}

func (o *options) client() *Client { return NewClient(o.server, o.timeout) }

// NewRootCmd builds the progressctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{now: time.Now}

	server := os.Getenv("PROGRESSCTL_SERVER")
	if server == "" {
		server = DefaultServer
	}

	root := &cobra.Command{
		Use:           "progressctl",
		Short:         "Inspect and manage curation tasks",
		Long:          `progressctl lists, inspects, retries and deletes curation tasks, and streams live progress from a progress server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validFormat(opts.output)
		},
	}

	root.PersistentFlags().StringVar(&opts.server, "server", server, "progress server base URL")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", FormatTable, "output format: table, json or yaml")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(newTasksCmd(opts), newSubmitCmd(opts), newWatchCmd(opts))
	return root
}
