package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Param returns the web call parameters from the request.
func Param(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

// Decoder represents data that can be decoded.
type Decoder interface {
	Decode(data []byte) error
}

// Decode reads the body of an HTTP request and decodes the body into the
// specified data model. A model implementing Decoder decodes itself.
func Decode(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("request: unable to read payload: %w", err)
	}

	if d, ok := v.(Decoder); ok {
		if err := d.Decode(data); err != nil {
			return fmt.Errorf("request: decode: %w", err)
		}
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("request: decode: %w", err)
	}
	return nil
}
