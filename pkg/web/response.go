package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// NoResponse tells Respond to not respond to the request. Used when the
// handler already wrote to the connection.
type NoResponse struct{}

// NewNoResponse constructs a no response value.
func NewNoResponse() NoResponse { return NoResponse{} }

// Encode implements the Encoder interface.
func (NoResponse) Encode() ([]byte, string, error) { return nil, "", nil }

// NoContent responds with 204 and an empty body.
type NoContent struct{}

// Encode implements the Encoder interface.
func (NoContent) Encode() ([]byte, string, error) { return nil, "", nil }

// HTTPStatus implements HTTPStatusSetter.
func (NoContent) HTTPStatus() int { return http.StatusNoContent }

// HTTPStatusSetter lets a data model pick its own status code.
type HTTPStatusSetter interface {
	HTTPStatus() int
}

// Respond sends a response to the client.
func Respond(ctx context.Context, w http.ResponseWriter, dataModel Encoder) error {
	if _, ok := dataModel.(NoResponse); ok {
		return nil
	}

	// If the context has been canceled, it means the client is no longer
	// waiting for a response.
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("client disconnected, do not send response")
		}
	}

	statusCode := StatusCode(dataModel)

	setStatusCode(ctx, statusCode)

	if statusCode == http.StatusNoContent {
		w.WriteHeader(statusCode)
		return nil
	}

	data, contentType, err := dataModel.Encode()
	if err != nil {
		return fmt.Errorf("respond: encode: %w", err)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("respond: write: %w", err)
	}

	return nil
}

// StatusCode returns the status Respond will write for dataModel.
func StatusCode(dataModel Encoder) int {
	switch v := dataModel.(type) {
	case HTTPStatusSetter:
		return v.HTTPStatus()
	case error:
		return http.StatusInternalServerError
	case nil:
		return http.StatusNoContent
	default:
		return http.StatusOK
	}
}
