package errs

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/curation-progress/internal/domain/progress"
)

func TestFromDomainStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{progress.ErrNotFound, http.StatusNotFound},
		{progress.ErrExpired, http.StatusGone},
		{progress.ErrAlreadyExists, http.StatusConflict},
		{progress.ErrInvalidTransition, http.StatusConflict},
		{progress.ErrInvalidArgument, http.StatusBadRequest},
		{progress.ErrStorageUnavailable, http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			t.Parallel()
			wrapped := fmt.Errorf("task x: %w", tt.err)
			appErr := FromDomain(wrapped)
			assert.Equal(t, tt.want, appErr.HTTPStatus())
			assert.ErrorIs(t, appErr, tt.err)
		})
	}
}

func TestErrorEncode(t *testing.T) {
	t.Parallel()

	data, ct, err := Newf(NotFound, "task %s not found", "x").Encode()
	require.NoError(t, err)
	assert.Equal(t, "application/json", ct)
	assert.JSONEq(t, `{"code":"not_found","message":"task x not found"}`, string(data))
}

func TestCheck(t *testing.T) {
	t.Parallel()

	type req struct {
		Label string `json:"label" validate:"required"`
		Limit int    `json:"limit" validate:"min=0,max=500"`
	}

	require.NoError(t, Check(req{Label: "a", Limit: 10}))

	err := Check(req{Limit: 501})
	var fields FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Len(t, fields, 2)
	assert.Equal(t, "label", fields[0].Field)
	assert.Equal(t, "limit", fields[1].Field)
}
