package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(ErrNotReady, http.StatusServiceUnavailable, "loading"), http.StatusServiceUnavailable},
		{Newf(ErrCodeNotFound, http.StatusNotFound, "code %q", "Z99"), http.StatusNotFound},
		{fmt.Errorf("parsing: %w", ErrInvalidQuery), http.StatusBadRequest},
		{fmt.Errorf("lookup: %w", ErrCodeNotFound), http.StatusNotFound},
		{fmt.Errorf("reload: %w", ErrLoad), http.StatusServiceUnavailable},
		{ErrCacheDisabled, http.StatusServiceUnavailable},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatusCode(tt.err), tt.err.Error())
	}
}

func TestAppError(t *testing.T) {
	err := Newf(ErrCodeNotFound, http.StatusNotFound, "code %q is unknown", "Z99")
	assert.Equal(t, `code not found: code "Z99" is unknown`, err.Error())
	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), ErrCodeNotFound)
}
