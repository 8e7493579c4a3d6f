package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsExistingCode(t *testing.T) {
	inner := NotFound("expense", "e-1")
	wrapped := Wrap(fmt.Errorf("lookup: %w", inner), ErrCodePersistence, "failed")

	assert.Equal(t, ErrCodeNotFound, CodeOf(wrapped))
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))
}

func TestPersistenceUnwrapsCause(t *testing.T) {
	err := Persistence(context.DeadlineExceeded, "failed to load expense")

	require.True(t, Is(err, ErrCodePersistence))
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "failed to load expense", MessageOf(err))
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestUncodedErrorsAreInternal(t *testing.T) {
	err := stderrors.New("boom")

	assert.Equal(t, ErrCodeInternal, CodeOf(err))
	assert.Equal(t, "internal server error", MessageOf(err))
	assert.False(t, Is(nil, ErrCodeInternal))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		ErrCodeNotFound:       http.StatusNotFound,
		ErrCodeAlreadyDecided: http.StatusConflict,
		ErrCodeConflict:       http.StatusConflict,
		ErrCodeForbiddenStep:  http.StatusForbidden,
		ErrCodeInvalidInput:   http.StatusBadRequest,
		ErrCodeUnauthorized:   http.StatusUnauthorized,
		ErrCodePersistence:    http.StatusServiceUnavailable,
		ErrCodeInvalidStep:    http.StatusInternalServerError,
		ErrCodeInternal:       http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), code)
	}
}

func TestAlreadyDecidedMessage(t *testing.T) {
	err := AlreadyDecided("approved")
	assert.Equal(t, "expense is already approved", err.Error())
}
