package auth_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	auth "github.com/goliatone/go-project-auth"
)

func TestIsRetryable(t *testing.T) {
	cause := errors.New("connection reset by peer")
	storeErr := auth.StoreError(cause, "failed to load token")

	assert.True(t, auth.IsRetryable(storeErr))
	assert.ErrorIs(t, storeErr, cause)
	assert.False(t, auth.IsRetryable(auth.ErrTokenNotFound))
	assert.False(t, auth.IsRetryable(cause))
	assert.False(t, auth.IsRetryable(nil))
}

func TestHasTextCode(t *testing.T) {
	assert.True(t, auth.HasTextCode(auth.ErrInvalidLink, auth.TextCodeInvalidLink))
	assert.False(t, auth.HasTextCode(auth.ErrInvalidLink, auth.TextCodeTokenNotFound))
	assert.False(t, auth.HasTextCode(errors.New("plain"), auth.TextCodeTokenNotFound))
}
