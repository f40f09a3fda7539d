package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	retryable := []ErrorCode{ErrRateLimit, ErrProviderUnavailable, ErrTimeout}
	for _, code := range retryable {
		assert.True(t, NewError(code, "x").Retryable(), string(code))
	}

	fatal := []ErrorCode{ErrAuth, ErrQuota, ErrInvalidInput, ErrNotFound, ErrOperationUnsupported, ErrInternal}
	for _, code := range fatal {
		assert.False(t, NewError(code, "x").Retryable(), string(code))
	}
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	ne := NewError(ErrAuth, "bad key")
	assert.Same(t, ne, AsError(ne))

	wrapped := AsError(errors.New("boom"))
	assert.Equal(t, ErrInternal, wrapped.Code)
	assert.Equal(t, "boom", wrapped.Message)
}

func TestOperationValid(t *testing.T) {
	assert.True(t, OpFindEmail.Valid())
	assert.True(t, OpFindLookalike.Valid())
	assert.False(t, Operation("mystery").Valid())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
}
