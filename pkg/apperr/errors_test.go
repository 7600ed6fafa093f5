package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"not found", NotFound("action-1", "action not found"), ErrNotFound, true},
		{"wrapped unauthorized", fmt.Errorf("process: %w", Unauthorized("action-1", "caller is not the creator")), ErrUnauthorized, true},
		{"kind mismatch", Validation("link-1", "already exists"), ErrNotFound, false},
		{"call failed", CallFailed("0xabc", errors.New("connection refused")), ErrCallFailed, true},
		{"plain error", errors.New("boom"), ErrLogic, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := NotFound("action-1", "action %s not found", "action-1")
	assert.Equal(t, "not_found [action-1]: action action-1 not found", err.Error())

	cause := errors.New("connection refused")
	callErr := CallFailed("0xabc", cause)
	assert.Contains(t, callErr.Error(), "connection refused")
	assert.ErrorIs(t, callErr, cause)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindLogic, KindOf(fmt.Errorf("wrapped: %w", Logic("create_action", "rate limit exceeded"))))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "invalid_input", KindInvalidInput.String())
}
