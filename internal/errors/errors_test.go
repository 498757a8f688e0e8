package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors_ImplementErrorInterface(t *testing.T) {
	sentinels := []error{
		ErrInvalidCredential,
		ErrAuthorizationRejected,
		ErrAuthorizationTimeout,
		ErrStore,
		ErrNetwork,
	}
	for _, err := range sentinels {
		assert.NotEmpty(t, err.Error(), "sentinel error should have non-empty message")
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidCredential,
		ErrAuthorizationRejected,
		ErrAuthorizationTimeout,
		ErrStore,
		ErrNetwork,
	}
	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.False(t, errors.Is(sentinels[i], sentinels[j]),
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestSentinelErrors_SurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("calling /user: %w", ErrInvalidCredential)
	assert.ErrorIs(t, wrapped, ErrInvalidCredential)
	assert.NotErrorIs(t, wrapped, ErrNetwork)
}
