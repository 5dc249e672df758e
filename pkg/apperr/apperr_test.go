package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("join: %w", Ended("s1"))
	assert.True(t, errors.Is(err, ErrSessionEnded))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, "join: session s1 has ended", err.Error())
}

func TestEmptyMessageFallsBackToKind(t *testing.T) {
	err := &Error{Kind: ErrBusy}
	assert.Equal(t, "session busy", err.Error())
	assert.False(t, IsUnavailable(err))
}
