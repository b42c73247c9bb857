package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryErrorFormat(t *testing.T) {
	err := NewMemoryError("AddMemory", ErrNotFound)
	require.Error(t, err)
	assert.Equal(t, "recall: AddMemory: not found", err.Error())
}

func TestMemoryErrorUnwrap(t *testing.T) {
	err := NewMemoryError("Retrieve", ErrProviderUnavailable)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))

	var memErr *MemoryError
	require.True(t, errors.As(err, &memErr))
	assert.Equal(t, "Retrieve", memErr.Op)
}

func TestMemoryErrorWrapsWrappedSentinel(t *testing.T) {
	inner := fmt.Errorf("%w: unknown role %q", ErrInvalidInput, "moderator")
	err := NewMemoryError("RecordTurn", inner)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestNewMemoryErrorNilPassthrough(t *testing.T) {
	assert.NoError(t, NewMemoryError("Close", nil))
}
