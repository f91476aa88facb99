package cryoerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("context: %w", New(KindAlreadyExists, "mkdir", base))

	require.Equal(t, KindAlreadyExists, KindOf(wrapped))
	require.True(t, Is(wrapped, KindAlreadyExists))
	require.False(t, Is(wrapped, KindCrypto))
	require.Equal(t, KindUnknown, KindOf(base))
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("disk full")
	err := New(KindInvalidInput, "split.write", base)

	require.ErrorIs(t, err, base)
	require.Contains(t, err.Error(), "invalid_input")
	require.Contains(t, err.Error(), "split.write")
}
