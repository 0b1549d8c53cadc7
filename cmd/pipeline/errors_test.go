package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitErr_NilErrorPassesThrough(t *testing.T) {
	require.NoError(t, exitErr(1, nil))
}

func TestExitErr_WrapsWithCodeAndUnwraps(t *testing.T) {
	inner := errors.New("boom")
	wrapped := exitErr(2, inner)
	require.Error(t, wrapped)
	require.Equal(t, "boom", wrapped.Error())
	require.ErrorIs(t, wrapped, inner)

	var ce *cliError
	require.True(t, errors.As(wrapped, &ce))
	require.Equal(t, 2, ce.code)
}
