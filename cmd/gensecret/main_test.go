package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_run(t *testing.T) {
	t.Run("default size", func(t *testing.T) {
		var out bytes.Buffer

		err := run(&out, nil)

		require.NoError(t, err)
		secret, err := hex.DecodeString(strings.TrimSpace(out.String()))
		require.NoError(t, err)
		require.Len(t, secret, SecretKeyBytesLen)
	})

	t.Run("custom size", func(t *testing.T) {
		var out bytes.Buffer

		err := run(&out, []string{"--bytes", "64"})

		require.NoError(t, err)
		require.Len(t, strings.TrimSpace(out.String()), 128)
	})

	t.Run("every call is random", func(t *testing.T) {
		var first, second bytes.Buffer

		require.NoError(t, run(&first, nil))
		require.NoError(t, run(&second, nil))

		require.NotEqual(t, first.String(), second.String())
	})

	t.Run("too short", func(t *testing.T) {
		var out bytes.Buffer

		err := run(&out, []string{"-b", "16"})

		require.Error(t, err)
		require.Empty(t, out.String())
	})
}
