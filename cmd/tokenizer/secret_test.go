package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func readEnvFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestWriteSecret(t *testing.T) {
	never := func(string) bool { return false }
	always := func(string) bool { return true }

	t.Run("Appends Missing Key", func(t *testing.T) {
		path := writeEnvFile(t, "APP_NAME=demo")

		changed, err := writeSecret(path, "abc", secretOptions{Confirm: never})
		require.NoError(t, err)
		require.True(t, changed)
		require.Equal(t, "APP_NAME=demo\nTOKEN_SECRET_KEY=abc\n", readEnvFile(t, path))
	})

	t.Run("Empty File", func(t *testing.T) {
		path := writeEnvFile(t, "")

		changed, err := writeSecret(path, "abc", secretOptions{})
		require.NoError(t, err)
		require.True(t, changed)
		require.Equal(t, "TOKEN_SECRET_KEY=abc\n", readEnvFile(t, path))
	})

	t.Run("Replace After Confirmation", func(t *testing.T) {
		path := writeEnvFile(t, "A=1\nTOKEN_SECRET_KEY=old\nB=2\n")

		changed, err := writeSecret(path, "new", secretOptions{Confirm: always})
		require.NoError(t, err)
		require.True(t, changed)
		require.Equal(t, "A=1\nTOKEN_SECRET_KEY=new\nB=2\n", readEnvFile(t, path))
	})

	t.Run("Declined", func(t *testing.T) {
		path := writeEnvFile(t, "TOKEN_SECRET_KEY=old\n")

		changed, err := writeSecret(path, "new", secretOptions{Confirm: never})
		require.NoError(t, err)
		require.False(t, changed)
		require.Equal(t, "TOKEN_SECRET_KEY=old\n", readEnvFile(t, path))

		changed, err = writeSecret(path, "new", secretOptions{})
		require.NoError(t, err)
		require.False(t, changed, "no confirmation means no")
	})

	t.Run("Always No", func(t *testing.T) {
		path := writeEnvFile(t, "TOKEN_SECRET_KEY=old\n")

		changed, err := writeSecret(path, "new", secretOptions{AlwaysNo: true, Force: true, Confirm: always})
		require.NoError(t, err)
		require.False(t, changed)
		require.Equal(t, "TOKEN_SECRET_KEY=old\n", readEnvFile(t, path))
	})

	t.Run("Force", func(t *testing.T) {
		path := writeEnvFile(t, "TOKEN_SECRET_KEY=old\n")

		changed, err := writeSecret(path, "new", secretOptions{Force: true, Confirm: never})
		require.NoError(t, err)
		require.True(t, changed)
		require.Equal(t, "TOKEN_SECRET_KEY=new\n", readEnvFile(t, path))
	})

	t.Run("Similar Key Untouched", func(t *testing.T) {
		path := writeEnvFile(t, "OLD_TOKEN_SECRET_KEY=keep\n")

		changed, err := writeSecret(path, "abc", secretOptions{})
		require.NoError(t, err)
		require.True(t, changed)
		require.Equal(t, "OLD_TOKEN_SECRET_KEY=keep\nTOKEN_SECRET_KEY=abc\n", readEnvFile(t, path))
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := writeSecret(filepath.Join(t.TempDir(), ".env"), "abc", secretOptions{})
		require.ErrorContains(t, err, "does not exist")
	})
}

func TestStdinConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		confirm := stdinConfirm(strings.NewReader(tt.input), &out)
		require.Equal(t, tt.want, confirm("Override?"), "input %q", tt.input)
		require.Equal(t, "Override? [y/N]: ", out.String())
	}
}
