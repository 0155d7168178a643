package passphrase

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfiguredPassphraseWins(t *testing.T) {
	src := NewSource("hunter2")
	got, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)
}

func TestNonTerminalWithoutPassphraseFails(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	require.NoError(t, err)
	defer f.Close()

	src := NewSource("").WithTerminal(f, io.Discard)
	_, err = src.Get()
	require.ErrorContains(t, err, "keystore passphrase required")

	// cached
	_, again := src.Get()
	require.Equal(t, err, again)
}
