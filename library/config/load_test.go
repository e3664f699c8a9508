package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	require.NoError(t, LoadDotEnv("", filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("KB_TEST_FROM_FILE=file\nKB_TEST_PRESET=file\n"), 0o600))

	t.Setenv("KB_TEST_PRESET", "env")
	t.Setenv("KB_TEST_FROM_FILE", "")
	require.NoError(t, os.Unsetenv("KB_TEST_FROM_FILE"))

	require.NoError(t, LoadDotEnv(envPath))
	require.Equal(t, "file", os.Getenv("KB_TEST_FROM_FILE"))
	require.Equal(t, "env", os.Getenv("KB_TEST_PRESET"))
}
