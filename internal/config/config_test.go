package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bhdir.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeTempConfig(t, `
[directory]
root = /var/lib/bhdir
dir_mode = 0700

[cache]
redis = redis://localhost:6379/0

[metrics]
listen_addr = 127.0.0.1:9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/bhdir", cfg.Directory.Root)
	require.Equal(t, "0700", cfg.Directory.DirMode)
	require.Equal(t, "0644", cfg.Directory.FileMode)
	require.Equal(t, "redis://localhost:6379/0", cfg.Cache.Redis)
	require.Equal(t, "127.0.0.1:9090", cfg.Metrics.ListenAddr)
	require.Equal(t, "/var/run/bhdir/bhdir.sock", cfg.Socket.Path)
	require.Equal(t, "0600", cfg.Socket.Mode)
}

func TestDefaultSocketModeIs0600(t *testing.T) {
	require.Equal(t, "0600", Default().Socket.Mode)
}

func TestLoadRequiresDirectoryRoot(t *testing.T) {
	path := writeTempConfig(t, `
[cache]
redis = redis://localhost:6379/0
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestParseModeParsesOctal(t *testing.T) {
	mode, err := ParseMode("0755")
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0755), mode)
}
