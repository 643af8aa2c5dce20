package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeEnv(t, `
# hub config
port=9000
ipv4_bind=127.0.0.1
max_clients=8
encryption_enabled=true
password=hunter2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.IPv4Bind)
	assert.Equal(t, 8, cfg.MaxClients)
	assert.True(t, cfg.EncryptionEnabled)
	assert.Equal(t, "hunter2", cfg.Password)
}

func TestLoadIgnoresUnknownKeysAndComments(t *testing.T) {
	path := writeEnv(t, `
ipv4_bind=0.0.0.0
some_future_key=whatever
# port=1 (commented out)
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Port, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.IPv4Bind)
}

func TestValidateRejectsBadAllowlistEntry(t *testing.T) {
	cfg := Default()
	cfg.IPv4Bind = "0.0.0.0"
	cfg.ClientAllowlistHex = []string{"not-a-key"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresABindAddress(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.IPv6Bind = "::"
	assert.NoError(t, cfg.Validate())
}
