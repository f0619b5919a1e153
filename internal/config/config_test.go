package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testDir = "testdata"

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg := Load(filepath.Join(testDir, "config-test.yml"))

	assert.Equal(t, "127.0.0.1:9000", cfg.MyAddress)
	assert.Equal(t, "alpha", cfg.LocalVaultName)
	assert.Equal(t, "/mnt/fedvault", cfg.MountPoint)
	assert.True(t, cfg.Caching)
	assert.True(t, cfg.ShareLocalVault)
	assert.True(t, cfg.AllowDisconnectedDelete)
	assert.False(t, cfg.AllowDisconnectedCreate)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9001", cfg.Peers["beta"].Address)
	assert.Equal(t, 3, cfg.BackgroundUpdateInterval)
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	cfg := Load(filepath.Join(testDir, "config-test-merge.yml"))

	assert.Equal(t, "alpha", cfg.LocalVaultName)
	assert.Equal(t, "/mnt/fedvault", cfg.MountPoint)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3, cfg.BackgroundUpdateInterval)
}

func TestLoadNonexistent(t *testing.T) {
	t.Parallel()

	cfg := Load(filepath.Join(testDir, "does-not-exist.yml"))

	assert.Equal(t, "local", cfg.LocalVaultName)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	assert.Error(t, cfg.Validate())

	cfg.LocalVaultName = "alpha"
	cfg.MountPoint = "/mnt/fedvault"
	cfg.DBPath = "/var/lib/fedvault"
	assert.NoError(t, cfg.Validate())

	cfg.ShareLocalVault = true
	assert.Error(t, cfg.Validate())
	cfg.MyAddress = "127.0.0.1:9000"
	assert.NoError(t, cfg.Validate())
}
