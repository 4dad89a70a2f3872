package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eichs/unityfs/internal/bundle"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "unityfs.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, bundle.Profile{Packer: bundle.PackerOriginal}, cfg.Profile())
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, `
log_level: debug
tpk_path: /opt/unity/uncompressed.tpk
strict_byte_count: true
fallback_unity_version: 2019.4.31f1
save:
  packer: explicit
  block_info_flags: 3
  data_flags: 1
metrics:
  enabled: true
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/opt/unity/uncompressed.tpk", cfg.TPKPath)
	assert.True(t, cfg.StrictByteCount)
	assert.Equal(t, "2019.4.31f1", cfg.FallbackUnityVersion)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, bundle.Profile{Packer: bundle.PackerExplicit, BlockInfoFlags: 3, DataFlags: 1}, cfg.Profile())
}

func TestLoadKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "strict_byte_count: true\n"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultFallbackVersion, cfg.FallbackUnityVersion)
	assert.Equal(t, "original", cfg.Save.Packer)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"packer", func(c *Config) { c.Save.Packer = "zip" }, "Packer"},
		{"flags", func(c *Config) { c.Save.DataFlags = 0x40 }, "DataFlags"},
		{"version", func(c *Config) { c.FallbackUnityVersion = "latest" }, "FallbackUnityVersion"},
		{"empty version", func(c *Config) { c.FallbackUnityVersion = "" }, "FallbackUnityVersion"},
		{"cache", func(c *Config) { c.ScriptTreeCache = -1 }, "ScriptTreeCache"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "log_level: [oops\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "save:\n  packer: gzip\n"))
	assert.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	logger := logrus.New()
	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.LogFile.Path = filepath.Join(t.TempDir(), "unityfs.log")
	require.NoError(t, cfg.SetupLogging(logger))
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Warn("written to the rotated file")
	data, err := os.ReadFile(cfg.LogFile.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to the rotated file")
}
