package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talkgrab.toml")
	contents := `
output_root = "/srv/talks"
browser = "brave"
browser_profile = "Work"
concurrency = 4
unknown_drm_policy = "official"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/talks", cfg.OutputRoot)
	assert.Equal(t, "brave", cfg.Browser)
	assert.Equal(t, "Work", cfg.BrowserProfile)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "official", cfg.UnknownDRMPolicy)
	// Untouched keys keep their defaults.
	assert.Equal(t, "links.txt", cfg.LinksFile)
	assert.Equal(t, 45*time.Second, cfg.CaptureTimeout)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talkgrab.toml")
	require.NoError(t, os.WriteFile(path, []byte("output_root = [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Default()
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unsupported browser", func(c *Config) { c.Browser = "netscape" }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"bad drm policy", func(c *Config) { c.UnknownDRMPolicy = "retry" }},
		{"empty output root", func(c *Config) { c.OutputRoot = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
