package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// SupportedBrowsers is the closed set of browsers cookies can be read
// from. Safari has no chrome-like profile layout; it is accepted but only
// usable together with an explicit cookies file.
var SupportedBrowsers = []string{"chrome", "brave", "edge", "chromium", "safari"}

type Config struct {
	OutputRoot     string `toml:"output_root"`
	LinksFile      string `toml:"links_file"`
	Browser        string `toml:"browser"`
	BrowserProfile string `toml:"browser_profile"`
	CookiesFile    string `toml:"cookies_file"`
	StateDB        string `toml:"state_db"`
	Concurrency    int    `toml:"concurrency"`
	// UnknownDRMPolicy decides routing for an "unknown" DRM verdict:
	// "fail" (default), "direct", or "official".
	UnknownDRMPolicy string `toml:"unknown_drm_policy"`

	CaptureTimeout  time.Duration `toml:"-"`
	OfficialTimeout time.Duration `toml:"-"`
}

func Default() Config {
	return Config{
		OutputRoot:       "downloads",
		LinksFile:        "links.txt",
		Browser:          "chrome",
		Concurrency:      2,
		UnknownDRMPolicy: "fail",
		CaptureTimeout:   45 * time.Second,
		OfficialTimeout:  180 * time.Second,
	}
}

// Load reads a TOML config file over the defaults. A missing file is not
// an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !browserSupported(c.Browser) {
		return fmt.Errorf("unsupported browser %q (supported: %v)", c.Browser, SupportedBrowsers)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	switch c.UnknownDRMPolicy {
	case "fail", "direct", "official":
	default:
		return fmt.Errorf("unknown_drm_policy must be one of fail, direct, official; got %q", c.UnknownDRMPolicy)
	}
	if c.OutputRoot == "" {
		return fmt.Errorf("output_root must not be empty")
	}
	return nil
}

func browserSupported(name string) bool {
	for _, b := range SupportedBrowsers {
		if b == name {
			return true
		}
	}
	return false
}
