package cookies

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// fallbackProfiles are probed in order when no profile was requested or
// the requested one has no cookie store.
var fallbackProfiles = []string{"Default", "Profile 1", "Profile 2", "Profile 3"}

// chromeLikeBase returns the base directory holding a chromium-family
// browser's profiles for the current OS, or "" if the browser has no
// known chrome-like layout.
func chromeLikeBase(browser, home, goos string) string {
	switch goos {
	case "darwin":
		switch browser {
		case "chrome":
			return filepath.Join(home, "Library/Application Support/Google/Chrome")
		case "brave":
			return filepath.Join(home, "Library/Application Support/BraveSoftware/Brave-Browser")
		case "edge":
			return filepath.Join(home, "Library/Application Support/Microsoft Edge")
		case "chromium":
			return filepath.Join(home, "Library/Application Support/Chromium")
		}
	case "linux":
		switch browser {
		case "chrome":
			return filepath.Join(home, ".config/google-chrome")
		case "brave":
			return filepath.Join(home, ".config/BraveSoftware/Brave-Browser")
		case "edge":
			return filepath.Join(home, ".config/microsoft-edge")
		case "chromium":
			return filepath.Join(home, ".config/chromium")
		}
	}
	return ""
}

// profileStore inspects a browser's on-disk profile layout. It only ever
// reads; the cookie databases themselves are opaque to us and are handed
// to the external fetch tool by name.
type profileStore struct {
	base string
}

func newProfileStore(browser string) profileStore {
	home, err := os.UserHomeDir()
	if err != nil {
		return profileStore{}
	}
	base := chromeLikeBase(browser, home, runtime.GOOS)
	if base == "" {
		return profileStore{}
	}
	if _, err := os.Stat(base); err != nil {
		return profileStore{}
	}
	return profileStore{base: base}
}

func (s profileStore) available() bool { return s.base != "" }

// hasCookies reports whether the named profile directory contains a
// cookie store (old and new chromium layouts).
func (s profileStore) hasCookies(dirName string) bool {
	if !s.available() {
		return false
	}
	for _, rel := range []string{"Cookies", filepath.Join("Network", "Cookies")} {
		if _, err := os.Stat(filepath.Join(s.base, dirName, rel)); err == nil {
			return true
		}
	}
	return false
}

// localState is the subset of the browser's "Local State" JSON we need to
// map human-visible profile names to directory names.
type localState struct {
	Profile struct {
		InfoCache map[string]struct {
			Name     string `json:"name"`
			GaiaName string `json:"gaia_name"`
		} `json:"info_cache"`
	} `json:"profile"`
}

// dirForDisplayName resolves a profile display name (possibly non-ASCII)
// to its directory name via the Local State info cache.
func (s profileStore) dirForDisplayName(displayName string) (string, error) {
	if !s.available() {
		return "", fmt.Errorf("no profile base directory")
	}
	data, err := os.ReadFile(filepath.Join(s.base, "Local State"))
	if err != nil {
		return "", fmt.Errorf("reading Local State: %w", err)
	}
	var state localState
	if err := json.Unmarshal(data, &state); err != nil {
		return "", fmt.Errorf("parsing Local State: %w", err)
	}
	target := strings.ToLower(strings.TrimSpace(displayName))
	for dirName, meta := range state.Profile.InfoCache {
		if strings.ToLower(strings.TrimSpace(meta.Name)) == target {
			return dirName, nil
		}
		if meta.GaiaName != "" && strings.ToLower(strings.TrimSpace(meta.GaiaName)) == target {
			return dirName, nil
		}
	}
	return "", fmt.Errorf("no profile named %q in Local State", displayName)
}

// findProfile resolves the requested profile to a directory name that has
// a cookie store: direct directory match first, then display-name
// mapping, then the standard fallback candidates.
func (s profileStore) findProfile(requested string) (string, error) {
	if !s.available() {
		return "", fmt.Errorf("browser profile base not found")
	}
	if requested != "" {
		if s.hasCookies(requested) {
			return requested, nil
		}
		if mapped, err := s.dirForDisplayName(requested); err == nil && s.hasCookies(mapped) {
			return mapped, nil
		}
	}
	for _, candidate := range fallbackProfiles {
		if s.hasCookies(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no profile with a cookie store under %s", s.base)
}
