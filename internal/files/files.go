// Package files manages the on-disk artifacts of the external fetch
// tool: partial downloads, sidecar files, and per-domain output
// directories.
package files

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DomainDir resolves (and creates) the per-domain output directory for a
// URL under root.
func DomainDir(root, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	domain := "unknown-domain"
	if err == nil && parsed.Hostname() != "" {
		domain = parsed.Hostname()
	}
	dir := filepath.Join(root, domain)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	return dir, nil
}

// SanitizeFilename makes a browser-suggested filename safe to join onto a
// directory path.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "-", "\\", "-", string(os.PathSeparator), "-")
	name = replacer.Replace(name)
	name = strings.Trim(name, ". ")
	if name == "" || strings.ReplaceAll(name, ".", "") == "" {
		return "download.bin"
	}
	return name
}

// partialPaths are the fetch tool's in-progress markers for a final path.
func partialPaths(finalPath string) []string {
	return []string{
		finalPath + ".part",
		finalPath + ".ytdl",
	}
}

// ShouldSkip reports whether finalPath is already completely downloaded:
// the file exists and no partial marker does. A completed file also has
// its leftover sidecars removed.
func ShouldSkip(finalPath string) bool {
	if _, err := os.Stat(finalPath); err != nil {
		return false
	}
	for _, p := range partialPaths(finalPath) {
		if _, err := os.Stat(p); err == nil {
			// A resumable partial exists; let the tool continue it.
			return false
		}
	}
	cleanupArtifacts(finalPath)
	return true
}

// PartialOffset returns the byte length of an in-flight partial download
// for finalPath, or 0 if none exists. Used as the resume token.
func PartialOffset(finalPath string) int64 {
	if info, err := os.Stat(finalPath + ".part"); err == nil {
		return info.Size()
	}
	return 0
}

// OffsetToken encodes a partial byte offset as an opaque resume token.
func OffsetToken(offset int64) string {
	if offset <= 0 {
		return ""
	}
	return "offset:" + strconv.FormatInt(offset, 10)
}

// cleanupArtifacts removes the tool's sidecar files around a completed
// download.
func cleanupArtifacts(finalPath string) {
	dir := filepath.Dir(finalPath)
	base := filepath.Base(finalPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == base {
			continue
		}
		if strings.HasPrefix(name, base+".part") || name == base+".ytdl" {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				zap.S().Named("files").Warnw("failed to remove artifact", "path", name, "error", err)
			}
		}
	}
}

// SweepLeftovers removes orphaned partial markers in dir whose completed
// file already exists. Partials without a completed counterpart are kept
// so a later run can resume them.
func SweepLeftovers(dir string) {
	log := zap.S().Named("files")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		var base string
		switch {
		case strings.HasSuffix(name, ".ytdl"):
			base = strings.TrimSuffix(name, ".ytdl")
		case strings.Contains(name, ".part"):
			base = name[:strings.Index(name, ".part")]
		default:
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, base)); err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			log.Warnw("failed to sweep leftover", "path", name, "error", err)
		} else {
			log.Debugw("swept leftover", "path", name)
		}
	}
}
