// Package drm applies heuristics over capture evidence to decide whether
// a stream is DRM-protected. Detection only; protected streams are routed
// to the official download path, never decrypted.
package drm

import (
	"fmt"
	"net/url"
	"strings"

	"talkgrab"
)

// licenseHostPatterns match request URLs of known license/DRM servers.
// Substring matches over the lowercased host and path.
var licenseHostPatterns = []string{
	"widevine",
	"playready",
	"fairplay",
	"drmtoday",
	"axinom",
	"ezdrm",
	"vualto",
	"license.",
	"/license",
	"licensing.",
	"keydelivery",
	"media.azure.net/",
	"/acquirelicense",
	"/getlicense",
}

// protectedManifestMarkers are encryption markers that unambiguously mean
// a licensed decryption path is required. Plain AES-128 HLS keys are
// deliberately absent: those playlists are fetchable without a license.
var protectedManifestMarkers = []string{
	// HLS
	"sample-aes",
	"com.apple.fps",
	"fairplay",
	"com.widevine.alpha",
	"widevine",
	"com.microsoft.playready",
	// DASH
	"<contentprotection",
	"cenc:pssh",
	"urn:uuid:edef8ba9",
	"urn:uuid:9a04f079",
}

// Classify is a pure function over the evidence: deterministic, first
// matching rule wins.
//
//  1. A request to a known license-server pattern -> protected.
//  2. An encryption marker inside a captured manifest body -> protected.
//  3. At least one manifest candidate and no markers -> clear.
//  4. No manifest at all -> unknown.
//
// The rules only assert "protected" on unambiguous evidence; everything
// else defaults toward attempting a clear-path fetch, with the official
// fallback as the safety net.
func Classify(evidence talkgrab.CaptureEvidence) talkgrab.DrmVerdict {
	for _, req := range evidence.Requests {
		if pattern, ok := matchLicenseURL(req.URL); ok {
			return talkgrab.DrmVerdict{
				Verdict:  talkgrab.VerdictProtected,
				Evidence: fmt.Sprintf("license server request %s (pattern %q)", req.URL, pattern),
			}
		}
	}

	for manifestURL, body := range evidence.ManifestBodies {
		if marker, ok := matchProtectedMarker(body); ok {
			return talkgrab.DrmVerdict{
				Verdict:  talkgrab.VerdictProtected,
				Evidence: fmt.Sprintf("encryption marker %q in manifest %s", marker, manifestURL),
			}
		}
	}

	if evidence.HasManifest() {
		return talkgrab.DrmVerdict{
			Verdict:  talkgrab.VerdictClear,
			Evidence: fmt.Sprintf("manifest %s with no protection markers", evidence.ManifestURLs[0]),
		}
	}

	return talkgrab.DrmVerdict{
		Verdict:  talkgrab.VerdictUnknown,
		Evidence: "no streaming manifest captured",
	}
}

func matchLicenseURL(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	haystack := strings.ToLower(parsed.Hostname() + parsed.EscapedPath())
	for _, pattern := range licenseHostPatterns {
		if strings.Contains(haystack, pattern) {
			return pattern, true
		}
	}
	return "", false
}

func matchProtectedMarker(body string) (string, bool) {
	lower := strings.ToLower(body)
	// An HLS playlist whose only key method is AES-128 is encrypted but
	// not DRM: the key is fetchable with the same cookies as the stream.
	if strings.Contains(lower, "#ext-x-key") && !containsAny(lower, protectedManifestMarkers) {
		return "", false
	}
	for _, marker := range protectedManifestMarkers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
