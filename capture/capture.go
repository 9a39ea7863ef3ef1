// Package capture drives a controlled browser session against a URL and
// passively records network traffic until a streaming manifest shows up
// or the deadline passes. Retry policy belongs to the orchestrator, not
// here.
package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"talkgrab"
	"talkgrab/browser"
)

// playbackSelectors nudge the site's player into starting, since many
// players only request the manifest once playback begins.
var playbackSelectors = []string{
	"video",
	"button[aria-label='Play']",
	"[data-testid='play']",
	".play",
	".video-play",
}

const startPlaybackJS = `
const v = document.querySelector('video');
if (v) { v.muted = true; v.play().catch(() => {}); }
`

type Config struct {
	// Timeout bounds the whole capture, including navigation.
	Timeout time.Duration
	// QuietWindow is how long the network must stay silent after the
	// first manifest candidate before the capture concludes.
	QuietWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:     45 * time.Second,
		QuietWindow: 1500 * time.Millisecond,
	}
}

type Agent struct {
	browser browser.Browser
	config  Config
	log     *zap.SugaredLogger
}

func NewAgent(b browser.Browser, config Config) *Agent {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.QuietWindow <= 0 {
		config.QuietWindow = DefaultConfig().QuietWindow
	}
	return &Agent{
		browser: b,
		config:  config,
		log:     zap.S().Named("capture"),
	}
}

// Capture navigates to url in an isolated session seeded with cookies and
// returns the observed evidence. Fails with talkgrab.ErrCaptureTimeout if
// no manifest-like request shows up in time. The session is closed on
// every exit path.
func (a *Agent) Capture(ctx context.Context, url string, cookies talkgrab.CookieSet) (talkgrab.CaptureEvidence, error) {
	evidence := talkgrab.CaptureEvidence{
		ManifestBodies: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	events := make(chan browser.NetworkEvent, 256)
	session, err := a.browser.NewSession(ctx, cookies, func(ev browser.NetworkEvent) {
		select {
		case events <- ev:
		default:
			// Never block the browser's event listener; dropping an
			// overflow event loses nothing a manifest capture needs.
		}
	})
	if err != nil {
		return evidence, fmt.Errorf("opening capture session: %w", err)
	}
	defer session.Close()

	if err := session.Navigate(url); err != nil {
		return evidence, fmt.Errorf("navigating to %s: %w", url, err)
	}
	if title, err := session.Title(); err == nil {
		evidence.PageTitle = title
	}

	// Best effort: the capture is still valid if no player was found.
	session.ClickAny(playbackSelectors, 2*time.Second)
	if err := session.Evaluate(startPlaybackJS); err != nil {
		a.log.Debugw("playback nudge failed", "url", url, "error", err)
	}

	quiet := time.NewTimer(a.config.Timeout)
	defer quiet.Stop()
	for {
		select {
		case ev := <-events:
			a.record(&evidence, ev)
			if evidence.HasManifest() {
				// Restart the settling window on every event once a
				// manifest is in hand.
				if !quiet.Stop() {
					select {
					case <-quiet.C:
					default:
					}
				}
				quiet.Reset(a.config.QuietWindow)
			}
		case <-quiet.C:
			if evidence.HasManifest() {
				a.log.Infow("capture settled", "url", url, "manifests", len(evidence.ManifestURLs), "requests", len(evidence.Requests))
				return evidence, nil
			}
		case <-ctx.Done():
			if evidence.HasManifest() {
				return evidence, nil
			}
			return evidence, fmt.Errorf("%w: %s after %s", talkgrab.ErrCaptureTimeout, url, a.config.Timeout)
		}
	}
}

func (a *Agent) record(evidence *talkgrab.CaptureEvidence, ev browser.NetworkEvent) {
	evidence.Requests = append(evidence.Requests, talkgrab.NetworkRequest{
		URL:         ev.URL,
		ContentType: ev.ContentType,
		Size:        ev.Size,
	})
	if !isManifestCandidate(ev.URL, ev.ContentType) {
		return
	}
	if !containsString(evidence.ManifestURLs, ev.URL) {
		evidence.ManifestURLs = append(evidence.ManifestURLs, ev.URL)
		a.log.Debugw("manifest candidate", "url", ev.URL, "content_type", ev.ContentType)
	}
	if ev.Body != "" {
		evidence.ManifestBodies[ev.URL] = ev.Body
	}
}

func isManifestCandidate(url, contentType string) bool {
	lowered := strings.ToLower(url)
	for _, marker := range []string{".m3u8", ".mpd", "format=m3u8"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "mpegurl") || strings.Contains(ct, "dash+xml")
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
