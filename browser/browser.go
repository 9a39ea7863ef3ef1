// Package browser is the narrow automation surface the capture and
// official-download paths need: navigate, observe network traffic, poke
// the player, and receive files the site itself offers for download.
//
// Each session is an isolated, scarce resource: its own user-data
// directory (never the operator's live profile), opened per call and
// guaranteed closed on every exit path.
package browser

import (
	"context"
	"time"

	"talkgrab"
)

// A Browser opens isolated sessions. onEvent observes network traffic for
// the session's lifetime; it must return quickly and must not block.
type Browser interface {
	NewSession(ctx context.Context, cookies talkgrab.CookieSet, onEvent func(NetworkEvent)) (Session, error)
}

// A NetworkEvent is one observed request or response. Body is populated
// only for manifest-like responses whose body could be recovered.
type NetworkEvent struct {
	URL         string
	ContentType string
	Size        int64
	Body        string
}

// A Session is one live browser page.
type Session interface {
	Navigate(url string) error
	Title() (string, error)
	// ClickAny tries each selector in order with a per-selector timeout,
	// returning true as soon as one click lands.
	ClickAny(selectors []string, each time.Duration) bool
	Evaluate(js string) error
	// ArmDownloads enables the browser's download capture into dir. Must
	// be called before the control that triggers the download is clicked,
	// or the download events are lost.
	ArmDownloads(dir string) error
	// AwaitDownload blocks until an armed download completes or the
	// timeout elapses, returning the saved file's path.
	AwaitDownload(timeout time.Duration) (string, error)
	// Close tears the session down, including its temporary profile
	// directory. Safe to call more than once.
	Close()
}
