// Package official is the last-resort acquisition strategy: drive the
// browser through the site's own download affordance and save whatever
// the site itself hands out. Used when the direct and manifest paths are
// blocked by DRM.
package official

import (
	"context"
	"time"

	"go.uber.org/zap"

	"talkgrab"
	"talkgrab/browser"
	"talkgrab/internal/files"
)

const StrategyName = "official"

// downloadSelectors are the known shapes of "download" controls,
// including the ones embedded players render. Tried in order.
var downloadSelectors = []string{
	"button[aria-label*='Download']",
	"button[aria-label*='download']",
	"[data-testid='downloadsButton']",
	"[data-testid='downloadButton']",
	".kin-pl-downloadsButton",
	"[class*='downloads'] button",
	"a[download]",
	"a[href*='.mp4']",
}

const startPlaybackJS = `
const videos = document.querySelectorAll('video');
for (const video of videos) { video.muted = true; video.play().catch(() => {}); }
`

type Config struct {
	// Timeout bounds the wait for the site to produce the download after
	// the control is clicked.
	Timeout time.Duration
}

type Strategy struct {
	browser    browser.Browser
	outputRoot string
	config     Config
	log        *zap.SugaredLogger
}

func New(b browser.Browser, outputRoot string, config Config) *Strategy {
	if config.Timeout <= 0 {
		config.Timeout = 180 * time.Second
	}
	return &Strategy{
		browser:    b,
		outputRoot: outputRoot,
		config:     config,
		log:        zap.S().Named("official"),
	}
}

func (s *Strategy) Name() string { return StrategyName }

func (s *Strategy) Attempt(ctx context.Context, task *talkgrab.Task, cookieSet talkgrab.CookieSet, _ talkgrab.Aux) talkgrab.StrategyOutcome {
	outputDir, err := files.DomainDir(s.outputRoot, task.URL)
	if err != nil {
		return talkgrab.Fatal(err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout+30*time.Second)
	defer cancel()

	session, err := s.browser.NewSession(ctx, cookieSet, nil)
	if err != nil {
		return talkgrab.Transient("opening browser session: " + err.Error())
	}
	defer session.Close()

	if err := session.Navigate(task.URL); err != nil {
		return talkgrab.Transient("navigating: " + err.Error())
	}

	// Playback often has to start before the player exposes its
	// download control.
	if err := session.Evaluate(startPlaybackJS); err != nil {
		s.log.Debugw("playback nudge failed", "url", task.URL, "error", err)
	}

	// Capture must be armed before the click: a download that starts
	// unarmed emits no events and is lost.
	if err := session.ArmDownloads(outputDir); err != nil {
		return talkgrab.Transient("arming download capture: " + err.Error())
	}
	if !session.ClickAny(downloadSelectors, 2*time.Second) {
		return talkgrab.Fatal("site exposes no recognized download control")
	}
	s.log.Infow("download control clicked, waiting", "url", task.URL, "timeout", s.config.Timeout)

	saved, err := session.AwaitDownload(s.config.Timeout)
	if err != nil {
		return talkgrab.Fatal("no download produced: " + err.Error())
	}
	s.log.Infow("official download saved", "url", task.URL, "file", saved)
	return talkgrab.Success(saved)
}
