package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"talkgrab"
	"talkgrab/internal/files"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Chrome drives a chromium instance over the DevTools protocol.
type Chrome struct {
	Headless bool
	log      *zap.SugaredLogger
}

func NewChrome(headless bool) *Chrome {
	return &Chrome{
		Headless: headless,
		log:      zap.S().Named("browser"),
	}
}

func (b *Chrome) NewSession(ctx context.Context, cookies talkgrab.CookieSet, onEvent func(NetworkEvent)) (Session, error) {
	userDataDir, err := os.MkdirTemp("", "talkgrab-profile-"+uuid.NewString()[:8]+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating session profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.UserAgent(userAgent),
		chromedp.UserDataDir(userDataDir),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:         taskCtx,
		userDataDir: userDataDir,
		downloads:   make(map[string]string),
		completed:   make(chan string, 4),
		log:         b.log,
		cancel: func() {
			taskCancel()
			allocCancel()
		},
	}

	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if onEvent != nil {
				onEvent(NetworkEvent{URL: e.Request.URL})
			}
		case *network.EventResponseReceived:
			s.handleResponse(e, onEvent)
		case *cdpbrowser.EventDownloadWillBegin:
			s.mu.Lock()
			s.downloads[e.GUID] = e.SuggestedFilename
			s.mu.Unlock()
		case *cdpbrowser.EventDownloadProgress:
			if e.State == cdpbrowser.DownloadProgressStateCompleted {
				select {
				case s.completed <- e.GUID:
				default:
				}
			}
		}
	})

	if err := chromedp.Run(taskCtx,
		network.Enable(),
		setCookiesAction(cookies),
	); err != nil {
		s.Close()
		return nil, fmt.Errorf("starting browser session: %w", err)
	}
	return s, nil
}

func setCookiesAction(cookies talkgrab.CookieSet) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies.Cookies {
			domain := c.Domain
			if domain == "" {
				domain = cookies.Domain
			}
			path := c.Path
			if path == "" {
				path = "/"
			}
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(domain).
				WithPath(path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if !c.Expires.IsZero() {
				expires := cdp.TimeSinceEpoch(c.Expires)
				param = param.WithExpires(&expires)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("setting cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

type chromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	userDataDir string
	log         *zap.SugaredLogger

	mu          sync.Mutex
	downloads   map[string]string // download GUID -> suggested filename
	downloadDir string
	completed   chan string
	closeOnce   sync.Once
}

// manifestLike mirrors the capture heuristics so response bodies are only
// pulled for candidate manifests.
func manifestLike(url, contentType string) bool {
	lowered := strings.ToLower(url)
	if strings.Contains(lowered, ".m3u8") || strings.Contains(lowered, ".mpd") || strings.Contains(lowered, "format=m3u8") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "mpegurl") || strings.Contains(ct, "dash+xml")
}

func (s *chromeSession) handleResponse(e *network.EventResponseReceived, onEvent func(NetworkEvent)) {
	if onEvent == nil {
		return
	}
	event := NetworkEvent{
		URL:         e.Response.URL,
		ContentType: e.Response.MimeType,
		Size:        int64(e.Response.EncodedDataLength),
	}
	if !manifestLike(event.URL, event.ContentType) {
		onEvent(event)
		return
	}
	// Body retrieval must not block the event listener.
	requestID := e.RequestID
	go func() {
		c := chromedp.FromContext(s.ctx)
		if c == nil {
			onEvent(event)
			return
		}
		execCtx := cdp.WithExecutor(s.ctx, c.Target)
		body, err := network.GetResponseBody(requestID).Do(execCtx)
		if err != nil {
			s.log.Debugw("manifest body unavailable", "url", event.URL, "error", err)
		} else {
			event.Body = string(body)
		}
		onEvent(event)
	}()
}

func (s *chromeSession) Navigate(url string) error {
	return chromedp.Run(s.ctx, chromedp.Navigate(url))
}

func (s *chromeSession) Title() (string, error) {
	var title string
	err := chromedp.Run(s.ctx, chromedp.Title(&title))
	return title, err
}

func (s *chromeSession) ClickAny(selectors []string, each time.Duration) bool {
	for _, sel := range selectors {
		clickCtx, cancel := context.WithTimeout(s.ctx, each)
		err := chromedp.Run(clickCtx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible))
		cancel()
		if err == nil {
			s.log.Debugw("clicked", "selector", sel)
			return true
		}
	}
	return false
}

func (s *chromeSession) Evaluate(js string) error {
	return chromedp.Run(s.ctx, chromedp.Evaluate(js, nil))
}

func (s *chromeSession) ArmDownloads(dir string) error {
	err := chromedp.Run(s.ctx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(dir).
			WithEventsEnabled(true),
	)
	if err != nil {
		return fmt.Errorf("arming download capture: %w", err)
	}
	s.mu.Lock()
	s.downloadDir = dir
	s.mu.Unlock()
	return nil
}

func (s *chromeSession) AwaitDownload(timeout time.Duration) (string, error) {
	s.mu.Lock()
	dir := s.downloadDir
	s.mu.Unlock()
	if dir == "" {
		return "", fmt.Errorf("download capture was never armed")
	}

	select {
	case guid := <-s.completed:
		s.mu.Lock()
		suggested := s.downloads[guid]
		s.mu.Unlock()
		// AllowAndName saves under the GUID; give it back its name.
		source := filepath.Join(dir, guid)
		target := filepath.Join(dir, files.SanitizeFilename(suggested))
		if err := os.Rename(source, target); err != nil {
			return source, nil
		}
		return target, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("no download completed within %s", timeout)
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	}
}

func (s *chromeSession) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := os.RemoveAll(s.userDataDir); err != nil {
			s.log.Warnw("failed to remove session profile dir", "dir", s.userDataDir, "error", err)
		}
	})
}
