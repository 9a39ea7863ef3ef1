package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkgrab"
	"talkgrab/browser"
)

type fakeSession struct {
	navigated string
	title     string
	closed    int
	// emitOnEvaluate is fired through the session's event callback when
	// the playback nudge runs, simulating the player fetching its stream.
	emitOnEvaluate []browser.NetworkEvent
	onEvent        func(browser.NetworkEvent)
}

func (s *fakeSession) Navigate(url string) error { s.navigated = url; return nil }
func (s *fakeSession) Title() (string, error)    { return s.title, nil }
func (s *fakeSession) ClickAny([]string, time.Duration) bool {
	return true
}
func (s *fakeSession) Evaluate(string) error {
	for _, ev := range s.emitOnEvaluate {
		s.onEvent(ev)
	}
	return nil
}
func (s *fakeSession) ArmDownloads(string) error {
	return errors.New("not supported")
}
func (s *fakeSession) AwaitDownload(time.Duration) (string, error) {
	return "", errors.New("not supported")
}
func (s *fakeSession) Close() { s.closed++ }

type fakeBrowser struct {
	session *fakeSession
	err     error
}

func (b *fakeBrowser) NewSession(_ context.Context, _ talkgrab.CookieSet, onEvent func(browser.NetworkEvent)) (browser.Session, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.session.onEvent = onEvent
	return b.session, nil
}

func fastConfig() Config {
	return Config{Timeout: 2 * time.Second, QuietWindow: 50 * time.Millisecond}
}

func TestCaptureRecordsManifest(t *testing.T) {
	session := &fakeSession{
		title: "Opening Keynote",
		emitOnEvaluate: []browser.NetworkEvent{
			{URL: "https://cdn.example.com/player.js", ContentType: "text/javascript", Size: 1000},
			{URL: "https://cdn.example.com/stream/master.m3u8", ContentType: "application/vnd.apple.mpegurl", Body: "#EXTM3U\n"},
			{URL: "https://cdn.example.com/stream/seg1.ts", ContentType: "video/mp2t", Size: 500000},
		},
	}
	agent := NewAgent(&fakeBrowser{session: session}, fastConfig())

	evidence, err := agent.Capture(context.Background(), "https://talks.example.com/video/1", talkgrab.CookieSet{})
	require.NoError(t, err)

	assert.Equal(t, "https://talks.example.com/video/1", session.navigated)
	assert.Equal(t, "Opening Keynote", evidence.PageTitle)
	assert.Len(t, evidence.Requests, 3)
	require.Len(t, evidence.ManifestURLs, 1)
	assert.Equal(t, "https://cdn.example.com/stream/master.m3u8", evidence.ManifestURLs[0])
	assert.Equal(t, "#EXTM3U\n", evidence.ManifestBodies["https://cdn.example.com/stream/master.m3u8"])
	assert.Equal(t, 1, session.closed)
}

func TestCaptureDeduplicatesManifestURLs(t *testing.T) {
	manifest := browser.NetworkEvent{URL: "https://cdn.example.com/live.mpd", ContentType: "application/dash+xml"}
	session := &fakeSession{emitOnEvaluate: []browser.NetworkEvent{manifest, manifest, manifest}}
	agent := NewAgent(&fakeBrowser{session: session}, fastConfig())

	evidence, err := agent.Capture(context.Background(), "https://talks.example.com/video/2", talkgrab.CookieSet{})
	require.NoError(t, err)
	assert.Len(t, evidence.ManifestURLs, 1)
	assert.Len(t, evidence.Requests, 3, "every request is still recorded")
}

func TestCaptureTimesOutWithoutManifest(t *testing.T) {
	session := &fakeSession{
		emitOnEvaluate: []browser.NetworkEvent{
			{URL: "https://cdn.example.com/app.js", ContentType: "text/javascript"},
		},
	}
	agent := NewAgent(&fakeBrowser{session: session}, Config{Timeout: 150 * time.Millisecond, QuietWindow: 50 * time.Millisecond})

	_, err := agent.Capture(context.Background(), "https://talks.example.com/video/3", talkgrab.CookieSet{})
	assert.True(t, errors.Is(err, talkgrab.ErrCaptureTimeout))
	assert.Equal(t, 1, session.closed, "session must be closed on timeout too")
}

func TestCaptureSessionOpenFailure(t *testing.T) {
	agent := NewAgent(&fakeBrowser{err: errors.New("browser not installed")}, fastConfig())
	_, err := agent.Capture(context.Background(), "https://talks.example.com/video/4", talkgrab.CookieSet{})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, talkgrab.ErrCaptureTimeout))
}

func TestIsManifestCandidate(t *testing.T) {
	tests := []struct {
		url, contentType string
		want             bool
	}{
		{"https://cdn.example.com/master.m3u8?sig=1", "", true},
		{"https://cdn.example.com/live.mpd", "", true},
		{"https://cdn.example.com/play?format=m3u8", "", true},
		{"https://cdn.example.com/play", "application/vnd.apple.mpegurl", true},
		{"https://cdn.example.com/play", "application/dash+xml", true},
		{"https://cdn.example.com/seg1.ts", "video/mp2t", false},
		{"https://cdn.example.com/app.js", "text/javascript", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isManifestCandidate(tt.url, tt.contentType), tt.url)
	}
}
