package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkgrab"
	"talkgrab/cookies"
)

// fakeRunner scripts the fetch tool: the first call is the probe, the
// second is the download.
type fakeRunner struct {
	calls  [][]string
	script []func(args []string) (string, string, error)
}

func (f *fakeRunner) Run(_ context.Context, args []string) (string, string, error) {
	f.calls = append(f.calls, args)
	if len(f.calls) > len(f.script) {
		return "", "", errors.New("unexpected tool invocation")
	}
	return f.script[len(f.calls)-1](args)
}

func hasArgPair(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func newDirect(t *testing.T, runner Runner) (*Direct, string) {
	t.Helper()
	root := t.TempDir()
	provider := cookies.NewProvider(cookies.Selector{Browser: "chrome", Profile: "Default"})
	return NewDirect(runner, provider, root), root
}

func TestDirectSuccessProducesFile(t *testing.T) {
	var root string
	runner := &fakeRunner{}
	runner.script = []func(args []string) (string, string, error){
		func(args []string) (string, string, error) {
			return filepath.Join(root, "talks.example.com", "My Talk.mp4") + "\n", "", nil
		},
		func(args []string) (string, string, error) {
			path := filepath.Join(root, "talks.example.com", "My Talk.mp4")
			require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
			return "", "", nil
		},
	}
	d, r := newDirect(t, runner)
	root = r

	task := talkgrab.NewTask("https://talks.example.com/video/42")
	outcome := d.Attempt(context.Background(), task, talkgrab.CookieSet{}, talkgrab.Aux{})

	require.Equal(t, talkgrab.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, filepath.Join(root, "talks.example.com", "My Talk.mp4"), outcome.MediaRef)
	require.Len(t, runner.calls, 2)
	assert.Contains(t, runner.calls[0], "--skip-download")
	assert.Contains(t, runner.calls[1], "--continue")
	assert.True(t, hasArgPair(runner.calls[1], "--add-headers", "Referer:https://talks.example.com/video/42"))
	assert.True(t, hasArgPair(runner.calls[1], "--add-headers", "Origin:https://talks.example.com"))
}

func TestDirectSkipsCompletedFile(t *testing.T) {
	var root string
	runner := &fakeRunner{}
	runner.script = []func(args []string) (string, string, error){
		func(args []string) (string, string, error) {
			return filepath.Join(root, "talks.example.com", "Done.mp4"), "", nil
		},
	}
	d, r := newDirect(t, runner)
	root = r
	dir := filepath.Join(root, "talks.example.com")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Done.mp4"), []byte("video"), 0o644))

	task := talkgrab.NewTask("https://talks.example.com/video/1")
	outcome := d.Attempt(context.Background(), task, talkgrab.CookieSet{}, talkgrab.Aux{})

	assert.Equal(t, talkgrab.OutcomeSuccess, outcome.Kind)
	assert.Len(t, runner.calls, 1, "a completed file must not trigger a download call")
}

func TestDirectRecordsResumeOffset(t *testing.T) {
	var root string
	runner := &fakeRunner{}
	runner.script = []func(args []string) (string, string, error){
		func(args []string) (string, string, error) {
			return filepath.Join(root, "talks.example.com", "Partial.mp4"), "", nil
		},
		func(args []string) (string, string, error) {
			path := filepath.Join(root, "talks.example.com", "Partial.mp4")
			require.NoError(t, os.Remove(path+".part"))
			require.NoError(t, os.WriteFile(path, []byte("full video"), 0o644))
			return "", "", nil
		},
	}
	d, r := newDirect(t, runner)
	root = r
	dir := filepath.Join(root, "talks.example.com")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Partial.mp4.part"), make([]byte, 2048), 0o644))

	task := talkgrab.NewTask("https://talks.example.com/video/2")
	outcome := d.Attempt(context.Background(), task, talkgrab.CookieSet{}, talkgrab.Aux{})

	assert.Equal(t, talkgrab.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, "offset:2048", task.ResumeToken)
}

func TestDirectManifestOverridesTarget(t *testing.T) {
	const manifest = "https://cdn.example.com/stream/master.m3u8"
	var root string
	runner := &fakeRunner{}
	runner.script = []func(args []string) (string, string, error){
		func(args []string) (string, string, error) {
			assert.Equal(t, manifest, args[len(args)-1])
			return filepath.Join(root, "talks.example.com", "Captured.mp4"), "", nil
		},
		func(args []string) (string, string, error) {
			assert.Equal(t, manifest, args[len(args)-1])
			// Referer still points at the page, not the manifest.
			assert.True(t, hasArgPair(args, "--add-headers", "Referer:https://talks.example.com/video/3"))
			path := filepath.Join(root, "talks.example.com", "Captured.mp4")
			require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
			return "", "", nil
		},
	}
	d, r := newDirect(t, runner)
	root = r

	task := talkgrab.NewTask("https://talks.example.com/video/3")
	outcome := d.Attempt(context.Background(), task, talkgrab.CookieSet{}, talkgrab.Aux{ManifestURL: manifest})
	assert.Equal(t, talkgrab.OutcomeSuccess, outcome.Kind)
}

func TestDirectCookieFileLifecycle(t *testing.T) {
	var cookiePath string
	runner := &fakeRunner{}
	runner.script = []func(args []string) (string, string, error){
		func(args []string) (string, string, error) {
			for i := 0; i < len(args)-1; i++ {
				if args[i] == "--cookies" {
					cookiePath = args[i+1]
				}
			}
			require.NotEmpty(t, cookiePath, "probe must carry the cookie file")
			data, err := os.ReadFile(cookiePath)
			require.NoError(t, err)
			assert.Contains(t, string(data), "session")
			return "", "", errors.New("exit status 1")
		},
	}
	d, _ := newDirect(t, runner)

	set := talkgrab.CookieSet{
		Domain:  "talks.example.com",
		Cookies: []talkgrab.Cookie{{Name: "session", Value: "abc"}},
	}
	task := talkgrab.NewTask("https://talks.example.com/video/4")
	d.Attempt(context.Background(), task, set, talkgrab.Aux{})

	_, err := os.Stat(cookiePath)
	assert.True(t, os.IsNotExist(err), "temp cookie file must be removed after the attempt")
}

func TestDirectProbeFailureShortCircuits(t *testing.T) {
	runner := &fakeRunner{}
	runner.script = []func(args []string) (string, string, error){
		func(args []string) (string, string, error) {
			return "", "ERROR: Unsupported URL: https://talks.example.com/video/5", errors.New("exit status 1")
		},
	}
	d, _ := newDirect(t, runner)

	task := talkgrab.NewTask("https://talks.example.com/video/5")
	outcome := d.Attempt(context.Background(), task, talkgrab.CookieSet{}, talkgrab.Aux{})

	assert.Equal(t, talkgrab.OutcomeUnsupported, outcome.Kind)
	assert.Len(t, runner.calls, 1)
}

func TestDirectFallbackIgnoresOtherTasksFiles(t *testing.T) {
	var root string
	runner := &fakeRunner{}
	runner.script = []func(args []string) (string, string, error){
		func(args []string) (string, string, error) {
			return filepath.Join(root, "talks.example.com", "Expected.mp4"), "", nil
		},
		func(args []string) (string, string, error) {
			// Tool lands on a different container than the probe predicted.
			path := filepath.Join(root, "talks.example.com", "Actual.webm")
			require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
			return "", "", nil
		},
	}
	d, r := newDirect(t, runner)
	root = r
	dir := filepath.Join(root, "talks.example.com")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// A sibling task's earlier output in the shared per-domain dir.
	other := filepath.Join(dir, "Other Talk.mp4")
	require.NoError(t, os.WriteFile(other, []byte("someone else"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(other, old, old))

	task := talkgrab.NewTask("https://talks.example.com/video/6")
	outcome := d.Attempt(context.Background(), task, talkgrab.CookieSet{}, talkgrab.Aux{})

	require.Equal(t, talkgrab.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, filepath.Join(dir, "Actual.webm"), outcome.MediaRef)
}

func TestMapToolFailure(t *testing.T) {
	exitErr := errors.New("exit status 1")
	tests := []struct {
		name   string
		stderr string
		err    error
		kind   talkgrab.OutcomeKind
	}{
		{"unsupported url", "ERROR: Unsupported URL: https://x", exitErr, talkgrab.OutcomeUnsupported},
		{"no extractor", "ERROR: no suitable extractor found", exitErr, talkgrab.OutcomeUnsupported},
		{"drm", "ERROR: This video is DRM protected", exitErr, talkgrab.OutcomeProtected},
		{"login", "ERROR: Login required to access this video", exitErr, talkgrab.OutcomeProtected},
		{"forbidden", "ERROR: unable to fetch: HTTP Error 403: Forbidden", exitErr, talkgrab.OutcomeProtected},
		{"timeout", "ERROR: Connection timed out", exitErr, talkgrab.OutcomeTransient},
		{"rate limited", "ERROR: HTTP Error 429: Too Many Requests", exitErr, talkgrab.OutcomeTransient},
		{"reset", "ERROR: connection reset by peer", exitErr, talkgrab.OutcomeTransient},
		{"deadline", "", context.DeadlineExceeded, talkgrab.OutcomeTransient},
		{"unknown", "ERROR: something nobody has seen before", exitErr, talkgrab.OutcomeFatal},
		{"empty stderr", "", exitErr, talkgrab.OutcomeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := mapToolFailure(tt.stderr, tt.err)
			assert.Equal(t, tt.kind, outcome.Kind)
			assert.NotEmpty(t, outcome.Reason)
		})
	}
}

func TestFirstLinePicksMatchingLine(t *testing.T) {
	stderr := "WARNING: something benign\nERROR: HTTP Error 403: Forbidden\ntrailer"
	line := firstLine(stderr, "http error 403")
	assert.True(t, strings.HasPrefix(line, "ERROR:"))
}
