// Package fetch is the direct acquisition strategy: it delegates the
// actual stream fetch to the external media-fetch tool (yt-dlp) and maps
// the tool's ambiguous exit signalling into the closed strategy outcome
// set.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"talkgrab"
	"talkgrab/cookies"
	"talkgrab/internal/files"
)

const StrategyName = "direct"

type Direct struct {
	runner  Runner
	cookies *cookies.Provider
	// outputRoot is the base directory; each task downloads into its
	// per-domain subdirectory.
	outputRoot string
	log        *zap.SugaredLogger
}

func NewDirect(runner Runner, provider *cookies.Provider, outputRoot string) *Direct {
	return &Direct{
		runner:     runner,
		cookies:    provider,
		outputRoot: outputRoot,
		log:        zap.S().Named("fetch"),
	}
}

func (d *Direct) Name() string { return StrategyName }

// Attempt probes the target first so an already-complete file short
// circuits to success without re-downloading, then runs the fetch. When
// aux carries a captured manifest the tool is pointed at the manifest
// instead of the page URL, with the page URL kept as Referer.
func (d *Direct) Attempt(ctx context.Context, task *talkgrab.Task, cookieSet talkgrab.CookieSet, aux talkgrab.Aux) talkgrab.StrategyOutcome {
	outputDir, err := files.DomainDir(d.outputRoot, task.URL)
	if err != nil {
		return talkgrab.Fatal(err.Error())
	}
	files.SweepLeftovers(outputDir)

	target := task.URL
	if aux.ManifestURL != "" {
		target = aux.ManifestURL
	}

	cookieArgs, cleanup, err := d.cookieArgs(cookieSet)
	if err != nil {
		// Degrade to anonymous fetch; the site will reject us if auth
		// actually mattered.
		d.log.Warnw("fetching without cookies", "url", task.URL, "error", err)
	}
	defer cleanup()

	expected, outcome := d.probe(ctx, task, target, outputDir, cookieArgs)
	if outcome != nil {
		return *outcome
	}
	if expected != "" && files.ShouldSkip(expected) {
		d.log.Infow("already downloaded", "url", task.URL, "file", expected)
		return talkgrab.Success(expected)
	}
	if offset := files.PartialOffset(expected); offset > 0 {
		task.ResumeToken = files.OffsetToken(offset)
		d.log.Infow("resuming partial download", "url", task.URL, "offset", offset)
	}

	args := d.downloadArgs(task, target, outputDir, cookieArgs)
	d.log.Infow("starting fetch", "url", task.URL, "target", target)
	// Truncated so coarse filesystem mtimes don't exclude files written
	// in the same second the fetch started.
	started := time.Now().Truncate(time.Second)
	_, stderr, err := d.runner.Run(ctx, args)
	if err != nil {
		return mapToolFailure(stderr, err)
	}

	if expected != "" {
		if _, statErr := os.Stat(expected); statErr == nil {
			return talkgrab.Success(expected)
		}
	}
	// The tool can legitimately land on a different container extension
	// than the probe predicted; fall back to the newest file this fetch
	// produced. The dir is shared per domain, so only files written since
	// the fetch started count.
	if produced := newestFileSince(outputDir, started); produced != "" {
		return talkgrab.Success(produced)
	}
	return talkgrab.Fatal("fetch tool reported success but produced no file")
}

// probe resolves the expected output filename without downloading. A
// probe failure is mapped like any other tool failure so unsupported
// sites are detected before any bytes move.
func (d *Direct) probe(ctx context.Context, task *talkgrab.Task, target, outputDir string, cookieArgs []string) (string, *talkgrab.StrategyOutcome) {
	args := append([]string{
		"--skip-download",
		"--no-warnings",
		"--print", "filename",
		"-o", outputTemplate(outputDir),
	}, cookieArgs...)
	args = append(args, headerArgs(task.URL)...)
	args = append(args, target)

	stdout, stderr, err := d.runner.Run(ctx, args)
	if err != nil {
		outcome := mapToolFailure(stderr, err)
		return "", &outcome
	}
	expected := strings.TrimSpace(stdout)
	if idx := strings.LastIndexByte(expected, '\n'); idx >= 0 {
		expected = strings.TrimSpace(expected[idx+1:])
	}
	return expected, nil
}

func (d *Direct) downloadArgs(task *talkgrab.Task, target, outputDir string, cookieArgs []string) []string {
	args := []string{
		"--no-warnings",
		"--newline",
		"--progress",
		"--continue",
		"--no-overwrites",
		"--no-playlist",
		"--concurrent-fragments", "8",
		"--socket-timeout", "60",
		"--merge-output-format", "mp4",
		"--embed-metadata",
		"--postprocessor-args", "ffmpeg:-movflags +faststart",
		"-o", outputTemplate(outputDir),
	}
	args = append(args, cookieArgs...)
	args = append(args, headerArgs(task.URL)...)
	return append(args, target)
}

func outputTemplate(outputDir string) string {
	return filepath.Join(outputDir, "%(title).100B.%(ext)s")
}

// headerArgs sets Referer/Origin to the task page, which many stream
// hosts require even with valid cookies.
func headerArgs(pageURL string) []string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Hostname() == "" {
		return nil
	}
	origin := parsed.Scheme + "://" + parsed.Host
	return []string{
		"--add-headers", "Referer:" + pageURL,
		"--add-headers", "Origin:" + origin,
	}
}

// cookieArgs materializes the cookie set as a private Netscape file for
// --cookies, or falls back to tool-side extraction from the resolved
// browser profile. cleanup always safe to call.
func (d *Direct) cookieArgs(cookieSet talkgrab.CookieSet) (args []string, cleanup func(), err error) {
	cleanup = func() {}
	if !cookieSet.IsEmpty() {
		f, err := os.CreateTemp("", "talkgrab-cookies-*.txt")
		if err != nil {
			return nil, cleanup, err
		}
		if err := cookies.WriteNetscape(f, cookieSet); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, cleanup, err
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return nil, cleanup, err
		}
		name := f.Name()
		return []string{"--cookies", name}, func() { os.Remove(name) }, nil
	}
	if d.cookies == nil || d.cookies.FromFile() {
		return nil, cleanup, fmt.Errorf("no cookies available")
	}
	profile, err := d.cookies.Profile()
	if err != nil {
		return nil, cleanup, err
	}
	spec := d.cookies.Browser()
	if profile != "" {
		spec += ":" + profile
	}
	return []string{"--cookies-from-browser", spec}, cleanup, nil
}

func newestFileSince(dir string, since time.Time) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.Contains(name, ".part") || strings.HasSuffix(name, ".ytdl") || name == "titles.txt" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(since) {
			// Another task's output, or a leftover from an earlier run.
			continue
		}
		if info.ModTime().After(newestMod) {
			newestMod = info.ModTime()
			newest = filepath.Join(dir, name)
		}
	}
	return newest
}
