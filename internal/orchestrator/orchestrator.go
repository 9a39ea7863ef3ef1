// Package orchestrator sequences the acquisition strategies per task:
// direct fetch first, manifest capture and DRM classification when the
// direct path is blocked, and the official browser download as the
// safety net for protected content. Progress is persisted after every
// state transition so a run is safe to interrupt and re-enter.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"talkgrab"
	"talkgrab/internal/locks"
)

// Store is the slice of the task store the orchestrator needs.
type Store interface {
	Get(url string) (*talkgrab.Task, error)
	Put(task *talkgrab.Task) error
}

type CookieResolver interface {
	Resolve(domain string) (talkgrab.CookieSet, error)
}

type CaptureAgent interface {
	Capture(ctx context.Context, url string, cookies talkgrab.CookieSet) (talkgrab.CaptureEvidence, error)
}

type Classifier func(talkgrab.CaptureEvidence) talkgrab.DrmVerdict

type Config struct {
	Store    Store
	Cookies  CookieResolver
	Direct   talkgrab.Strategy
	Capture  CaptureAgent
	Classify Classifier
	Official talkgrab.Strategy

	// Concurrency bounds parallel task processing. Tasks are independent;
	// the per-URL lock is the unit of mutual exclusion.
	Concurrency int
	// MaxTransientRetries caps attempts for a strategy that keeps
	// returning transient failures.
	MaxTransientRetries int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	// UnknownDRMPolicy routes the "unknown" verdict: "fail", "direct",
	// or "official".
	UnknownDRMPolicy string
	// RetryFailed re-queues tasks the store recorded as failed,
	// resetting their attempt counters but keeping resume tokens.
	RetryFailed bool
}

func (c *Config) applyDefaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxTransientRetries < 1 {
		c.MaxTransientRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.UnknownDRMPolicy == "" {
		c.UnknownDRMPolicy = "fail"
	}
}

type Orchestrator struct {
	config Config
	locks  *locks.Registry
	log    *zap.SugaredLogger
}

func New(config Config) (*Orchestrator, error) {
	config.applyDefaults()
	if config.Store == nil || config.Direct == nil || config.Capture == nil || config.Classify == nil || config.Official == nil {
		return nil, fmt.Errorf("orchestrator config is missing a component")
	}
	return &Orchestrator{
		config: config,
		locks:  locks.NewRegistry(),
		log:    zap.S().Named("orchestrator"),
	}, nil
}

// Run processes the URLs (duplicates collapse to one task each) and
// returns the per-task results. A task failure never aborts the run; the
// returned error reflects only run-level problems such as cancellation.
func (o *Orchestrator) Run(ctx context.Context, urls []string) (*Summary, error) {
	summary := newSummary()

	// Wait cancels the derived context, so run-level cancellation must be
	// judged by the parent context only.
	group, runCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.config.Concurrency)
	for _, url := range dedupe(urls) {
		url := url
		group.Go(func() error {
			summary.add(o.runOne(runCtx, url))
			return nil
		})
	}
	err := group.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil && err == nil {
		err = ctxErr
	}
	return summary, err
}

// runOne loads or creates the task for url and drives it through the
// state machine under the per-URL lock.
func (o *Orchestrator) runOne(ctx context.Context, url string) Result {
	if !o.locks.TryAcquire(url) {
		return Result{URL: url, Skipped: true, Code: "AlreadyActive"}
	}
	defer o.locks.Release(url)

	task, skip := o.loadTask(url)
	if skip != nil {
		return *skip
	}

	log := o.log.With("url", url)
	result := o.runTask(ctx, task, log)
	if err := o.config.Store.Put(task); err != nil {
		log.Errorw("failed to persist task", "error", err)
	}
	return result
}

// loadTask resolves the durable record for url. Succeeded tasks are
// never re-run; previously failed tasks are only re-queued when
// RetryFailed is set.
func (o *Orchestrator) loadTask(url string) (*talkgrab.Task, *Result) {
	task, err := o.config.Store.Get(url)
	if err != nil {
		o.log.Warnw("unreadable task record, starting fresh", "url", url, "error", err)
		task = nil
	}
	switch {
	case task == nil:
		return talkgrab.NewTask(url), nil
	case task.State == talkgrab.TaskStateSucceeded:
		return nil, &Result{URL: url, State: task.State, MediaRef: task.OutputPath, Skipped: true, Code: "AlreadyDone"}
	case task.State == talkgrab.TaskStateFailed && !o.config.RetryFailed:
		return nil, &Result{URL: url, State: task.State, Skipped: true, Code: task.LastError}
	case task.State == talkgrab.TaskStateFailed:
		if err := task.Reset(); err != nil {
			return talkgrab.NewTask(url), nil
		}
		return task, nil
	default:
		task.Reenter()
		return task, nil
	}
}

// runTask drives one task through the pipeline: cookies, direct fetch,
// then capture/classify, then the clear or official path, ending in a
// terminal state.
func (o *Orchestrator) runTask(ctx context.Context, task *talkgrab.Task, log *zap.SugaredLogger) Result {
	cookieSet := o.resolveCookies(task, log)
	o.advance(task, talkgrab.TaskStateCookiesResolved, log)

	outcome := o.attemptWithRetry(ctx, o.config.Direct, task, cookieSet, talkgrab.Aux{}, log)
	o.advance(task, talkgrab.TaskStateDirectAttempted, log)
	switch outcome.Kind {
	case talkgrab.OutcomeSuccess:
		return o.succeed(task, outcome.MediaRef, log)
	case talkgrab.OutcomeFatal:
		return o.fail(task, "Fatal", outcome.Reason, log)
	}
	if result := o.interrupted(ctx, task); result != nil {
		return *result
	}
	// unsupported, protected, or exhausted transient retries: the next
	// step is always manifest capture, never the official path directly.
	log.Infow("direct fetch blocked, capturing traffic", "outcome", string(outcome.Kind), "reason", outcome.Reason)

	evidence, err := o.config.Capture.Capture(ctx, task.URL, cookieSet)
	o.advance(task, talkgrab.TaskStateCaptureAttempted, log)
	if err != nil {
		if result := o.interrupted(ctx, task); result != nil {
			return *result
		}
		return o.fail(task, "CaptureTimeout", err.Error(), log)
	}

	verdict := o.config.Classify(evidence)
	o.advance(task, talkgrab.TaskStateClassified, log)
	log.Infow("classified", "verdict", string(verdict.Verdict), "evidence", verdict.Evidence)

	switch verdict.Verdict {
	case talkgrab.VerdictClear:
		return o.runClearPath(ctx, task, cookieSet, evidence, log)
	case talkgrab.VerdictProtected:
		return o.runOfficialPath(ctx, task, cookieSet, log)
	default:
		switch o.config.UnknownDRMPolicy {
		case "direct":
			return o.runClearPath(ctx, task, cookieSet, evidence, log)
		case "official":
			return o.runOfficialPath(ctx, task, cookieSet, log)
		default:
			return o.fail(task, "Fatal", "DRM verdict unknown: "+verdict.Evidence, log)
		}
	}
}

// runClearPath retries the direct fetch armed with the captured manifest.
func (o *Orchestrator) runClearPath(ctx context.Context, task *talkgrab.Task, cookieSet talkgrab.CookieSet, evidence talkgrab.CaptureEvidence, log *zap.SugaredLogger) Result {
	aux := talkgrab.Aux{}
	if evidence.HasManifest() {
		aux.ManifestURL = evidence.ManifestURLs[0]
		task.ResumeToken = "manifest:" + aux.ManifestURL
		if err := o.config.Store.Put(task); err != nil {
			log.Warnw("failed to persist manifest token", "error", err)
		}
	}
	outcome := o.attemptWithRetry(ctx, o.config.Direct, task, cookieSet, aux, log)
	if outcome.IsSuccess() {
		return o.succeed(task, outcome.MediaRef, log)
	}
	if result := o.interrupted(ctx, task); result != nil {
		return *result
	}
	if outcome.Kind == talkgrab.OutcomeProtected {
		// The manifest turned out to be license-gated after all; the
		// official path remains the safety net.
		log.Infow("clear-path fetch hit protection, escalating", "reason", outcome.Reason)
		return o.runOfficialPath(ctx, task, cookieSet, log)
	}
	return o.fail(task, taxonomyCode(outcome.Kind), outcome.Reason, log)
}

func (o *Orchestrator) runOfficialPath(ctx context.Context, task *talkgrab.Task, cookieSet talkgrab.CookieSet, log *zap.SugaredLogger) Result {
	outcome := o.attemptWithRetry(ctx, o.config.Official, task, cookieSet, talkgrab.Aux{}, log)
	o.advance(task, talkgrab.TaskStateOfficialAttempted, log)
	if outcome.IsSuccess() {
		return o.succeed(task, outcome.MediaRef, log)
	}
	if result := o.interrupted(ctx, task); result != nil {
		return *result
	}
	return o.fail(task, taxonomyCode(outcome.Kind), outcome.Reason, log)
}

// interrupted reports run cancellation as a skip instead of a task
// failure. The task is left in its current non-terminal state, so the
// next run re-enters it from the start.
func (o *Orchestrator) interrupted(ctx context.Context, task *talkgrab.Task) *Result {
	if ctx.Err() == nil {
		return nil
	}
	return &Result{
		URL:     task.URL,
		State:   task.State,
		Skipped: true,
		Code:    "Interrupted",
		Reason:  ctx.Err().Error(),
	}
}

// attemptWithRetry runs a strategy, retrying transient failures with
// exponential backoff up to the configured cap. Any other outcome is
// returned as-is on the first occurrence.
func (o *Orchestrator) attemptWithRetry(ctx context.Context, strategy talkgrab.Strategy, task *talkgrab.Task, cookieSet talkgrab.CookieSet, aux talkgrab.Aux, log *zap.SugaredLogger) talkgrab.StrategyOutcome {
	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = o.config.InitialBackoff
	wait.MaxInterval = o.config.MaxBackoff
	wait.MaxElapsedTime = 0
	wait.Reset()

	var outcome talkgrab.StrategyOutcome
	for attempt := 1; attempt <= o.config.MaxTransientRetries; attempt++ {
		task.RecordAttempt(strategy.Name())
		outcome = strategy.Attempt(ctx, task, cookieSet, aux)
		if outcome.Kind != talkgrab.OutcomeTransient {
			return outcome
		}
		if attempt == o.config.MaxTransientRetries {
			break
		}
		delay := wait.NextBackOff()
		log.Warnw("transient failure, backing off", "strategy", strategy.Name(), "attempt", attempt, "delay", delay, "reason", outcome.Reason)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return talkgrab.Transient(ctx.Err().Error())
		}
	}
	log.Warnw("transient retries exhausted", "strategy", strategy.Name(), "attempts", o.config.MaxTransientRetries)
	return outcome
}

func (o *Orchestrator) resolveCookies(task *talkgrab.Task, log *zap.SugaredLogger) talkgrab.CookieSet {
	if o.config.Cookies == nil {
		return talkgrab.CookieSet{Domain: task.Domain()}
	}
	cookieSet, err := o.config.Cookies.Resolve(task.Domain())
	if err != nil {
		// Recoverable: proceed anonymously and let downstream strategies
		// fail naturally on authorization.
		log.Warnw("cookies unavailable, continuing without", "error", err)
	}
	return cookieSet
}

// advance moves the task forward and persists the transition. Transition
// violations indicate an orchestrator bug and are logged, not silently
// swallowed.
func (o *Orchestrator) advance(task *talkgrab.Task, next talkgrab.TaskState, log *zap.SugaredLogger) {
	if err := task.Transition(next); err != nil {
		log.Errorw("state transition rejected", "error", err)
		return
	}
	if err := o.config.Store.Put(task); err != nil {
		log.Warnw("failed to persist state", "state", string(next), "error", err)
	}
}

func (o *Orchestrator) succeed(task *talkgrab.Task, mediaRef string, log *zap.SugaredLogger) Result {
	task.OutputPath = mediaRef
	task.LastError = ""
	o.advance(task, talkgrab.TaskStateSucceeded, log)
	log.Infow("task succeeded", "file", mediaRef)
	return Result{URL: task.URL, State: task.State, MediaRef: mediaRef}
}

func (o *Orchestrator) fail(task *talkgrab.Task, code, reason string, log *zap.SugaredLogger) Result {
	task.LastError = code
	o.advance(task, talkgrab.TaskStateFailed, log)
	log.Warnw("task failed", "code", code, "reason", reason)
	return Result{URL: task.URL, State: task.State, Code: code, Reason: reason}
}

func taxonomyCode(kind talkgrab.OutcomeKind) string {
	switch kind {
	case talkgrab.OutcomeUnsupported:
		return "Unsupported"
	case talkgrab.OutcomeProtected:
		return "Protected"
	case talkgrab.OutcomeTransient:
		return "TransientNetwork"
	default:
		return "Fatal"
	}
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
