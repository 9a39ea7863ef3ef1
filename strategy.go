package talkgrab

import (
	"context"
	"errors"
)

var (
	// ErrCookieUnavailable means no cookie source matched, was empty, or
	// could not be read (e.g. locked by a running browser). Recoverable:
	// the orchestrator proceeds with an empty cookie set.
	ErrCookieUnavailable = errors.New("no usable cookies for domain")
	// ErrCaptureTimeout means no manifest-like request was observed before
	// the capture deadline.
	ErrCaptureTimeout = errors.New("no streaming manifest observed before timeout")
)

type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeUnsupported OutcomeKind = "unsupported"
	OutcomeProtected   OutcomeKind = "protected"
	OutcomeTransient   OutcomeKind = "transient"
	OutcomeFatal       OutcomeKind = "fatal"
)

// A StrategyOutcome is the uniform result contract of every acquisition
// strategy. No raw external-tool error crosses this boundary; strategies
// map everything into the closed outcome set.
type StrategyOutcome struct {
	Kind OutcomeKind
	// MediaRef is the acquired media on success: a file path, or a
	// manifest reference to hand to external processing.
	MediaRef string
	// Reason is a short human-readable justification for non-success
	// outcomes, suitable for the run summary.
	Reason string
}

func (o StrategyOutcome) IsSuccess() bool { return o.Kind == OutcomeSuccess }

func Success(mediaRef string) StrategyOutcome {
	return StrategyOutcome{Kind: OutcomeSuccess, MediaRef: mediaRef}
}

func Unsupported(reason string) StrategyOutcome {
	return StrategyOutcome{Kind: OutcomeUnsupported, Reason: reason}
}

func Protected(reason string) StrategyOutcome {
	return StrategyOutcome{Kind: OutcomeProtected, Reason: reason}
}

func Transient(reason string) StrategyOutcome {
	return StrategyOutcome{Kind: OutcomeTransient, Reason: reason}
}

func Fatal(reason string) StrategyOutcome {
	return StrategyOutcome{Kind: OutcomeFatal, Reason: reason}
}

// Aux carries optional strategy input resolved by an earlier stage.
type Aux struct {
	// ManifestURL is a streaming manifest captured from browser traffic,
	// supplied as a hint when retrying the direct fetch on a clear verdict.
	ManifestURL string
}

// A Strategy is one alternative acquisition path. Implementations must
// honour ctx cancellation and must terminate any external process they
// spawned before returning.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, task *Task, cookies CookieSet, aux Aux) StrategyOutcome
}
