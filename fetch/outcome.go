package fetch

import (
	"context"
	"errors"
	"strings"

	"talkgrab"
)

// failurePatterns is the single place that encodes the fetch tool's
// stderr quirks. Checked in order; first match wins.
var failurePatterns = []struct {
	substr string
	kind   talkgrab.OutcomeKind
}{
	{"unsupported url", talkgrab.OutcomeUnsupported},
	{"is not a valid url", talkgrab.OutcomeUnsupported},
	{"no suitable extractor", talkgrab.OutcomeUnsupported},

	{"drm", talkgrab.OutcomeProtected},
	{"this video is protected", talkgrab.OutcomeProtected},
	{"login required", talkgrab.OutcomeProtected},
	{"sign in to confirm", talkgrab.OutcomeProtected},
	{"http error 401", talkgrab.OutcomeProtected},
	{"http error 403", talkgrab.OutcomeProtected},

	{"timed out", talkgrab.OutcomeTransient},
	{"timeout", talkgrab.OutcomeTransient},
	{"connection reset", talkgrab.OutcomeTransient},
	{"connection refused", talkgrab.OutcomeTransient},
	{"temporary failure", talkgrab.OutcomeTransient},
	{"http error 429", talkgrab.OutcomeTransient},
	{"http error 500", talkgrab.OutcomeTransient},
	{"http error 502", talkgrab.OutcomeTransient},
	{"http error 503", talkgrab.OutcomeTransient},
	{"unable to download", talkgrab.OutcomeTransient},
}

// mapToolFailure converts a failed tool invocation into a strategy
// outcome. Unrecognized failures are fatal: retrying an unknown error
// class is how runs end up looping forever.
func mapToolFailure(stderr string, err error) talkgrab.StrategyOutcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return talkgrab.Transient(err.Error())
	}
	lowered := strings.ToLower(stderr)
	for _, pattern := range failurePatterns {
		if strings.Contains(lowered, pattern.substr) {
			return talkgrab.StrategyOutcome{Kind: pattern.kind, Reason: firstLine(stderr, pattern.substr)}
		}
	}
	reason := strings.TrimSpace(stderr)
	if reason == "" {
		reason = err.Error()
	}
	return talkgrab.Fatal(reason)
}

// firstLine returns the stderr line containing the matched pattern, for
// the run summary.
func firstLine(stderr, substr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		if strings.Contains(strings.ToLower(line), substr) {
			return strings.TrimSpace(line)
		}
	}
	return substr
}
