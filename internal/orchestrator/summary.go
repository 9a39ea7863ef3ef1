package orchestrator

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"talkgrab"
)

// A Result is the outcome of one task in this run.
type Result struct {
	URL      string
	State    talkgrab.TaskState
	MediaRef string
	// Code is the failure taxonomy code (Unsupported, Protected,
	// TransientNetwork, CaptureTimeout, Fatal) or a skip reason.
	Code   string
	Reason string
	// Skipped tasks were not processed in this run: already succeeded,
	// previously failed without --retry, or locked by a concurrent run.
	Skipped bool
}

type Summary struct {
	mu        sync.Mutex
	Succeeded []Result
	Failed    []Result
	Skipped   []Result
}

func newSummary() *Summary {
	return &Summary{}
}

func (s *Summary) add(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case r.Skipped:
		s.Skipped = append(s.Skipped, r)
	case r.State == talkgrab.TaskStateSucceeded:
		s.Succeeded = append(s.Succeeded, r)
	default:
		s.Failed = append(s.Failed, r)
	}
}

// Err aggregates this run's failures, or nil if every processed task
// succeeded.
func (s *Summary) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result error
	for _, r := range s.Failed {
		result = multierror.Append(result, fmt.Errorf("%s: %s (%s)", r.URL, r.Code, r.Reason))
	}
	return result
}

// DomainStats counts per-domain totals and successes for the run report.
func (s *Summary) DomainStats() map[string][2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[string][2]int)
	tally := func(results []Result, success bool) {
		for _, r := range results {
			domain := (&talkgrab.Task{URL: r.URL}).Domain()
			entry := stats[domain]
			entry[0]++
			if success {
				entry[1]++
			}
			stats[domain] = entry
		}
	}
	tally(s.Succeeded, true)
	tally(s.Failed, false)
	return stats
}
