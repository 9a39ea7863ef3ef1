package talkgrab

import (
	"fmt"
	"net/url"
	"time"
)

type TaskState string

const (
	TaskStateUndefined         TaskState = ""
	TaskStatePending           TaskState = "pending"
	TaskStateCookiesResolved   TaskState = "cookies_resolved"
	TaskStateDirectAttempted   TaskState = "direct_attempted"
	TaskStateCaptureAttempted  TaskState = "capture_attempted"
	TaskStateClassified        TaskState = "classified"
	TaskStateOfficialAttempted TaskState = "official_attempted"
	TaskStateSucceeded         TaskState = "succeeded"
	TaskStateFailed            TaskState = "failed"
)

// stateRank orders states along the pipeline. Terminal states share the
// highest rank; transitions must be strictly forward.
var stateRank = map[TaskState]int{
	TaskStatePending:           0,
	TaskStateCookiesResolved:   1,
	TaskStateDirectAttempted:   2,
	TaskStateCaptureAttempted:  3,
	TaskStateClassified:        4,
	TaskStateOfficialAttempted: 5,
	TaskStateSucceeded:         6,
	TaskStateFailed:            6,
}

// IsTerminal returns true if no further strategy will be attempted for a
// task in this state.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSucceeded || s == TaskStateFailed
}

// CanTransitionTo reports whether moving to next is a legal forward
// transition. The only backward move is the explicit retry reset from
// TaskStateFailed to TaskStatePending.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	if s == TaskStateFailed && next == TaskStatePending {
		return true
	}
	from, ok := stateRank[s]
	if !ok {
		return next == TaskStatePending
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to > from
}

// A Task is one URL to acquire. URL is the stable identity key; everything
// else is progress state owned by the orchestrator and persisted by the
// task store.
type Task struct {
	URL         string         `json:"url"`
	OutputPath  string         `json:"output_path,omitempty"`
	State       TaskState      `json:"state"`
	Attempts    map[string]int `json:"attempts,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	ResumeToken string         `json:"resume_token,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func NewTask(rawURL string) *Task {
	return &Task{
		URL:       rawURL,
		State:     TaskStatePending,
		Attempts:  make(map[string]int),
		UpdatedAt: time.Now(),
	}
}

// Domain returns the hostname of the task URL, or "unknown-domain" if the
// URL cannot be parsed.
func (t *Task) Domain() string {
	parsed, err := url.Parse(t.URL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown-domain"
	}
	return parsed.Hostname()
}

// RecordAttempt increments and returns the attempt count for a strategy.
func (t *Task) RecordAttempt(strategy string) int {
	if t.Attempts == nil {
		t.Attempts = make(map[string]int)
	}
	t.Attempts[strategy]++
	return t.Attempts[strategy]
}

// Transition moves the task to next, enforcing forward-only state
// progression.
func (t *Task) Transition(next TaskState) error {
	if !t.State.CanTransitionTo(next) {
		return fmt.Errorf("illegal task transition %q -> %q for %s", t.State, next, t.URL)
	}
	t.State = next
	t.UpdatedAt = time.Now()
	return nil
}

// Reset re-queues a failed task from the beginning. Attempt counters are
// cleared; the resume token survives so a partial download can continue.
func (t *Task) Reset() error {
	if err := t.Transition(TaskStatePending); err != nil {
		return err
	}
	t.Attempts = make(map[string]int)
	t.LastError = ""
	return nil
}

// Reenter puts a non-terminal task back at the start of the pipeline.
// Intermediate artifacts (browser sessions, capture evidence) are not
// persisted across process restarts, so a half-done task starts over;
// only the resume token carries forward.
func (t *Task) Reenter() {
	if t.State.IsTerminal() {
		return
	}
	t.State = TaskStatePending
	t.Attempts = make(map[string]int)
	t.LastError = ""
	t.UpdatedAt = time.Now()
}
