package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Workflow names a workflow type. There is one watcher per workflow.
type Workflow string

const (
	WorkflowFetch   Workflow = "fetch"
	WorkflowCompose Workflow = "compose"
)

// Phase enumerates run phases across both workflows.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseFetching        Phase = "fetching"
	PhaseEstimating      Phase = "estimating"
	PhaseAwaitingConfirm Phase = "awaiting_confirm"
	PhasePublishing      Phase = "publishing"
	PhaseDone            Phase = "done"
	PhaseFailed          Phase = "failed"
	PhaseSuperseded      Phase = "superseded"
)

// Terminal reports whether no further transitions follow p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseDone, PhaseFailed, PhaseSuperseded:
		return true
	default:
		return false
	}
}

// Run is the observable record of one workflow run.
type Run struct {
	ID         string    `json:"id"`
	Workflow   Workflow  `json:"workflow"`
	IntentID   string    `json:"intent_id"`
	Phase      Phase     `json:"phase"`
	Error      string    `json:"error,omitempty"`
	Err        error     `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// DraftPhase tracks the compose draft lifecycle.
type DraftPhase string

const (
	DraftDrafted   DraftPhase = "drafted"
	DraftEstimated DraftPhase = "estimated"
)

// Draft is the post being composed by the current compose run.
type Draft struct {
	RunID      string     `json:"run_id"`
	Text       string     `json:"text"`
	PrivateKey string     `json:"-"`
	Magnet     string     `json:"magnet,omitempty"`
	Size       int64      `json:"size,omitempty"`
	Cost       int64      `json:"cost,omitempty"`
	Phase      DraftPhase `json:"phase"`
	RunPhase   Phase      `json:"run_phase"`
}

// WorkflowAbort wraps the error that ended a run.
type WorkflowAbort struct {
	Workflow Workflow
	RunID    string
	Phase    Phase
	Err      error
}

func (e *WorkflowAbort) Error() string {
	return fmt.Sprintf("orchestrator: %s run %s aborted while %s: %v", e.Workflow, e.RunID, e.Phase, e.Err)
}

func (e *WorkflowAbort) Unwrap() error {
	return e.Err
}

var (
	errSuperseded         = errors.New("superseded by a newer create request")
	errSubscriptionClosed = errors.New("intent subscription closed")
)

// PanicError carries a value recovered from a panicking run or watcher.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// history is a bounded list of run records, oldest first. Callers hold the
// orchestrator lock.
type history struct {
	limit int
	runs  []*Run
}

func (h *history) add(run *Run) {
	h.runs = append(h.runs, run)
	if h.limit > 0 && len(h.runs) > h.limit {
		h.runs = h.runs[len(h.runs)-h.limit:]
	}
}

func (h *history) snapshot() []Run {
	out := make([]Run, 0, len(h.runs))
	for _, run := range h.runs {
		out = append(out, *run)
	}
	return out
}

func newRunID() string {
	return uuid.NewString()
}
