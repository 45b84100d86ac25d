// Package orchestrator runs the workflows that react to view intents: one
// watcher per workflow type reads its intents in order, starts runs that call
// the backend, and dispatches the results into the state store. A supervisor
// relaunches watchers that fail.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/sarafan/internal/backend"
	"github.com/kingrea/sarafan/internal/intent"
	"github.com/kingrea/sarafan/internal/store"
)

const (
	// DefaultRestartDelay spaces watcher relaunches.
	DefaultRestartDelay = 250 * time.Millisecond
	// DefaultHistory bounds the number of retained run records.
	DefaultHistory = 50
)

// Backend is the subset of the node API the workflows call.
type Backend interface {
	FetchPosts(ctx context.Context, cursor string) (backend.FeedPage, error)
	CreatePost(ctx context.Context, text, privateKey string) (backend.Estimate, error)
	PublishPost(ctx context.Context, magnet, privateKey string) (backend.PublishResult, error)
}

// Dispatcher applies state transitions. *store.Store satisfies it.
type Dispatcher interface {
	Dispatch(action store.Action) (int64, error)
}

// IntentSource hands out per-kind intent subscriptions. *intent.Router
// satisfies it.
type IntentSource interface {
	Subscribe(kind intent.Kind) intent.Subscription
}

// Logger matches logbook.Logbook's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Orchestrator owns the workflow watchers.
type Orchestrator struct {
	backend      Backend
	store        Dispatcher
	intents      IntentSource
	logger       Logger
	clock        func() time.Time
	restartDelay time.Duration

	mu          sync.Mutex
	autoPublish bool
	history     history
	compose     *composeRun
	restarts    map[Workflow]int
	running     bool

	runs sync.WaitGroup

	// onIntent runs on the watcher goroutine before an intent is handled.
	onIntent func(Workflow, intent.Intent)
}

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithAutoPublish makes the compose workflow publish right after the estimate
// instead of waiting for a confirmation intent.
func WithAutoPublish(enabled bool) Option {
	return func(o *Orchestrator) {
		o.autoPublish = enabled
	}
}

// WithRestartDelay overrides the pause before a failed watcher is relaunched.
func WithRestartDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.restartDelay = d
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock allows tests to control run timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithHistory overrides how many run records are kept.
func WithHistory(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.history.limit = n
		}
	}
}

// New wires the workflows to their collaborators.
func New(be Backend, st Dispatcher, intents IntentSource, opts ...Option) (*Orchestrator, error) {
	if be == nil {
		return nil, fmt.Errorf("orchestrator: backend is required")
	}
	if st == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	if intents == nil {
		return nil, fmt.Errorf("orchestrator: intent source is required")
	}
	o := &Orchestrator{
		backend:      be,
		store:        st,
		intents:      intents,
		logger:       nopLogger{},
		clock:        func() time.Time { return time.Now().UTC() },
		restartDelay: DefaultRestartDelay,
		history:      history{limit: DefaultHistory},
		restarts:     map[Workflow]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Run launches the watchers and blocks until ctx is cancelled and every
// in-flight run has settled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: already running")
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	fetches := o.intents.Subscribe(intent.KindFeedFetch)
	defer fetches.Close()
	creates := o.intents.Subscribe(intent.KindCreatePost)
	defer creates.Close()
	confirms := o.intents.Subscribe(intent.KindPublishEstimated)
	defer confirms.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.supervise(gctx, WorkflowFetch, func(wctx context.Context) error {
			return o.watchFetch(wctx, ctx, fetches.Intents)
		})
	})
	g.Go(func() error {
		return o.supervise(gctx, WorkflowCompose, func(wctx context.Context) error {
			return o.watchCompose(wctx, ctx, creates.Intents, confirms.Intents)
		})
	})
	o.logger.Printf("orchestrator: watchers started (auto publish %t)", o.AutoPublish())
	err := g.Wait()
	o.runs.Wait()
	o.logger.Printf("orchestrator: stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// supervise keeps one watcher alive until ctx ends. A watcher that returns
// or panics is relaunched after the restart delay.
func (o *Orchestrator) supervise(ctx context.Context, wf Workflow, watch func(context.Context) error) error {
	for {
		err := protect(func() error { return watch(ctx) })
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errSubscriptionClosed) {
			o.logger.Printf("warn: orchestrator: %s watcher has no intent source, stopping", wf)
			return nil
		}
		o.mu.Lock()
		o.restarts[wf]++
		o.mu.Unlock()
		o.logger.Printf("error: orchestrator: %s watcher failed: %v (restarting in %s)", wf, err, o.restartDelay)
		timer := time.NewTimer(o.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// protect converts a panic in fn into a *PanicError.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}

// AutoPublish reports whether compose runs skip the confirmation step.
func (o *Orchestrator) AutoPublish() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.autoPublish
}

// SetAutoPublish changes the compose behaviour for runs that have not yet
// reached the confirmation step.
func (o *Orchestrator) SetAutoPublish(enabled bool) {
	o.mu.Lock()
	o.autoPublish = enabled
	o.mu.Unlock()
}

// Runs returns the retained run records, oldest first.
func (o *Orchestrator) Runs() []Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.snapshot()
}

// RunByID looks up a retained run record by ID.
func (o *Orchestrator) RunByID(id string) (Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, run := range o.history.runs {
		if run.ID == id {
			return *run, true
		}
	}
	return Run{}, false
}

// ActiveDraft returns the draft of the current compose run, if one is still
// in progress.
func (o *Orchestrator) ActiveDraft() (Draft, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.compose == nil {
		return Draft{}, false
	}
	draft := o.compose.draft
	draft.RunPhase = o.compose.record.Phase
	return draft, true
}

// Restarts reports how many times the watcher for wf was relaunched.
func (o *Orchestrator) Restarts(wf Workflow) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.restarts[wf]
}

func (o *Orchestrator) startRun(wf Workflow, in intent.Intent) *Run {
	run := &Run{
		ID:        newRunID(),
		Workflow:  wf,
		IntentID:  in.ID,
		Phase:     PhaseIdle,
		StartedAt: o.clock(),
	}
	o.mu.Lock()
	o.history.add(run)
	o.mu.Unlock()
	return run
}

func (o *Orchestrator) setPhase(run *Run, phase Phase) {
	o.mu.Lock()
	run.Phase = phase
	o.mu.Unlock()
}

// finish records the outcome of a run. Errors other than supersession are
// wrapped in a *WorkflowAbort carrying the phase the run was in.
func (o *Orchestrator) finish(run *Run, err error) {
	o.mu.Lock()
	phase := run.Phase
	run.FinishedAt = o.clock()
	switch {
	case err == nil:
		run.Phase = PhaseDone
	case errors.Is(err, errSuperseded):
		run.Phase = PhaseSuperseded
	default:
		abort := &WorkflowAbort{Workflow: run.Workflow, RunID: run.ID, Phase: phase, Err: err}
		run.Phase = PhaseFailed
		run.Err = abort
		run.Error = abort.Error()
		err = abort
	}
	final := run.Phase
	o.mu.Unlock()

	switch final {
	case PhaseFailed:
		o.logger.Printf("error: %v", err)
	case PhaseSuperseded:
		o.logger.Printf("orchestrator: %s run %s superseded while %s", run.Workflow, run.ID, phase)
	default:
		o.logger.Printf("orchestrator: %s run %s done", run.Workflow, run.ID)
	}
}

func (o *Orchestrator) dispatch(action store.Action) error {
	if _, err := o.store.Dispatch(action); err != nil {
		return fmt.Errorf("dispatch %s: %w", action.Type, err)
	}
	return nil
}

func (o *Orchestrator) hook(wf Workflow, in intent.Intent) {
	if o.onIntent != nil {
		o.onIntent(wf, in)
	}
}
