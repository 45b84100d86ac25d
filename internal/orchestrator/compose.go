package orchestrator

import (
	"context"

	"github.com/kingrea/sarafan/internal/intent"
	"github.com/kingrea/sarafan/internal/store"
)

// composeRun is the in-flight state of one create-and-publish run. draft and
// record.Phase are guarded by the orchestrator lock.
type composeRun struct {
	record     *Run
	intent     intent.Intent
	draft      Draft
	confirm    chan struct{}
	superseded chan struct{}
}

// watchCompose handles create and confirm intents. The latest create intent
// wins: starting a run supersedes the previous one. Creates already queued
// when a confirmation is read are started first, so a confirmation never
// reaches a draft that a newer create has replaced.
func (o *Orchestrator) watchCompose(ctx, runCtx context.Context, creates, confirms <-chan intent.Intent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-creates:
			if !ok {
				return errSubscriptionClosed
			}
			o.startCompose(runCtx, in)
		case in, ok := <-confirms:
			if !ok {
				return errSubscriptionClosed
			}
			o.hook(WorkflowCompose, in)
			if err := o.drainCreates(runCtx, creates); err != nil {
				return err
			}
			o.confirmCompose(in)
		}
	}
}

// drainCreates starts every create intent already queued, without blocking.
func (o *Orchestrator) drainCreates(runCtx context.Context, creates <-chan intent.Intent) error {
	for {
		select {
		case in, ok := <-creates:
			if !ok {
				return errSubscriptionClosed
			}
			o.startCompose(runCtx, in)
		default:
			return nil
		}
	}
}

func (o *Orchestrator) startCompose(runCtx context.Context, in intent.Intent) {
	o.hook(WorkflowCompose, in)
	run := o.beginCompose(in)
	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		err := protect(func() error { return o.runCompose(runCtx, run) })
		o.endCompose(run, err)
	}()
}

// beginCompose registers a new current run and supersedes the previous one.
func (o *Orchestrator) beginCompose(in intent.Intent) *composeRun {
	record := o.startRun(WorkflowCompose, in)
	run := &composeRun{
		record: record,
		intent: in,
		draft: Draft{
			RunID:      record.ID,
			Text:       in.Text,
			PrivateKey: in.PrivateKey,
			Phase:      DraftDrafted,
		},
		confirm:    make(chan struct{}, 1),
		superseded: make(chan struct{}),
	}
	o.mu.Lock()
	previous := o.compose
	o.compose = run
	o.mu.Unlock()
	if previous != nil {
		close(previous.superseded)
	}
	return run
}

// confirmCompose forwards a confirmation to the current run when it is
// waiting for one. Anything else is dropped.
func (o *Orchestrator) confirmCompose(in intent.Intent) {
	o.mu.Lock()
	run := o.compose
	waiting := run != nil && run.record.Phase == PhaseAwaitingConfirm
	o.mu.Unlock()
	if !waiting {
		o.logger.Printf("warn: orchestrator: publish confirmation %s dropped, no draft awaiting confirmation", in.ID)
		return
	}
	select {
	case run.confirm <- struct{}{}:
	default:
		o.logger.Printf("warn: orchestrator: publish confirmation %s dropped, run %s already confirmed", in.ID, run.record.ID)
	}
}

// runCompose estimates the draft, waits for confirmation unless auto publish is
// on, publishes, and appends the post. A superseded run stops at the next
// phase boundary; calls already in flight are left to complete.
func (o *Orchestrator) runCompose(ctx context.Context, run *composeRun) error {
	o.setPhase(run.record, PhaseEstimating)
	estimate, err := o.backend.CreatePost(ctx, run.intent.Text, run.intent.PrivateKey)
	if err != nil {
		return err
	}
	if run.isSuperseded() {
		return errSuperseded
	}

	o.mu.Lock()
	run.draft.Magnet = estimate.Magnet
	run.draft.Size = estimate.Size
	run.draft.Cost = estimate.Cost
	run.draft.Phase = DraftEstimated
	auto := o.autoPublish
	if !auto {
		run.record.Phase = PhaseAwaitingConfirm
	}
	o.mu.Unlock()
	o.logger.Printf("orchestrator: compose run %s estimated %s (size %d, cost %d)", run.record.ID, estimate.Magnet, estimate.Size, estimate.Cost)

	if !auto {
		select {
		case <-run.confirm:
		case <-run.superseded:
			return errSuperseded
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	o.setPhase(run.record, PhasePublishing)
	result, err := o.backend.PublishPost(ctx, estimate.Magnet, run.intent.PrivateKey)
	if err != nil {
		return err
	}
	// the post is live on the node even if this run was superseded meanwhile
	if err := o.dispatch(store.AddPost(estimate.Magnet, run.intent.Text)); err != nil {
		return err
	}
	o.logger.Printf("orchestrator: compose run %s published %s (%s)", run.record.ID, estimate.Magnet, result.Status)
	return nil
}

func (o *Orchestrator) endCompose(run *composeRun, err error) {
	o.finish(run.record, err)
	o.mu.Lock()
	if o.compose == run {
		o.compose = nil
	}
	o.mu.Unlock()
}

func (r *composeRun) isSuperseded() bool {
	select {
	case <-r.superseded:
		return true
	default:
		return false
	}
}
