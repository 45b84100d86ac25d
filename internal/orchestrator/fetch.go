package orchestrator

import (
	"context"

	"github.com/kingrea/sarafan/internal/intent"
	"github.com/kingrea/sarafan/internal/store"
)

// watchFetch starts an independent run for every fetch intent. Runs are never
// cancelled by later intents; overlapping runs all apply their results.
func (o *Orchestrator) watchFetch(ctx, runCtx context.Context, intents <-chan intent.Intent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-intents:
			if !ok {
				return errSubscriptionClosed
			}
			o.hook(WorkflowFetch, in)
			run := o.startRun(WorkflowFetch, in)
			o.runs.Add(1)
			go func() {
				defer o.runs.Done()
				o.finish(run, protect(func() error { return o.fetch(runCtx, run, in.Cursor) }))
			}()
		}
	}
}

// fetch loads one page and appends it: one ADD_POST per item in page order,
// then UPDATE_CURSOR with the next cursor.
func (o *Orchestrator) fetch(ctx context.Context, run *Run, cursor string) error {
	o.setPhase(run, PhaseFetching)
	page, err := o.backend.FetchPosts(ctx, cursor)
	if err != nil {
		return err
	}
	for _, item := range page.Items {
		if err := o.dispatch(store.AddPost(item.Magnet, item.Content)); err != nil {
			return err
		}
	}
	if err := o.dispatch(store.UpdateCursor(page.NextCursor)); err != nil {
		return err
	}
	o.logger.Printf("orchestrator: fetch run %s applied %d posts", run.ID, len(page.Items))
	return nil
}
