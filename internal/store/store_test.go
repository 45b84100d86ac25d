package store

import (
	"sync"
	"testing"
	"time"
)

func TestReduceAddPostAppends(t *testing.T) {
	initial := State{}
	next := Reduce(initial, AddPost("m1", "hi"))
	next = Reduce(next, AddPost("m1", "hi"))
	if len(initial.Publications) != 0 {
		t.Fatalf("reduce mutated its input")
	}
	if len(next.Publications) != 2 {
		t.Fatalf("expected duplicate add to append twice, got %d", len(next.Publications))
	}
	for _, post := range next.Publications {
		if post != (Post{Magnet: "m1", Content: "hi"}) {
			t.Fatalf("unexpected post %+v", post)
		}
	}
}

func TestReduceDoesNotAliasPublications(t *testing.T) {
	base := Reduce(State{}, AddPost("a", "1"))
	left := Reduce(base, AddPost("b", "2"))
	right := Reduce(base, AddPost("c", "3"))
	if left.Publications[1].Magnet != "b" || right.Publications[1].Magnet != "c" {
		t.Fatalf("branches share backing storage: %+v / %+v", left.Publications, right.Publications)
	}
}

func TestReduceUpdateCursorSetsEnded(t *testing.T) {
	state := Reduce(State{}, UpdateCursor("abc"))
	if state.UIState != (UIState{Cursor: "abc", Ended: false}) {
		t.Fatalf("unexpected ui state %+v", state.UIState)
	}
	state = Reduce(state, UpdateCursor(""))
	if state.UIState != (UIState{Cursor: "", Ended: true}) {
		t.Fatalf("expected ended after empty cursor, got %+v", state.UIState)
	}
	state = Reduce(state, UpdateCursor("def"))
	if state.UIState.Ended {
		t.Fatalf("ended must follow the last cursor update only")
	}
}

func TestReduceIgnoresUnknownAction(t *testing.T) {
	state := Reduce(State{}, AddPost("m1", "hi"))
	next := Reduce(state, Action{Type: "DELETE_POST"})
	if len(next.Publications) != 1 {
		t.Fatalf("unknown action changed state: %+v", next)
	}
}

func TestDispatchRecordsLog(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	if _, err := s.Dispatch(AddPost("m1", "hi")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	seq, err := s.Dispatch(UpdateCursor("abc"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if seq != 2 || s.Seq() != 2 {
		t.Fatalf("expected seq 2, got %d / %d", seq, s.Seq())
	}
	log := s.Log()
	if len(log) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(log))
	}
	if log[0].Seq != 1 || log[0].Action.Type != ActionAddPost || !log[0].AppliedAt.Equal(now) {
		t.Fatalf("unexpected first transition %+v", log[0])
	}
	snap := s.Snapshot()
	if len(snap.Publications) != 1 || snap.UIState.Cursor != "abc" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestDispatchRejectsUnknownAction(t *testing.T) {
	s := New()
	if _, err := s.Dispatch(Action{Type: "RESET"}); err == nil {
		t.Fatalf("expected error for unknown action")
	}
	if len(s.Log()) != 0 || s.Seq() != 0 {
		t.Fatalf("rejected action must not be logged")
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	s := New()
	_, _ = s.Dispatch(AddPost("m1", "hi"))
	snap := s.Snapshot()
	snap.Publications[0].Content = "changed"
	if s.Snapshot().Publications[0].Content != "hi" {
		t.Fatalf("snapshot mutation leaked into the store")
	}
}

func TestSnapshotMatchesLogReplay(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _ = s.Dispatch(AddPost("m", "c"))
				if j%5 == 0 {
					_, _ = s.Dispatch(UpdateCursor(""))
				}
			}
		}()
	}
	wg.Wait()
	replayed := State{}
	for _, tr := range s.Log() {
		replayed = Reduce(replayed, tr.Action)
	}
	snap := s.Snapshot()
	if len(replayed.Publications) != len(snap.Publications) || replayed.UIState != snap.UIState {
		t.Fatalf("snapshot diverges from log replay")
	}
	if len(snap.Publications) != 8*25 {
		t.Fatalf("expected %d posts, got %d", 8*25, len(snap.Publications))
	}
	for i, tr := range s.Log() {
		if tr.Seq != int64(i+1) {
			t.Fatalf("sequence gap at %d: %d", i, tr.Seq)
		}
	}
}

func TestSnapshotWithSeqIsConsistentUnderDispatch(t *testing.T) {
	s := New()
	const writers, perWriter = 4, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.Dispatch(AddPost("m", "c")); err != nil {
					t.Errorf("dispatch: %v", err)
					return
				}
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		state, seq := s.SnapshotWithSeq()
		if int64(len(state.Publications)) != seq {
			t.Fatalf("snapshot has %d posts but seq %d", len(state.Publications), seq)
		}
		select {
		case <-done:
			if state, seq := s.SnapshotWithSeq(); seq != writers*perWriter || len(state.Publications) != writers*perWriter {
				t.Fatalf("final snapshot seq %d posts %d", seq, len(state.Publications))
			}
			return
		default:
		}
	}
}

func TestSubscribeConvergesOnLatest(t *testing.T) {
	s := New()
	sub := s.Subscribe()
	defer sub.Close()
	for i := 0; i < 10; i++ {
		_, _ = s.Dispatch(AddPost("m", "c"))
	}
	select {
	case snap := <-sub.C():
		if len(snap.Publications) != 10 {
			t.Fatalf("expected latest snapshot with 10 posts, got %d", len(snap.Publications))
		}
	default:
		t.Fatalf("expected a snapshot")
	}
	select {
	case <-sub.C():
		t.Fatalf("stale snapshot left in channel")
	default:
	}
}

func TestSubscriptionClose(t *testing.T) {
	s := New()
	sub := s.Subscribe()
	sub.Close()
	sub.Close()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	if _, err := s.Dispatch(AddPost("m", "c")); err != nil {
		t.Fatalf("dispatch after close: %v", err)
	}
}

func TestInitialStateNotLogged(t *testing.T) {
	s := New(WithInitialState(State{Publications: []Post{{Magnet: "m0", Content: "seed"}}}))
	if len(s.Snapshot().Publications) != 1 || len(s.Log()) != 0 {
		t.Fatalf("unexpected seed handling")
	}
}
