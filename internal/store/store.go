// Package store holds the process-wide feed state. The state is changed only
// by dispatching one of the declared actions; every applied action is kept in
// an append-only transition log so snapshots always correspond to a prefix
// of that log.
package store

import (
	"fmt"
	"sync"
	"time"
)

// Action types accepted by Dispatch.
const (
	ActionAddPost      = "ADD_POST"
	ActionUpdateCursor = "UPDATE_CURSOR"
)

// Post is one publication in the feed.
type Post struct {
	Magnet  string `json:"magnet"`
	Content string `json:"content"`
}

// UIState tracks pagination. Ended is true when the last cursor update
// carried no cursor.
type UIState struct {
	Cursor string `json:"cursor"`
	Ended  bool   `json:"ended"`
}

// State is the full state tree.
type State struct {
	Publications []Post  `json:"publications"`
	UIState      UIState `json:"uiState"`
}

// Action is a declared state transition.
type Action struct {
	Type    string `json:"type"`
	Magnet  string `json:"magnet,omitempty"`
	Content string `json:"content,omitempty"`
	Cursor  string `json:"cursor,omitempty"`
}

// AddPost builds an ADD_POST action.
func AddPost(magnet, content string) Action {
	return Action{Type: ActionAddPost, Magnet: magnet, Content: content}
}

// UpdateCursor builds an UPDATE_CURSOR action. An empty cursor marks the feed
// as ended.
func UpdateCursor(cursor string) Action {
	return Action{Type: ActionUpdateCursor, Cursor: cursor}
}

// Transition is one entry of the transition log.
type Transition struct {
	Seq       int64     `json:"seq"`
	Action    Action    `json:"action"`
	AppliedAt time.Time `json:"applied_at"`
}

// Reduce applies action to state and returns the new state. It never mutates
// its input; unknown actions return the state unchanged.
func Reduce(state State, action Action) State {
	switch action.Type {
	case ActionAddPost:
		next := make([]Post, len(state.Publications), len(state.Publications)+1)
		copy(next, state.Publications)
		state.Publications = append(next, Post{Magnet: action.Magnet, Content: action.Content})
	case ActionUpdateCursor:
		state.UIState = UIState{Cursor: action.Cursor, Ended: action.Cursor == ""}
	}
	return state
}

func knownAction(kind string) bool {
	return kind == ActionAddPost || kind == ActionUpdateCursor
}

// Store is the single writer for State.
type Store struct {
	mu     sync.RWMutex
	state  State
	log    []Transition
	seq    int64
	clock  func() time.Time
	subs   map[*Subscription]struct{}
	subsMu sync.Mutex
}

// Option customizes store construction.
type Option func(*Store)

// WithClock overrides the clock used to stamp transitions.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithInitialState seeds the store. The seed is not recorded in the log.
func WithInitialState(state State) Option {
	return func(s *Store) {
		s.state = cloneState(state)
	}
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		clock: func() time.Time { return time.Now().UTC() },
		subs:  map[*Subscription]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Dispatch applies action and returns the sequence number assigned to it.
func (s *Store) Dispatch(action Action) (int64, error) {
	if !knownAction(action.Type) {
		return 0, fmt.Errorf("store: unknown action %q", action.Type)
	}
	s.mu.Lock()
	s.state = Reduce(s.state, action)
	s.seq++
	seq := s.seq
	s.log = append(s.log, Transition{Seq: seq, Action: action, AppliedAt: s.clock()})
	// held under mu: subscribers observe snapshots in log order
	s.publish(cloneState(s.state))
	s.mu.Unlock()
	return seq, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

// SnapshotWithSeq returns a copy of the current state together with the
// sequence number of the last action it includes.
func (s *Store) SnapshotWithSeq() (State, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state), s.seq
}

// Seq reports the sequence number of the last applied action.
func (s *Store) Seq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Log returns the transitions applied so far.
func (s *Store) Log() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transition, len(s.log))
	copy(out, s.log)
	return out
}

// Subscribe returns a subscription that receives a snapshot after every
// dispatch. A slow reader only sees the newest snapshot.
func (s *Store) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan State, 1), store: s}
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()
	return sub
}

func (s *Store) publish(snap State) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		sub.offer(snap)
	}
}

func (s *Store) unsubscribe(sub *Subscription) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.ch)
}

// Subscription delivers state snapshots.
type Subscription struct {
	ch    chan State
	store *Store
}

// C returns the snapshot channel. It is closed by Close.
func (sub *Subscription) C() <-chan State {
	return sub.ch
}

// Close stops delivery.
func (sub *Subscription) Close() {
	if sub == nil || sub.store == nil {
		return
	}
	sub.store.unsubscribe(sub)
}

// offer runs under subsMu, which serializes it against Close and other
// publishers.
func (sub *Subscription) offer(snap State) {
	select {
	case sub.ch <- snap:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snap:
	default:
	}
}

func cloneState(state State) State {
	out := state
	if state.Publications != nil {
		out.Publications = make([]Post, len(state.Publications))
		copy(out.Publications, state.Publications)
	}
	return out
}
