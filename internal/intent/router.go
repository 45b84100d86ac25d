package intent

import (
	"sync"

	"github.com/google/uuid"
)

const (
	defaultSubscriberCapacity = 64
	defaultBacklogLimit       = 32
	defaultDedupeWindow       = 1024
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router delivers intents to kind-specific subscribers with buffering,
// deduplication, and bounded channel semantics.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[Kind]map[*subscriber]struct{}
	backlog      map[Kind][]Intent
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
}

// Subscription represents an active kind subscription.
type Subscription struct {
	Intents <-chan Intent
	cancel  func()
}

// Close terminates the subscription and closes Intents.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with defaults suited to a single view.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[Kind]map[*subscriber]struct{}{},
		backlog:      map[Kind][]Intent{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
		logger:       nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// WithLogger injects a logger for drop messages.
func WithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSubscriberCapacity overrides the buffered channel size per subscriber.
func WithSubscriberCapacity(capacity int) RouterOption {
	return func(r *Router) {
		if capacity > 0 {
			r.channelSize = capacity
		}
	}
}

// WithBacklogLimit overrides the backlog size for intents issued before any
// watcher subscribed.
func WithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// WithDedupeWindow controls how many recent intent IDs are retained.
func WithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Subscribe registers for intents of the given kind. Intents buffered before
// the first subscriber arrived are delivered first, in issue order.
func (r *Router) Subscribe(kind Kind) Subscription {
	sub := newSubscriber(r.channelSize, r.logger)
	r.mu.Lock()
	if r.subscribers[kind] == nil {
		r.subscribers[kind] = map[*subscriber]struct{}{}
	}
	r.subscribers[kind][sub] = struct{}{}
	backlog := r.backlog[kind]
	delete(r.backlog, kind)
	// flushed under the lock so later intents cannot overtake the backlog
	for _, in := range backlog {
		sub.deliver(in)
	}
	r.mu.Unlock()
	return Subscription{
		Intents: sub.channel(),
		cancel: func() {
			r.removeSubscriber(kind, sub)
		},
	}
}

// Dispatch validates and routes an intent. Intents without an ID get one.
func (r *Router) Dispatch(in Intent) (Intent, error) {
	if err := in.Validate(); err != nil {
		return in, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	r.Route(in)
	return in, nil
}

// Route delivers the intent to subscribers or buffers it when none exist.
// Intents whose ID was seen recently are dropped.
func (r *Router) Route(in Intent) {
	if in.ID != "" && r.isDuplicate(in.ID) {
		r.logger.Printf("router: duplicate intent %s (%s) ignored", in.ID, in.Kind)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.subscribers[in.Kind]
	if len(subs) == 0 {
		r.bufferIntent(in)
		return
	}
	for sub := range subs {
		sub.deliver(in)
	}
}

// Pending reports how many intents of kind are buffered or queued.
func (r *Router) Pending(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := len(r.backlog[kind])
	for sub := range r.subscribers[kind] {
		total += len(sub.ch)
	}
	return total
}

func (r *Router) removeSubscriber(kind Kind, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[kind]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, kind)
		}
	}
	sub.close()
}

// bufferIntent requires r.mu.
func (r *Router) bufferIntent(in Intent) {
	queue := r.backlog[in.Kind]
	if len(queue) >= r.backlogLimit {
		r.logger.Printf("warn: router: backlog drop %s for %s (limit %d)", queue[0].ID, in.Kind, r.backlogLimit)
		queue = queue[1:]
	}
	r.backlog[in.Kind] = append(queue, in)
}

func (r *Router) isDuplicate(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[id]; ok {
		return true
	}
	r.recentIDs[id] = struct{}{}
	r.recentOrder = append(r.recentOrder, id)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	ch     chan Intent
	logger Logger
	closed bool
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Intent, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Intent {
	return s.ch
}

// deliver requires the router lock, which serializes it with close.
func (s *subscriber) deliver(in Intent) {
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- in:
			return
		default:
		}
		select {
		case oldest := <-s.ch:
			s.logDrop(oldest)
		default:
		}
	}
}

func (s *subscriber) logDrop(in Intent) {
	s.logger.Printf("warn: router: dropped %s %s (queue overflow)", in.Kind, in.ID)
}

func (s *subscriber) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
