package streaming

import (
	"sync"

	"github.com/inquirylab/fathom/internal/metrics"
)

// Manager provides in-memory pub/sub for research run events with per-thread
// replay. Publish assigns sequence numbers; within one thread, delivery order
// matches publish order.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-thread ring buffer for replay and Last-Event-ID support
	history  map[string]*ring
	capacity int
	mirror   Mirror
}

// Mirror receives every published event for cross-process consumers.
// Implementations must not block.
type Mirror interface {
	Append(threadID string, evt Event)
}

// NewManager creates a manager with the given replay ring capacity.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// SetMirror attaches a mirror sink. Call before the first Publish.
func (m *Manager) SetMirror(mirror Mirror) {
	m.mu.Lock()
	m.mirror = mirror
	m.mu.Unlock()
}

// Subscribe adds a subscriber channel for a thread; caller must drain and
// call Unsubscribe.
func (m *Manager) Subscribe(threadID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[threadID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[threadID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(threadID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[threadID]; ok {
		if _, present := subs[ch]; !present {
			return
		}
		delete(subs, ch)
		close(ch)
		metrics.StreamSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, threadID)
		}
	}
}

// Publish assigns the next sequence number, records the event for replay,
// mirrors it, and fans it out non-blocking to subscribers.
func (m *Manager) Publish(threadID string, evt Event) Event {
	evt.ThreadID = threadID
	m.mu.Lock()
	rg := m.history[threadID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[threadID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := m.subscribers[threadID]
	mirror := m.mirror
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
	if mirror != nil {
		mirror.Append(threadID, evt)
	}
	for ch := range subs {
		select {
		case ch <- evt:
		default:
			metrics.EventsDropped.Inc()
		}
	}
	return evt
}

// ReplaySince returns events with Seq > since, best-effort within ring
// capacity. The lock is held across the ring read; Publish mutates the same
// ring under the write lock.
func (m *Manager) ReplaySince(threadID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[threadID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Drop releases the replay history for a finished thread.
func (m *Manager) Drop(threadID string) {
	m.mu.Lock()
	delete(m.history, threadID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

// Sequences start at 1 so that 0 can mean "replay everything"; SSE clients
// resume with Last-Event-ID and a fresh client has none.
func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity), nextSeq: 1} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
