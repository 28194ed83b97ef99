// Package events delivers session events to subscribers. The emitter
// assigns each session a monotonic sequence, keeps a bounded replay
// history, and fans events out to transports best-effort.
package events

import (
	"sync"

	"codecrew/pkg/logx"
	"codecrew/pkg/proto"
)

// Transport receives every emitted event. Implementations must not block
// for long; delivery errors are logged and dropped, never propagated to
// the pipeline.
type Transport interface {
	Deliver(event *proto.Event) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(event *proto.Event) error

// Deliver implements Transport.
func (f TransportFunc) Deliver(event *proto.Event) error { return f(event) }

// Emitter sequences and distributes events.
type Emitter struct {
	mu           sync.RWMutex
	seqs         map[string]uint64
	history      map[string][]*proto.Event
	historyLimit int
	transports   []Transport
	logger       *logx.Logger
}

// NewEmitter creates an emitter keeping at most historyLimit events per
// session for replay.
func NewEmitter(historyLimit int) *Emitter {
	if historyLimit <= 0 {
		historyLimit = 500
	}
	return &Emitter{
		seqs:         make(map[string]uint64),
		history:      make(map[string][]*proto.Event),
		historyLimit: historyLimit,
		logger:       logx.NewLogger("events"),
	}
}

// AddTransport registers a delivery target for all future events.
func (e *Emitter) AddTransport(t Transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transports = append(e.transports, t)
}

// RemoveTransport unregisters a previously added transport. No-op when
// the transport is not registered. The transport must be of a comparable
// type (TransportFunc values are not).
func (e *Emitter) RemoveTransport(t Transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.transports {
		if existing == t {
			e.transports = append(e.transports[:i], e.transports[i+1:]...)
			return
		}
	}
}

// Emit assigns the event its per-session sequence number, records it in
// the history, and delivers it to every transport. Events for the same
// session must never be observed out of sequence, so assignment and
// fan-out happen under the lock.
func (e *Emitter) Emit(event *proto.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seqs[event.SessionID]++
	event.Seq = e.seqs[event.SessionID]

	hist := append(e.history[event.SessionID], event)
	if len(hist) > e.historyLimit {
		hist = hist[len(hist)-e.historyLimit:]
	}
	e.history[event.SessionID] = hist

	for _, t := range e.transports {
		if err := t.Deliver(event); err != nil {
			e.logger.Warn("event delivery failed for session %s seq %d: %v", event.SessionID, event.Seq, err)
		}
	}
}

// History returns the retained events for a session with Seq greater than
// after, in sequence order.
func (e *Emitter) History(sessionID string, after uint64) []*proto.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*proto.Event
	for _, ev := range e.history[sessionID] {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

// Forget drops the sequence counter and history for a session. Sequence
// state is only released when the session id will never emit again.
func (e *Emitter) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.seqs, sessionID)
	delete(e.history, sessionID)
}
