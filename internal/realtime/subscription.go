package realtime

import (
	"sync"
	"time"
)

const (
	// DefaultMaxPending bounds the reorder backlog of one stream.
	DefaultMaxPending = 256
	// DefaultGapTimeout is how long a missing event may hold back later ones.
	DefaultGapTimeout = 2 * time.Second
)

type sequencer struct {
	primed   bool
	next     int64
	pending  map[int64]Event
	gapTimer *time.Timer
	gapAt    int64
}

// Subscription receives a session's events in sequence order, per stream.
// Events arriving before Prime are held; Prime declares the snapshot the
// consumer already has so only newer events are forwarded. A gap that is not
// filled within the gap timeout, or that outgrows the backlog, closes the
// subscription so the consumer re-reads the snapshot.
type Subscription struct {
	id         uint64
	SessionID  string
	hub        *Hub
	out        chan Event
	streams    map[Stream]*sequencer
	maxPending int
	gapTimeout time.Duration
	closed     bool
	overflowed bool
	gapped     bool
	mu         sync.Mutex
}

func newSubscription(id uint64, sessionID string, hub *Hub, buffer int, streams []Stream) *Subscription {
	s := &Subscription{
		id:         id,
		SessionID:  sessionID,
		hub:        hub,
		out:        make(chan Event, buffer),
		streams:    make(map[Stream]*sequencer, len(streams)),
		maxPending: hub.maxPending,
		gapTimeout: hub.gapTimeout,
	}
	for _, st := range streams {
		s.streams[st] = &sequencer{pending: make(map[int64]Event)}
	}
	return s
}

// C delivers events. It is closed when the subscription ends, including when
// the consumer falls behind and its buffer fills.
func (s *Subscription) C() <-chan Event { return s.out }

// Overflowed reports whether the subscription was closed because the consumer fell behind.
func (s *Subscription) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflowed
}

// Gapped reports whether the subscription was closed because an event never arrived.
func (s *Subscription) Gapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gapped
}

// Prime starts forwarding stream events with Seq > lastSeq.
func (s *Subscription) Prime(stream Stream, lastSeq int64) {
	s.mu.Lock()
	ok := s.primeLocked(stream, lastSeq)
	s.mu.Unlock()
	if !ok {
		s.hub.remove(s)
	}
}

func (s *Subscription) primeLocked(stream Stream, lastSeq int64) bool {
	sq := s.streams[stream]
	if sq == nil || s.closed {
		return true
	}
	sq.primed = true
	sq.next = lastSeq + 1
	for seq := range sq.pending {
		if seq <= lastSeq {
			delete(sq.pending, seq)
		}
	}
	return s.flushLocked(stream, sq)
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	s.hub.remove(s)
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
	for _, sq := range s.streams {
		if sq.gapTimer != nil {
			sq.gapTimer.Stop()
			sq.gapTimer = nil
		}
	}
}

// offer hands one event to the subscription; false means it overflowed.
func (s *Subscription) offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	sq := s.streams[ev.Stream]
	if sq == nil {
		return true
	}
	if sq.primed && ev.Seq < sq.next {
		return true
	}
	sq.pending[ev.Seq] = ev
	if !sq.primed {
		if len(sq.pending) > s.maxPending {
			s.overflowed = true
			s.closeLocked()
			return false
		}
		return true
	}
	return s.flushLocked(ev.Stream, sq)
}

func (s *Subscription) flushLocked(stream Stream, sq *sequencer) bool {
	for {
		ev, ok := sq.pending[sq.next]
		if !ok {
			break
		}
		delete(sq.pending, sq.next)
		if !s.emitLocked(ev) {
			return false
		}
		sq.next++
	}
	if len(sq.pending) > s.maxPending {
		s.gapped = true
		s.closeLocked()
		return false
	}
	s.watchGapLocked(stream, sq)
	return true
}

// watchGapLocked arms a timer while sq waits for sq.next.
func (s *Subscription) watchGapLocked(stream Stream, sq *sequencer) {
	if len(sq.pending) == 0 {
		if sq.gapTimer != nil {
			sq.gapTimer.Stop()
			sq.gapTimer = nil
		}
		return
	}
	if sq.gapTimer != nil && sq.gapAt == sq.next {
		return
	}
	if sq.gapTimer != nil {
		sq.gapTimer.Stop()
	}
	at := sq.next
	sq.gapAt = at
	sq.gapTimer = time.AfterFunc(s.gapTimeout, func() { s.expireGap(stream, at) })
}

func (s *Subscription) expireGap(stream Stream, at int64) {
	s.mu.Lock()
	sq := s.streams[stream]
	if s.closed || sq.next != at || len(sq.pending) == 0 {
		s.mu.Unlock()
		return
	}
	s.gapped = true
	s.closeLocked()
	s.mu.Unlock()
	s.hub.remove(s)
}

func (s *Subscription) emitLocked(ev Event) bool {
	select {
	case s.out <- ev:
		return true
	default:
		s.overflowed = true
		s.closeLocked()
		return false
	}
}
