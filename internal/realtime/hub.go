package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hostelcast/livesession/pkg/retry"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

const publishRetryWait = time.Second

var defaultPublishRetry = retry.Policy{Attempts: 3, Base: 20 * time.Millisecond, Max: 100 * time.Millisecond}

// RedisPublisher publishes session events for cross-instance fan-out.
type RedisPublisher interface {
	PublishSessionEvent(sessionID string, payload []byte) error
}

// RedisSubscriber subscribes to a session channel and invokes handler for each payload.
type RedisSubscriber interface {
	SubscribeSession(sessionID string, handler func(payload []byte)) (cancel func(), err error)
}

type room struct {
	subs   map[uint64]*Subscription
	ready  chan struct{}
	cancel func()
}

// Hub fans session events out to subscribers. With Redis configured, events
// are published to Redis only and delivered from the Redis subscription, so
// each instance delivers every event exactly once.
type Hub struct {
	rooms        map[string]*room
	mu           sync.RWMutex
	logger       *zap.Logger
	redis        RedisPublisher
	redisSub     RedisSubscriber
	bufferSize   int
	maxPending   int
	gapTimeout   time.Duration
	publishRetry retry.Policy
	nextID       atomic.Uint64
	onDrop       func()
}

// NewHub creates a hub. redisPub and redisSub may be nil for single-instance use.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber, bufferSize int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		rooms:        make(map[string]*room),
		logger:       logger,
		redis:        redisPub,
		redisSub:     redisSub,
		bufferSize:   bufferSize,
		maxPending:   DefaultMaxPending,
		gapTimeout:   DefaultGapTimeout,
		publishRetry: defaultPublishRetry,
	}
}

// SetDropHandler sets a callback invoked when a slow or gapped subscriber is disconnected.
func (h *Hub) SetDropHandler(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = fn
}

// Subscribe registers a subscriber for the given streams of a session. When it
// returns, every event published afterwards will reach the subscription.
func (h *Hub) Subscribe(sessionID string, streams ...Stream) *Subscription {
	sub := newSubscription(h.nextID.Add(1), sessionID, h, h.bufferSize, streams)

	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	if !ok {
		r = &room{subs: make(map[uint64]*Subscription), ready: make(chan struct{})}
		h.rooms[sessionID] = r
	}
	r.subs[sub.id] = sub
	h.mu.Unlock()

	if !ok {
		h.startRelay(sessionID, r)
	}
	<-r.ready
	h.logger.Debug("feed subscribed", zap.String("session_id", sessionID), zap.Uint64("subscription", sub.id))
	return sub
}

func (h *Hub) startRelay(sessionID string, r *room) {
	defer close(r.ready)
	if h.redisSub == nil {
		return
	}
	cancel, err := h.redisSub.SubscribeSession(sessionID, func(payload []byte) {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			h.logger.Warn("invalid feed payload", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		h.deliver(ev)
	})
	if err != nil {
		h.logger.Warn("redis subscribe failed, local delivery only", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	h.mu.Lock()
	if h.rooms[sessionID] == r {
		r.cancel = cancel
		cancel = nil
	}
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	r, ok := h.rooms[sub.SessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, present := r.subs[sub.id]; !present {
		h.mu.Unlock()
		return
	}
	delete(r.subs, sub.id)
	var cancel func()
	if len(r.subs) == 0 {
		delete(h.rooms, sub.SessionID)
		cancel = r.cancel
	}
	overflowed, gapped := sub.Overflowed(), sub.Gapped()
	onDrop := h.onDrop
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	switch {
	case overflowed:
		h.logger.Warn("slow feed subscriber disconnected", zap.String("session_id", sub.SessionID), zap.Uint64("subscription", sub.id))
	case gapped:
		h.logger.Warn("feed gap not filled, subscriber disconnected", zap.String("session_id", sub.SessionID), zap.Uint64("subscription", sub.id))
	default:
		return
	}
	if onDrop != nil {
		onDrop()
	}
}

// Publish fans an event out to every instance's subscribers. Duplicate
// deliveries (local plus relay while a relay is starting) are dropped by the
// subscription sequencers. A failed Redis publish is retried before falling
// back to local delivery; remote subscribers then see a gap and resync.
func (h *Hub) Publish(ev Event) {
	if h.redis != nil {
		data, err := json.Marshal(ev)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), publishRetryWait)
			err = retry.Do(ctx, h.publishRetry, func() error {
				return h.redis.PublishSessionEvent(ev.SessionID, data)
			})
			cancel()
		}
		if err != nil {
			h.logger.Warn("redis publish failed, delivering locally", zap.String("session_id", ev.SessionID), zap.Error(err))
			h.deliver(ev)
			return
		}
		if h.relayed(ev.SessionID) {
			return
		}
	}
	h.deliver(ev)
}

// relayed reports whether local subscribers of the session receive events from Redis.
func (h *Hub) relayed(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[sessionID]
	return ok && r.cancel != nil
}

func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	r, ok := h.rooms[ev.SessionID]
	var subs []*Subscription
	if ok {
		subs = make([]*Subscription, 0, len(r.subs))
		for _, s := range r.subs {
			subs = append(subs, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !s.offer(ev) {
			h.remove(s)
		}
	}
}

// SubscriberCount returns the number of local subscribers of a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[sessionID]; ok {
		return len(r.subs)
	}
	return 0
}
