package feed

import (
	"sync"

	"main/internal/schema"
	"main/pkg/exception"
)

// Feed exposes the latest price per pair and a fan-out tick subscription.
type Feed interface {
	// Subscribe attaches a consumer to a pair's tick stream. The returned
	// cancel function detaches it without affecting other consumers.
	Subscribe(pair schema.Pair) (<-chan schema.Tick, func())
	// Latest returns an immutable copy of the newest tick for the pair.
	Latest(pair schema.Pair) (schema.Tick, bool)
}

const subscriberBuffer = 64

// Hub owns the versioned latest-tick snapshot per pair and fans published
// ticks out to subscribers. Sources (live websocket or backtest replay)
// push ticks through Publish; consumers never mutate feed state.
type Hub struct {
	mu     sync.RWMutex
	latest map[schema.Pair]schema.Tick
	subs   map[schema.Pair]map[uint64]chan schema.Tick
	nextID uint64
	closed bool
}

// NewHub creates an empty feed hub.
func NewHub() *Hub {
	return &Hub{
		latest: make(map[schema.Pair]schema.Tick),
		subs:   make(map[schema.Pair]map[uint64]chan schema.Tick),
	}
}

// Publish applies a tick: stale or out-of-order ticks (timestamp not newer
// than the last delivered one for the pair) are dropped, the latest
// snapshot is replaced, and subscribers are notified. A slow subscriber
// loses its oldest buffered tick rather than blocking the feed.
func (h *Hub) Publish(t schema.Tick) error {
	if t.Pair == "" || t.Price <= 0 || t.Ts <= 0 {
		return exception.ErrFeedInvalidTick
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return exception.ErrFeedClosed
	}
	if last, ok := h.latest[t.Pair]; ok && t.Ts <= last.Ts {
		h.mu.Unlock()
		return exception.ErrFeedStaleTick
	}
	h.latest[t.Pair] = t
	chans := make([]chan schema.Tick, 0, len(h.subs[t.Pair]))
	for _, ch := range h.subs[t.Pair] {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- t:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- t:
			default:
			}
		}
	}
	return nil
}

// Subscribe attaches a consumer to the pair's tick stream.
func (h *Hub) Subscribe(pair schema.Pair) (<-chan schema.Tick, func()) {
	ch := make(chan schema.Tick, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[pair] == nil {
		h.subs[pair] = make(map[uint64]chan schema.Tick)
	}
	h.subs[pair][id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[pair]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(h.subs, pair)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Latest returns the newest tick for the pair.
func (h *Hub) Latest(pair schema.Pair) (schema.Tick, bool) {
	h.mu.RLock()
	t, ok := h.latest[pair]
	h.mu.RUnlock()
	return t, ok
}

// Close stops the hub from accepting new ticks.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}
