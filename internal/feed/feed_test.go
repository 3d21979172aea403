package feed

import (
	"errors"
	"testing"

	"main/internal/schema"
	"main/pkg/exception"
)

func TestHubLatestSnapshot(t *testing.T) {
	h := NewHub()
	if _, ok := h.Latest("BTCUSDT"); ok {
		t.Fatal("latest should be absent before any publish")
	}

	if err := h.Publish(schema.Tick{Pair: "BTCUSDT", Price: 100 * schema.Scale, Ts: 10}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	tick, ok := h.Latest("BTCUSDT")
	if !ok || tick.Price != 100*schema.Scale {
		t.Fatalf("latest mismatch: %+v ok=%v", tick, ok)
	}
}

func TestHubDropsStaleTicks(t *testing.T) {
	h := NewHub()
	if err := h.Publish(schema.Tick{Pair: "BTCUSDT", Price: 100 * schema.Scale, Ts: 10}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	err := h.Publish(schema.Tick{Pair: "BTCUSDT", Price: 99 * schema.Scale, Ts: 10})
	if !errors.Is(err, exception.ErrFeedStaleTick) {
		t.Fatalf("expected stale drop, got %v", err)
	}
	err = h.Publish(schema.Tick{Pair: "BTCUSDT", Price: 99 * schema.Scale, Ts: 9})
	if !errors.Is(err, exception.ErrFeedStaleTick) {
		t.Fatalf("expected out-of-order drop, got %v", err)
	}

	tick, _ := h.Latest("BTCUSDT")
	if tick.Price != 100*schema.Scale || tick.Ts != 10 {
		t.Fatalf("latest mutated by stale tick: %+v", tick)
	}
}

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe("ETHUSDT")
	b, cancelB := h.Subscribe("ETHUSDT")
	defer cancelB()

	if err := h.Publish(schema.Tick{Pair: "ETHUSDT", Price: 2 * schema.Scale, Ts: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if tick := <-a; tick.Ts != 1 {
		t.Fatalf("subscriber a missed tick: %+v", tick)
	}
	if tick := <-b; tick.Ts != 1 {
		t.Fatalf("subscriber b missed tick: %+v", tick)
	}

	cancelA()
	if err := h.Publish(schema.Tick{Pair: "ETHUSDT", Price: 3 * schema.Scale, Ts: 2}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
	if tick := <-b; tick.Ts != 2 {
		t.Fatalf("subscriber b missed second tick: %+v", tick)
	}
	select {
	case tick := <-a:
		t.Fatalf("canceled subscriber received tick: %+v", tick)
	default:
	}
}

func TestHubSlowSubscriberDropsOldest(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("BTCUSDT")
	defer cancel()

	for i := 1; i <= subscriberBuffer+5; i++ {
		if err := h.Publish(schema.Tick{Pair: "BTCUSDT", Price: schema.Price(i) * schema.Scale, Ts: int64(i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	var last schema.Tick
	for {
		select {
		case tick := <-ch:
			last = tick
			continue
		default:
		}
		break
	}
	if last.Ts != int64(subscriberBuffer+5) {
		t.Fatalf("newest tick lost: got ts %d", last.Ts)
	}
}
