package bus

import (
	"context"
	"errors"
	"testing"

	"main/internal/schema"
)

func TestQueuePublishAssignsSequence(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 3; i++ {
		if err := q.TryPublish(schema.OrderEvent{ClientID: "a"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	q.Close()

	var seqs []uint64
	q.Run(context.Background(), func(e schema.OrderEvent) {
		seqs = append(seqs, e.Seq)
	})
	if len(seqs) != 3 {
		t.Fatalf("consumed %d events, want 3", len(seqs))
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("seq[%d] = %d, want %d", i, s, i+1)
		}
	}
}

func TestQueueFullDropsWithoutBlocking(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryPublish(schema.OrderEvent{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.TryPublish(schema.OrderEvent{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestQueueClosedRejectsPublish(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	if err := q.TryPublish(schema.OrderEvent{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}
