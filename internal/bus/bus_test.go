package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qmt/internal/models"
)

func TestPublish_StampsSeqAndTimestamp(t *testing.T) {
	b := New(nil, 0)
	defer b.Shutdown()

	first := b.Publish(models.AgentEvent{Kind: models.EventPromptReceived})
	second := b.Publish(models.AgentEvent{Kind: models.EventUserMessageStored})

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, time.UTC, first.Timestamp.Location())
	assert.Equal(t, uint64(2), b.Seq())
}

func TestSubscribe_ReceivesInOrder(t *testing.T) {
	b := New(nil, 0)
	defer b.Shutdown()

	ch, cancel := b.Subscribe()
	defer cancel()

	kinds := []models.EventKind{
		models.EventPromptReceived,
		models.EventLLMRequestStart,
		models.EventLLMRequestEnd,
	}
	for _, k := range kinds {
		b.Publish(models.AgentEvent{Kind: k})
	}

	var prev uint64
	for _, want := range kinds {
		ev := <-ch
		assert.Equal(t, want, ev.Kind)
		assert.Greater(t, ev.Seq, prev)
		prev = ev.Seq
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	b := New(nil, 0)
	defer b.Shutdown()

	ch, cancel := b.Subscribe()
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "cancelled subscription channel should be closed")

	// Publishing after cancel must not panic or block.
	b.Publish(models.AgentEvent{Kind: models.EventError})
}

func TestPublish_DropsOldestWhenFull(t *testing.T) {
	b := New(nil, 2)
	defer b.Shutdown()

	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Publish(models.AgentEvent{Kind: models.EventToolCallStart})
	}

	// Buffer of 2 keeps only the two most recent events.
	ev := <-ch
	assert.Equal(t, uint64(4), ev.Seq)
	ev = <-ch
	assert.Equal(t, uint64(5), ev.Seq)
}

func TestRegisterObserver_ReceivesEvents(t *testing.T) {
	b := New(nil, 0)

	var mu sync.Mutex
	var seen []uint64
	done := make(chan struct{})
	b.RegisterObserver("test", func(_ context.Context, ev models.AgentEvent) error {
		mu.Lock()
		seen = append(seen, ev.Seq)
		if len(seen) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i := 0; i < 3; i++ {
		b.Publish(models.AgentEvent{Kind: models.EventSnapshotStart})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not receive events")
	}
	b.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, []uint64{1, 2, 3}, seen)
}

func TestShutdown_ClosesSubscribersAndStopsPublish(t *testing.T) {
	b := New(nil, 0)
	ch, _ := b.Subscribe()

	b.Shutdown()

	_, ok := <-ch
	assert.False(t, ok)

	// Shutdown is idempotent; publish after shutdown still stamps.
	b.Shutdown()
	ev := b.Publish(models.AgentEvent{Kind: models.EventError})
	assert.NotZero(t, ev.Seq)

	// Subscribing after shutdown returns a closed channel.
	ch2, cancel := b.Subscribe()
	cancel()
	_, ok = <-ch2
	assert.False(t, ok)
}

func TestPublish_ConcurrentDeliveryStaysOrdered(t *testing.T) {
	const perPublisher = 5000
	b := New(nil, 4*perPublisher)
	ch, cancel := b.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				b.Publish(models.AgentEvent{SessionID: "s1", Kind: models.EventToolCallStart})
			}
		}()
	}
	wg.Wait()
	b.Shutdown()

	// Racing publishers must not invert stamped order on the way to a
	// subscriber.
	var prev uint64
	var count int
	for ev := range ch {
		require.Greater(t, ev.Seq, prev, "seq inversion after %d events", count)
		prev = ev.Seq
		count++
	}
	assert.Equal(t, 2*perPublisher, count)
}

func TestPublish_ConcurrentSeqUnique(t *testing.T) {
	b := New(nil, 0)
	defer b.Shutdown()

	const n = 100
	seqs := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := b.Publish(models.AgentEvent{Kind: models.EventToolCallEnd})
			seqs <- ev.Seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool, n)
	for s := range seqs {
		assert.False(t, seen[s], "duplicate seq %d", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)
}
