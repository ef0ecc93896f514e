package events

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvOne(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroadcasterFanOut(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	t.Cleanup(b.Close)

	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	t.Cleanup(cancel1)
	t.Cleanup(cancel2)

	space := uuid.Must(uuid.NewV4())
	b.Publish(domain.ToolsChanged{SpaceID: space, ServerID: "srv"})

	for _, ch := range []<-chan domain.Event{ch1, ch2} {
		ev := recvOne(t, ch)
		tc, ok := ev.(domain.ToolsChanged)
		require.True(t, ok)
		assert.Equal(t, space, tc.SpaceID)
		assert.Equal(t, "srv", tc.ServerID)
	}
}

func TestBroadcasterCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	t.Cleanup(b.Close)

	ch, cancel := b.Subscribe()
	cancel()

	// Channel must be closed, and publishing afterwards must not panic.
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(domain.ToolsChanged{SpaceID: uuid.Must(uuid.NewV4()), ServerID: "srv"})
}

func TestBroadcasterLateSubscriberMissesEarlierEvents(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	t.Cleanup(b.Close)

	space := uuid.Must(uuid.NewV4())
	b.Publish(domain.ToolsChanged{SpaceID: space, ServerID: "srv"})

	ch, cancel := b.Subscribe()
	t.Cleanup(cancel)

	select {
	case ev := <-ch:
		t.Fatalf("late subscriber received replayed event: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterFullBufferDropsNotBlocks(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(WithBufferSize(1))
	t.Cleanup(b.Close)

	ch, cancel := b.Subscribe()
	t.Cleanup(cancel)

	space := uuid.Must(uuid.NewV4())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish(domain.ToolsChanged{SpaceID: space, ServerID: "a"})
		b.Publish(domain.ToolsChanged{SpaceID: space, ServerID: "b"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	ev := recvOne(t, ch)
	assert.Equal(t, "a", ev.(domain.ToolsChanged).ServerID)
}

func TestBroadcasterClose(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()
	ch, _ := b.Subscribe()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	// Subscribing after close yields a closed channel.
	ch2, cancel := b.Subscribe()
	t.Cleanup(cancel)
	_, ok = <-ch2
	assert.False(t, ok)
}
