package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosh-dl/gosh/core"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	require := require.New(t)

	b := New(nil)
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	id := core.DownloadIDFixture()
	b.Publish(core.AddedEvent(id))

	select {
	case ev := <-s1.Events():
		require.Equal(core.EventAdded, ev.Kind)
		require.Equal(id, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on s1")
	}

	select {
	case ev := <-s2.Events():
		require.Equal(core.EventAdded, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on s2")
	}
}

func TestCloseSubscriptionStopsDelivery(t *testing.T) {
	require := require.New(t)

	b := New(nil)
	s := b.Subscribe()
	s.Close()

	// Publish must not block or panic once the subscriber has unsubscribed,
	// and the event must not be delivered to its now-closed mailbox.
	b.Publish(core.AddedEvent(core.DownloadIDFixture()))

	select {
	case <-s.Events():
		t.Fatal("event delivered to a closed subscription")
	case <-time.After(50 * time.Millisecond):
	}
	require.Empty(s.Events())
}

func TestProgressOverflowSignalsLagged(t *testing.T) {
	require := require.New(t)

	b := New(nil)
	s := b.Subscribe()
	id := core.DownloadIDFixture()

	// Fill the mailbox with Progress events without draining it.
	for i := 0; i < DefaultBufferSize+10; i++ {
		b.Publish(core.ProgressEvent(id, core.Progress{CompletedSize: int64(i)}))
	}

	select {
	case <-s.Lagged():
	case <-time.After(time.Second):
		t.Fatal("expected a lagged signal after overflowing the mailbox")
	}

	require.LessOrEqual(len(s.Events()), DefaultBufferSize)
}

func TestPublishGuaranteedKindNeverDropped(t *testing.T) {
	b := New(nil)
	s := b.Subscribe()
	id := core.DownloadIDFixture()

	done := make(chan struct{})
	go func() {
		// Publish more StateChanged events than the buffer holds; since
		// these are guaranteed-delivery kinds, Publish must block until
		// drained rather than dropping any.
		for i := 0; i < DefaultBufferSize+5; i++ {
			b.Publish(core.StateChangedEvent(id, core.StateQueued, core.StateConnecting))
		}
		close(done)
	}()

	received := 0
	for received < DefaultBufferSize+5 {
		select {
		case <-s.Events():
			received++
		case <-time.After(2 * time.Second):
			t.Fatalf("only received %d/%d guaranteed events", received, DefaultBufferSize+5)
		}
	}
	<-done
}

func TestCloseBusUnregistersAllSubscribers(t *testing.T) {
	require := require.New(t)

	b := New(nil)
	s := b.Subscribe()
	b.Close()

	// Publish after Close must be a no-op, not a panic.
	require.NotPanics(func() {
		b.Publish(core.AddedEvent(core.DownloadIDFixture()))
	})

	select {
	case <-s.done:
	default:
		t.Fatal("expected subscription done channel to be closed")
	}
}
