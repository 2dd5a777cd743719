package logging

import (
	"testing"
	"time"
)

func TestHubBroadcastReachesSubscribers(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	ch, cancel := hub.Subscribe(0)
	defer cancel()

	hub.Broadcast(Entry{Message: "hello"})

	select {
	case entry := <-ch:
		if entry.Message != "hello" {
			t.Fatalf("expected hello, got %q", entry.Message)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	ch, cancel := hub.Subscribe(0)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestHubFullSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	_, cancel := hub.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		hub.Broadcast(Entry{Message: "one"})
		hub.Broadcast(Entry{Message: "two"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("broadcast blocked on full subscriber")
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe(0)

	hub.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after hub close")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for channel close")
	}
}
