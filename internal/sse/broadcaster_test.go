package sse

import (
	"strings"
	"sync"
	"testing"
)

func TestBroadcastToSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast(Event{Type: "new_observation", Payload: "hello"})

	got := <-ch
	if got.Type != "new_observation" || got.Payload != "hello" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestPublishWrapsBroadcast(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish("new_summary", map[string]string{"k": "v"})

	got := <-ch
	if got.Type != "new_summary" {
		t.Fatalf("expected type new_summary, got %q", got.Type)
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	b := NewBroadcaster()
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Broadcast(Event{Type: "ping"})

	if got := <-ch1; got.Type != "ping" {
		t.Fatalf("subscriber 1: expected ping, got %q", got.Type)
	}
	if got := <-ch2; got.Type != "ping" {
		t.Fatalf("subscriber 2: expected ping, got %q", got.Type)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsubscribe, got %d", b.ClientCount())
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	_, unsub := b.Subscribe()
	unsub()
	unsub() // must not panic on double-close
}

func TestBroadcastAfterUnsubscribeIsNoop(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()

	b.Broadcast(Event{Type: "after-unsub"})

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected no event delivered after unsubscribe")
		}
	default:
		t.Fatal("expected channel closed, got neither a value nor a closed read")
	}
}

func TestSlowConsumerDropsRatherThanBlocks(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	// Flood well past the client buffer without draining; Broadcast must
	// never block the caller.
	for i := 0; i < clientBuffer+50; i++ {
		b.Broadcast(Event{Type: "flood"})
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			if drained == 0 {
				t.Fatal("expected at least one buffered event")
			}
			if drained > clientBuffer {
				t.Fatalf("expected at most %d buffered events, got %d", clientBuffer, drained)
			}
			return
		}
	}
}

func TestClientCount(t *testing.T) {
	b := NewBroadcaster()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients initially, got %d", b.ClientCount())
	}

	_, unsub1 := b.Subscribe()
	_, unsub2 := b.Subscribe()
	if b.ClientCount() != 2 {
		t.Fatalf("expected 2 clients, got %d", b.ClientCount())
	}

	unsub1()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client after one unsubscribe, got %d", b.ClientCount())
	}
	unsub2()
}

func TestConcurrentBroadcast(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Broadcast(Event{Type: "concurrent"})
		}()
	}
	wg.Wait()

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count == 0 {
				t.Fatal("expected at least one event delivered")
			}
			return
		}
	}
}

func TestEventFrame(t *testing.T) {
	e := Event{Type: "new_prompt", Payload: map[string]string{"text": "hi"}}
	frame, err := e.Frame()
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	s := string(frame)
	if !strings.HasPrefix(s, "data: ") {
		t.Fatalf("expected frame to start with %q, got %q", "data: ", s)
	}
	if !strings.HasSuffix(s, "\n\n") {
		t.Fatalf("expected frame to end with a blank line, got %q", s)
	}
	if !strings.Contains(s, `"type":"new_prompt"`) {
		t.Fatalf("expected type field in frame, got %q", s)
	}
}
