package notify

import (
	"testing"
	"time"
)

func TestNotifyWakesWaiter(t *testing.T) {
	b := NewBus()
	waitCh := b.Wait()

	done := make(chan struct{})
	go func() {
		<-waitCh
		close(done)
	}()

	b.Notify()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Notify")
	}
}

func TestNotifyDoesNotBlockWithNoWaiters(t *testing.T) {
	b := NewBus()
	done := make(chan struct{})
	go func() {
		b.Notify()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked with no subscribers")
	}
}

func TestWaitReturnsFreshChannelAfterNotify(t *testing.T) {
	b := NewBus()
	first := b.Wait()
	b.Notify()

	select {
	case <-first:
	default:
		t.Fatal("expected first wait channel to be closed after Notify")
	}

	second := b.Wait()
	select {
	case <-second:
		t.Fatal("expected fresh wait channel to still be open")
	default:
	}
}
