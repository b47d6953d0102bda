package session

import (
	"testing"
	"time"
)

func TestSchedulerFiresAfterDelay(t *testing.T) {
	fired := make(chan string, 4)
	s := NewExpiryScheduler(func(id string) { fired <- id })
	defer s.Stop()

	s.Schedule("session-a", 10*time.Millisecond)

	select {
	case id := <-fired:
		if id != "session-a" {
			t.Errorf("fired id = %q, want session-a", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled entry never fired")
	}
}

func TestSchedulerFiresInExpiryOrder(t *testing.T) {
	fired := make(chan string, 4)
	s := NewExpiryScheduler(func(id string) { fired <- id })
	defer s.Stop()

	// Scheduled out of order; must fire in expiry order.
	s.Schedule("later", 150*time.Millisecond)
	s.Schedule("sooner", 20*time.Millisecond)

	var got []string
	for len(got) < 2 {
		select {
		case id := <-fired:
			got = append(got, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 2 entries fired", len(got))
		}
	}

	if got[0] != "sooner" || got[1] != "later" {
		t.Errorf("fire order = %v, want [sooner later]", got)
	}
}

func TestSchedulerStopDropsPendingEntries(t *testing.T) {
	fired := make(chan string, 4)
	s := NewExpiryScheduler(func(id string) { fired <- id })

	s.Schedule("never", 50*time.Millisecond)
	s.Stop()

	select {
	case id := <-fired:
		t.Errorf("entry %q fired after Stop", id)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := NewExpiryScheduler(func(string) {})
	s.Stop()
	s.Stop()
}
