package session

import (
	"container/heap"
	"sync"
	"time"
)

// expiryEntry is one scheduled purge in the delay queue.
type expiryEntry struct {
	id string
	at time.Time
}

// expiryHeap orders entries by expiry time, earliest first.
type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// ExpiryScheduler runs deferred purges of terminal sessions on a single
// goroutine over a delay queue, instead of one timer per session. Entries
// fire in expiry order; a single timer is re-armed for the earliest one.
type ExpiryScheduler struct {
	onExpire func(id string)

	entries expiryHeap
	mu      sync.Mutex

	wake chan struct{}
	done chan struct{}
	stop sync.Once
}

// NewExpiryScheduler creates and starts a scheduler invoking onExpire for
// each entry whose delay has elapsed.
func NewExpiryScheduler(onExpire func(id string)) *ExpiryScheduler {
	s := &ExpiryScheduler{
		onExpire: onExpire,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	heap.Init(&s.entries)

	go s.run()

	return s
}

// Schedule enqueues a purge for id after delay.
func (s *ExpiryScheduler) Schedule(id string, delay time.Duration) {
	s.mu.Lock()
	heap.Push(&s.entries, expiryEntry{id: id, at: time.Now().Add(delay)})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop terminates the scheduler goroutine. Pending entries are dropped;
// Stop is only called at process teardown where the registry is drained
// anyway.
func (s *ExpiryScheduler) Stop() {
	s.stop.Do(func() {
		close(s.done)
	})
}

// run fires due entries and sleeps until the next expiry or a wake-up.
func (s *ExpiryScheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var next time.Duration
		expired := s.collectDue()

		for _, id := range expired {
			s.onExpire(id)
		}

		s.mu.Lock()
		if len(s.entries) > 0 {
			next = time.Until(s.entries[0].at)
			if next < 0 {
				next = 0
			}
		} else {
			next = time.Hour // idle; a Schedule call wakes us earlier
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-s.done:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// collectDue pops every entry whose expiry has passed.
func (s *ExpiryScheduler) collectDue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var due []string
	for len(s.entries) > 0 && !s.entries[0].at.After(now) {
		entry := heap.Pop(&s.entries).(expiryEntry)
		due = append(due, entry.id)
	}
	return due
}
