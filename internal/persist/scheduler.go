package persist

import (
	"log"
	"sync"
	"time"
)

const (
	DefaultDebounce      = time.Second
	DefaultMaxFlushDelay = 30 * time.Second
)

// Scheduler coalesces snapshot requests. Each Schedule call resets a
// trailing debounce timer, so a burst of ingestions produces one write.
// A separate deadline, armed when the first request of a burst arrives,
// forces a flush after maxDelay even under continuous load; pure
// debounce would otherwise let a busy server go unsaved indefinitely.
//
// Writes happen on the scheduler's own goroutine, keeping disk I/O off
// the ingestion path. Failed writes are logged and stay pending so the
// deadline retries them.
type Scheduler struct {
	save     func() error
	debounce time.Duration
	maxDelay time.Duration

	notify chan struct{}
	flush  chan chan error
	quit   chan chan error

	closeOnce sync.Once
	closeErr  error
}

func NewScheduler(save func() error, debounce, maxDelay time.Duration) *Scheduler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxFlushDelay
	}
	s := &Scheduler{
		save:     save,
		debounce: debounce,
		maxDelay: maxDelay,
		notify:   make(chan struct{}, 1),
		flush:    make(chan chan error),
		quit:     make(chan chan error),
	}
	go s.run()
	return s
}

// Schedule requests a snapshot. It never blocks; back-to-back requests
// coalesce.
func (s *Scheduler) Schedule() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Flush writes any pending snapshot synchronously.
func (s *Scheduler) Flush() error {
	errc := make(chan error, 1)
	s.flush <- errc
	return <-errc
}

// Close flushes any pending snapshot and stops the scheduler. Safe to
// call more than once.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		errc := make(chan error, 1)
		s.quit <- errc
		s.closeErr = <-errc
	})
	return s.closeErr
}

func (s *Scheduler) run() {
	debounce := newStoppedTimer()
	deadline := newStoppedTimer()
	pending := false

	for {
		select {
		case <-s.notify:
			if !pending {
				pending = true
				deadline.Reset(s.maxDelay)
			}
			stopTimer(debounce)
			debounce.Reset(s.debounce)

		case <-debounce.C:
			stopTimer(deadline)
			pending = s.write(deadline)

		case <-deadline.C:
			stopTimer(debounce)
			pending = s.write(deadline)

		case errc := <-s.flush:
			var err error
			if pending {
				stopTimer(debounce)
				stopTimer(deadline)
				err = s.save()
				pending = err != nil
				if pending {
					deadline.Reset(s.maxDelay)
				}
			}
			errc <- err

		case errc := <-s.quit:
			var err error
			if pending {
				err = s.save()
			}
			errc <- err
			return
		}
	}
}

// write attempts a save and reports whether the state is still dirty.
// On failure the deadline is re-armed so the write is retried.
func (s *Scheduler) write(deadline *time.Timer) bool {
	if err := s.save(); err != nil {
		log.Printf("snapshot write failed (will retry): %v", err)
		deadline.Reset(s.maxDelay)
		return true
	}
	return false
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	return t
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
