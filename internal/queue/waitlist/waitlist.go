// Package waitlist implements the in-process rendezvous that lets idle
// workers block on an empty queue instead of hot-polling it, per
// spec.md §4.5 and the §9 redesign that breaks the worker/waitlist
// reference cycle: the worker depends only on a narrow Registrar
// interface, and Client depends only on a narrow Notifier interface
// (both defined in package queue), so neither package imports the
// other's concrete type.
package waitlist

import (
	"sync"
	"time"
)

// Waitlist holds, per queue, a FIFO of one-shot channels belonging to
// workers currently blocked waiting for work, plus at most one armed
// timer for the next known future-scheduled job.
type Waitlist struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{}
	timers  map[string]*time.Timer
}

// New returns an empty Waitlist.
func New() *Waitlist {
	return &Waitlist{
		waiters: make(map[string][]chan struct{}),
		timers:  make(map[string]*time.Timer),
	}
}

// Register enqueues a new waiter for queueName and returns a channel
// that is closed the next time Notify(queueName) fires, plus a cancel
// func the caller must invoke if it stops waiting for any other reason
// (context cancellation, shutdown) to avoid leaking the registration.
func (w *Waitlist) Register(queueName string) (<-chan struct{}, func()) {
	ch := make(chan struct{})
	w.mu.Lock()
	w.waiters[queueName] = append(w.waiters[queueName], ch)
	w.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			list := w.waiters[queueName]
			for i, c := range list {
				if c == ch {
					w.waiters[queueName] = append(list[:i], list[i+1:]...)
					return
				}
			}
		})
	}
	return ch, cancel
}

// Notify wakes the single oldest waiter registered for queueName, if
// any, satisfying the FIFO ordering spec.md §4.5 asks for so that
// workers that have been idle longest get first chance at new work.
func (w *Waitlist) Notify(queueName string) {
	w.mu.Lock()
	list := w.waiters[queueName]
	if len(list) == 0 {
		w.mu.Unlock()
		return
	}
	head := list[0]
	w.waiters[queueName] = list[1:]
	w.mu.Unlock()
	close(head)
}

// NotifyAll wakes every waiter currently registered for queueName. No
// worker Stop path calls it; idle workers also select on their own
// stopping channel.
func (w *Waitlist) NotifyAll(queueName string) {
	w.mu.Lock()
	list := w.waiters[queueName]
	w.waiters[queueName] = nil
	w.mu.Unlock()
	for _, ch := range list {
		close(ch)
	}
}

// ArmAt schedules a future Notify(queueName) call at 'at', replacing
// any previously armed timer for queueName. Drivers call this after an
// Enqueue whose scheduled-for time is in the future so the waitlist
// wakes up exactly when the job becomes eligible instead of relying on
// PollInterval alone.
func (w *Waitlist) ArmAt(queueName string, at time.Time) {
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	w.mu.Lock()
	if t, ok := w.timers[queueName]; ok {
		t.Stop()
	}
	w.timers[queueName] = time.AfterFunc(d, func() {
		w.Notify(queueName)
	})
	w.mu.Unlock()
}

// Close stops all armed timers. It does not close outstanding waiter
// channels; callers already own cancel funcs for those.
func (w *Waitlist) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
}
