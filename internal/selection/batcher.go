package selection

import (
	"sync"
	"time"
)

// batcher coalesces change events behind a single debounce timer. Every
// enqueue restarts the timer; when it fires the queued events are merged
// and handed to deliver exactly once.
type batcher struct {
	mu      sync.Mutex
	delay   time.Duration
	pending []ChangeEvent
	timer   *time.Timer
	gen     uint64
	stopped bool
	deliver func(ChangeEvent)
}

func newBatcher(delay time.Duration, deliver func(ChangeEvent)) *batcher {
	return &batcher{delay: delay, deliver: deliver}
}

func (b *batcher) enqueue(evt ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.pending = append(b.pending, evt)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(b.delay, func() { b.fire(gen) })
}

func (b *batcher) fire(gen uint64) {
	b.mu.Lock()
	// A newer enqueue restarted the timer after this one was scheduled.
	if b.stopped || gen != b.gen || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	events := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()

	b.deliver(mergeEvents(events))
}

// pendingCount returns the number of queued events.
func (b *batcher) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// stop cancels the timer and drops anything queued.
func (b *batcher) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = nil
}

// mergeEvents concatenates Added and Removed in order and takes Current and
// Source from the last event.
func mergeEvents(events []ChangeEvent) ChangeEvent {
	last := events[len(events)-1]
	merged := ChangeEvent{
		Added:   []Zone{},
		Removed: []Zone{},
		Current: last.Current,
		Source:  last.Source,
	}
	for _, evt := range events {
		merged.Added = append(merged.Added, evt.Added...)
		merged.Removed = append(merged.Removed, evt.Removed...)
	}
	return merged
}
