package client

import (
	"sync"
	"time"

	"github.com/davidarico/dungeon-crawler-chris-sub000/domain"
)

// debouncer calls fn once a burst of triggers has been quiet for delay,
// passing the last event of the burst.
type debouncer struct {
	delay time.Duration
	fn    func(domain.ChangeEvent)

	mu      sync.Mutex
	timer   *time.Timer
	pending domain.ChangeEvent
	stopped bool
}

func newDebouncer(delay time.Duration, fn func(domain.ChangeEvent)) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger(ev domain.ChangeEvent) {
	if d.fn == nil {
		return
	}
	if d.delay < 0 {
		d.fn(ev)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = ev
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	ev := d.pending
	d.mu.Unlock()
	d.fn(ev)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
