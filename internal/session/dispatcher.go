package session

import "sync"

// Dispatcher queues work for the consumer goroutine, which runs it with
// Pump. It implements domain.Dispatcher.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{notify: make(chan struct{}, 1)}
}

// Dispatch never blocks.
func (d *Dispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Ready is signalled when work has been queued.
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.notify
}

// Pump runs queued work on the calling goroutine and returns how many
// functions ran.
func (d *Dispatcher) Pump() int {
	d.mu.Lock()
	q := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, fn := range q {
		fn()
	}
	return len(q)
}
