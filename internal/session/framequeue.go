package session

import (
	"sync"
	"sync/atomic"

	"moonlink/native/internal/video"
)

// FrameQueue hands the latest converted frame from the decoder goroutine
// to the consumer. The decoder copies in under the lock, the consumer
// swaps the pending frame out; neither decodes nor renders while holding
// it. Frames the consumer never took are overwritten.
type FrameQueue struct {
	mu      sync.Mutex
	pending *video.Frame
	spare   []byte

	pushed      atomic.Uint64
	overwritten atomic.Uint64
	notify      chan struct{}
}

func NewFrameQueue() *FrameQueue {
	return &FrameQueue{notify: make(chan struct{}, 1)}
}

// PushFrame implements video.FrameSink.
func (q *FrameQueue) PushFrame(f *video.Frame) {
	q.mu.Lock()
	if q.pending != nil {
		q.overwritten.Add(1)
	} else {
		q.pending = &video.Frame{Pix: q.spare}
		q.spare = nil
	}
	pix := q.pending.Pix
	if cap(pix) < len(f.Pix) {
		pix = make([]byte, len(f.Pix))
	}
	pix = pix[:len(f.Pix)]
	copy(pix, f.Pix)
	*q.pending = *f
	q.pending.Pix = pix
	q.mu.Unlock()

	q.pushed.Add(1)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Take returns the pending frame, transferring ownership to the caller.
func (q *FrameQueue) Take() (*video.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f := q.pending
	q.pending = nil
	return f, f != nil
}

// Recycle returns a taken frame's buffer for reuse.
func (q *FrameQueue) Recycle(f *video.Frame) {
	if f == nil {
		return
	}
	q.mu.Lock()
	if cap(f.Pix) > cap(q.spare) {
		q.spare = f.Pix[:0]
	}
	q.mu.Unlock()
}

// Ready is signalled after a push.
func (q *FrameQueue) Ready() <-chan struct{} {
	return q.notify
}

// Pushed and Overwritten are cumulative counters.
func (q *FrameQueue) Pushed() uint64      { return q.pushed.Load() }
func (q *FrameQueue) Overwritten() uint64 { return q.overwritten.Load() }
