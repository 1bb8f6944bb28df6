package audio

import "sync"

// Sink is a consumer-owned PCM buffer for one channel.
type Sink interface {
	// Available is the free space in samples.
	Available() int
	// Push appends samples. Callers check Available first.
	Push(samples []float32)
}

// SinkFactory builds the sink for one channel. It runs on the consumer
// goroutine.
type SinkFactory func(channel, sampleRate int) Sink

// RingSink is a bounded single-channel sample ring.
type RingSink struct {
	mu    sync.Mutex
	buf   []float32
	start int
	n     int
}

// NewRingSink holds 100 ms of audio at sampleRate.
func NewRingSink(channel, sampleRate int) Sink {
	return NewRingSinkSize(sampleRate / 10)
}

// NewRingSinkSize creates a ring with room for capacity samples.
func NewRingSinkSize(capacity int) *RingSink {
	if capacity < 1 {
		capacity = 1
	}
	return &RingSink{buf: make([]float32, capacity)}
}

func (r *RingSink) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.n
}

// Push copies samples in, dropping whatever does not fit.
func (r *RingSink) Push(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		if r.n == len(r.buf) {
			return
		}
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
	}
}

// Read copies up to len(dst) buffered samples out and returns the count.
func (r *RingSink) Read(dst []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := 0
	for k < len(dst) && r.n > 0 {
		dst[k] = r.buf[r.start]
		r.start = (r.start + 1) % len(r.buf)
		r.n--
		k++
	}
	return k
}

// Buffered is the number of samples waiting to be read.
func (r *RingSink) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
