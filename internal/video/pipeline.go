package video

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"moonlink/native/internal/assembler"
	"moonlink/native/internal/domain"
)

// DefaultMaxConsecutiveFailures is how many failed submissions in a row
// are tolerated before the pipeline reports a fatal decode error.
const DefaultMaxConsecutiveFailures = 30

// State of the pipeline's decoder.
type State int32

const (
	StateUninitialized State = iota
	StateDecoding
)

func (s State) String() string {
	if s == StateDecoding {
		return "decoding"
	}
	return "uninitialized"
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Submitted   uint64
	Decoded     uint64
	Converted   uint64
	Truncated   uint64
	Failed      uint64
	IDRRequests uint64
	// Late counts units that arrived after Cleanup and were discarded.
	Late uint64
}

// Options configures a Pipeline.
type Options struct {
	ColorSpace domain.ColorSpace
	ColorRange domain.ColorRange
	// NewDecoder overrides the registered decoder factories.
	NewDecoder             DecoderFactory
	MaxConsecutiveFailures int
	// OnFatal is called once when resync keeps failing.
	OnFatal func(err error)
	Log     *slog.Logger
}

// Pipeline decodes the video decode units of one session. Setup, Submit
// and Cleanup are called from the library's video callback goroutine.
type Pipeline struct {
	opts Options
	sink FrameSink
	log  *slog.Logger

	mu        sync.Mutex
	state     State
	cfg       DecoderConfig
	dec       Decoder
	conv      *Converter
	asm       assembler.Assembler
	rgba      []byte
	failures  int
	fatalSent bool
	// closed is set by Cleanup and cleared by Setup. The transport may
	// still deliver a unit after Cleanup; it must not rebuild a decoder.
	closed bool

	submitted   atomic.Uint64
	decoded     atomic.Uint64
	converted   atomic.Uint64
	truncated   atomic.Uint64
	failed      atomic.Uint64
	idrRequests atomic.Uint64
	late        atomic.Uint64
}

// NewPipeline creates a pipeline delivering frames to sink.
func NewPipeline(sink FrameSink, opts Options) *Pipeline {
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if opts.NewDecoder == nil {
		opts.NewDecoder = NewDecoder
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		opts: opts,
		sink: sink,
		log:  log.With("component", "video"),
	}
}

// Setup records the negotiated codec and geometry. The decoder itself is
// built on the first submitted unit. A geometry or codec change discards
// the current decoder and converter.
func (p *Pipeline) Setup(codec domain.VideoCodec, width, height, fps int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := DecoderConfig{Codec: codec, Width: width, Height: height, FPS: fps}
	if p.state == StateDecoding && (next.Codec != p.cfg.Codec || next.Width != p.cfg.Width || next.Height != p.cfg.Height) {
		p.log.Info("stream format changed, rebuilding decoder",
			"from", fmt.Sprintf("%v %dx%d", p.cfg.Codec, p.cfg.Width, p.cfg.Height),
			"to", fmt.Sprintf("%v %dx%d", codec, width, height))
		p.teardownLocked()
	}
	p.cfg = next
	p.closed = false
	p.failures = 0
	p.fatalSent = false
	p.log.Debug("video setup", "codec", codec.String(), "width", width, "height", height, "fps", fps)
	return 0
}

// Submit decodes one unit and returns domain.DrOK or domain.DrNeedIDR.
func (p *Pipeline) Submit(du *domain.DecodeUnit) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.submitted.Add(1)
	if p.closed {
		p.late.Add(1)
		return domain.DrOK
	}

	au, err := p.asm.Assemble(du)
	if err != nil {
		// A short unit only costs this frame.
		p.truncated.Add(1)
		p.log.Debug("dropping truncated decode unit", "frame", du.FrameNumber, "error", err)
		return domain.DrOK
	}

	if p.state == StateUninitialized {
		if err := p.initLocked(); err != nil {
			return p.failLocked(err)
		}
	}

	pics, err := p.dec.Decode(au)
	if err != nil {
		if !errors.Is(err, domain.ErrDecode) {
			err = fmt.Errorf("%w: %w", domain.ErrDecode, err)
		}
		return p.failLocked(err)
	}

	for _, pic := range pics {
		p.decoded.Add(1)
		if err := p.deliverLocked(pic, du); err != nil {
			return p.failLocked(err)
		}
	}
	p.failures = 0
	return domain.DrOK
}

// Cleanup releases the decoder and returns to Uninitialized. Units
// submitted after Cleanup are dropped until the next Setup.
func (p *Pipeline) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	p.closed = true
}

// State returns the current decoder state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:   p.submitted.Load(),
		Decoded:     p.decoded.Load(),
		Converted:   p.converted.Load(),
		Truncated:   p.truncated.Load(),
		Failed:      p.failed.Load(),
		IDRRequests: p.idrRequests.Load(),
		Late:        p.late.Load(),
	}
}

func (p *Pipeline) initLocked() error {
	dec, err := p.opts.NewDecoder(p.cfg)
	if err != nil {
		return fmt.Errorf("%w: create %v decoder: %w", domain.ErrDecode, p.cfg.Codec, err)
	}
	conv, err := NewConverter(p.cfg.Width, p.cfg.Height, p.opts.ColorSpace, p.opts.ColorRange)
	if err != nil {
		_ = dec.Close()
		return fmt.Errorf("%w: create converter: %w", domain.ErrDecode, err)
	}
	p.dec = dec
	p.conv = conv
	p.state = StateDecoding
	p.log.Info("decoder ready", "codec", p.cfg.Codec.String(), "width", p.cfg.Width, "height", p.cfg.Height)
	return nil
}

func (p *Pipeline) deliverLocked(pic *Picture, du *domain.DecodeUnit) error {
	if !p.conv.Matches(pic.Width, pic.Height) {
		conv, err := NewConverter(pic.Width, pic.Height, p.opts.ColorSpace, p.opts.ColorRange)
		if err != nil {
			return fmt.Errorf("%w: rebuild converter: %w", domain.ErrDecode, err)
		}
		p.conv = conv
	}
	if n := p.conv.OutputSize(); cap(p.rgba) < n {
		p.rgba = make([]byte, n)
	} else {
		p.rgba = p.rgba[:n]
	}
	if err := p.conv.Convert(pic, p.rgba); err != nil {
		return fmt.Errorf("%w: convert: %w", domain.ErrDecode, err)
	}
	p.converted.Add(1)

	if p.sink != nil {
		p.sink.PushFrame(&Frame{
			Width:       pic.Width,
			Height:      pic.Height,
			Stride:      pic.Width * 4,
			Pix:         p.rgba,
			FrameNumber: du.FrameNumber,
			FrameType:   int(du.FrameType),
		})
	}
	return nil
}

// failLocked asks the host for an IDR frame. Construction failures leave
// the pipeline Uninitialized so the next unit retries.
func (p *Pipeline) failLocked(err error) int {
	p.failed.Add(1)
	p.idrRequests.Add(1)
	p.failures++
	p.log.Warn("decode failed, requesting IDR", "error", err, "consecutive", p.failures)

	if p.failures >= p.opts.MaxConsecutiveFailures && !p.fatalSent {
		p.fatalSent = true
		p.log.Error("decoder keeps failing after resync", "failures", p.failures)
		if p.opts.OnFatal != nil {
			p.opts.OnFatal(fmt.Errorf("%d consecutive failures: %w", p.failures, err))
		}
	}
	return domain.DrNeedIDR
}

func (p *Pipeline) teardownLocked() {
	if p.dec != nil {
		if err := p.dec.Close(); err != nil {
			p.log.Debug("close decoder", "error", err)
		}
	}
	p.dec = nil
	p.conv = nil
	p.state = StateUninitialized
}
