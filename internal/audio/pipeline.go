package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"moonlink/native/internal/domain"
)

// ChannelContext binds one audio channel to its sink.
type ChannelContext struct {
	Index      int
	SampleRate int
	Sink       Sink
}

// Stats are cumulative audio counters.
type Stats struct {
	Packets        uint64
	DecodeErrors   uint64
	DroppedPackets []uint64 // per channel
}

// Options configures a Pipeline.
type Options struct {
	// NewSink defaults to NewRingSink.
	NewSink SinkFactory
	// NewDecoder overrides the registered decoder factories.
	NewDecoder DecoderFactory
	Log        *slog.Logger
}

// Pipeline decodes the audio stream of one session. Init and DecodeAndPlay
// run on the library's audio goroutine; sinks are built on the consumer
// goroutine through the dispatcher.
type Pipeline struct {
	dispatch domain.Dispatcher
	opts     Options
	log      *slog.Logger

	decMu sync.Mutex
	dec   Decoder
	gen   uint64

	mu       sync.Mutex
	channels []ChannelContext
	dropped  []atomic.Uint64

	packets      atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewPipeline creates an audio pipeline.
func NewPipeline(dispatch domain.Dispatcher, opts Options) *Pipeline {
	if opts.NewSink == nil {
		opts.NewSink = NewRingSink
	}
	if opts.NewDecoder == nil {
		opts.NewDecoder = NewDecoder
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		dispatch: dispatch,
		opts:     opts,
		log:      log.With("component", "audio"),
	}
}

// Init applies the host's audio configuration. Returns 0 on success and
// -1 if no decoder can be built.
func (p *Pipeline) Init(cfg domain.AudioConfig) int {
	if cfg.Channels <= 0 || cfg.SampleRate <= 0 {
		p.log.Error("invalid audio configuration", "channels", cfg.Channels, "sample_rate", cfg.SampleRate)
		return -1
	}
	dec, err := p.opts.NewDecoder(cfg)
	if err != nil {
		p.log.Error("create audio decoder", "codec", cfg.Codec.String(), "error", err)
		return -1
	}

	p.decMu.Lock()
	if p.dec != nil {
		_ = p.dec.Close()
	}
	p.dec = dec
	p.gen++
	gen := p.gen
	p.decMu.Unlock()

	p.mu.Lock()
	p.channels = nil
	p.dropped = make([]atomic.Uint64, cfg.Channels)
	p.mu.Unlock()

	p.dispatch.Dispatch(func() { p.buildSinks(gen, cfg) })
	p.log.Info("audio configured", "codec", cfg.Codec.String(), "channels", cfg.Channels, "sample_rate", cfg.SampleRate)
	return 0
}

func (p *Pipeline) buildSinks(gen uint64, cfg domain.AudioConfig) {
	channels := make([]ChannelContext, cfg.Channels)
	for i := range channels {
		channels[i] = ChannelContext{
			Index:      i,
			SampleRate: cfg.SampleRate,
			Sink:       p.opts.NewSink(i, cfg.SampleRate),
		}
	}

	p.decMu.Lock()
	current := p.gen == gen && p.dec != nil
	p.decMu.Unlock()
	if !current {
		// Reconfigured or closed before the consumer got here.
		return
	}

	p.mu.Lock()
	p.channels = channels
	p.mu.Unlock()
}

// DecodeAndPlay decodes one packet and offers each channel's samples to
// its sink. A channel whose sink lacks room drops this packet rather than
// blocking the callback.
func (p *Pipeline) DecodeAndPlay(packet []byte) {
	p.decMu.Lock()
	dec := p.dec
	var pcm *PCM
	var err error
	if dec != nil {
		pcm, err = dec.Decode(packet)
	}
	p.decMu.Unlock()

	if dec == nil {
		return
	}
	p.packets.Add(1)
	if err != nil {
		p.decodeErrors.Add(1)
		p.log.Debug("audio decode failed", "error", err)
		return
	}

	perChannel := pcm.PerChannel()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.channels {
		if ch.Index >= len(perChannel) || ch.Sink == nil {
			continue
		}
		samples := perChannel[ch.Index]
		if ch.Sink.Available() < len(samples) {
			if ch.Index < len(p.dropped) {
				p.dropped[ch.Index].Add(1)
			}
			continue
		}
		ch.Sink.Push(samples)
	}
}

// Channels returns the channel contexts once the consumer has built them.
func (p *Pipeline) Channels() []ChannelContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChannelContext(nil), p.channels...)
}

// Close releases the decoder and destroys the channel contexts.
func (p *Pipeline) Close() {
	p.decMu.Lock()
	if p.dec != nil {
		if err := p.dec.Close(); err != nil {
			p.log.Debug("close audio decoder", "error", err)
		}
	}
	p.dec = nil
	p.gen++
	p.decMu.Unlock()

	p.mu.Lock()
	p.channels = nil
	p.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	dropped := make([]uint64, len(p.dropped))
	for i := range p.dropped {
		dropped[i] = p.dropped[i].Load()
	}
	p.mu.Unlock()

	return Stats{
		Packets:        p.packets.Load(),
		DecodeErrors:   p.decodeErrors.Load(),
		DroppedPackets: dropped,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("packets=%d errors=%d dropped=%v", s.Packets, s.DecodeErrors, s.DroppedPackets)
}
