// Package audio decodes the host's audio stream to per-channel float PCM
// and feeds bounded sinks owned by the consumer.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"moonlink/native/internal/domain"
)

var ErrCodecNotSupported = errors.New("no audio decoder registered for codec")

// Layout of decoded samples.
type Layout int

const (
	LayoutInterleaved Layout = iota
	LayoutPlanar
)

// PCM is one decoded packet in the decoder's native layout. Interleaved
// data lives in Samples, planar data in Planes.
type PCM struct {
	Layout   Layout
	Channels int
	Samples  []float32
	Planes   [][]float32
}

// PerChannel splits the packet into one sample slice per channel.
func (p *PCM) PerChannel() [][]float32 {
	if p.Layout == LayoutPlanar {
		return p.Planes
	}
	if p.Channels <= 0 {
		return nil
	}
	n := len(p.Samples) / p.Channels
	out := make([][]float32, p.Channels)
	for c := range out {
		ch := make([]float32, n)
		for i := 0; i < n; i++ {
			ch[i] = p.Samples[i*p.Channels+c]
		}
		out[c] = ch
	}
	return out
}

// Decoder decodes one compressed audio packet.
type Decoder interface {
	Decode(packet []byte) (*PCM, error)
	Close() error
}

// DecoderFactory builds a decoder for a negotiated configuration.
type DecoderFactory func(cfg domain.AudioConfig) (Decoder, error)

var decoders = struct {
	mu        sync.RWMutex
	factories map[domain.AudioCodec]DecoderFactory
}{factories: make(map[domain.AudioCodec]DecoderFactory)}

// RegisterDecoder installs the factory for a codec.
func RegisterDecoder(codec domain.AudioCodec, factory DecoderFactory) {
	decoders.mu.Lock()
	defer decoders.mu.Unlock()
	decoders.factories[codec] = factory
}

// NewDecoder builds a decoder from the registered factory.
func NewDecoder(cfg domain.AudioConfig) (Decoder, error) {
	decoders.mu.RLock()
	factory, ok := decoders.factories[cfg.Codec]
	decoders.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrCodecNotSupported, cfg.Codec)
	}
	return factory(cfg)
}

func init() {
	RegisterDecoder(domain.AudioCodecPCM16, NewPCM16Decoder)
	RegisterDecoder(domain.AudioCodecPCMU, NewMulawDecoder)
}

// PCM16Decoder decodes little-endian interleaved signed 16-bit samples.
type PCM16Decoder struct {
	channels int
}

func NewPCM16Decoder(cfg domain.AudioConfig) (Decoder, error) {
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("pcm16: invalid channel count %d", cfg.Channels)
	}
	return &PCM16Decoder{channels: cfg.Channels}, nil
}

func (d *PCM16Decoder) Decode(packet []byte) (*PCM, error) {
	frame := 2 * d.channels
	if len(packet)%frame != 0 {
		return nil, fmt.Errorf("%w: pcm16 packet of %d bytes is not a multiple of %d", domain.ErrDecode, len(packet), frame)
	}
	out := make([]float32, len(packet)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(packet[2*i:]))) / 32768
	}
	return &PCM{Layout: LayoutInterleaved, Channels: d.channels, Samples: out}, nil
}

func (d *PCM16Decoder) Close() error { return nil }

// MulawDecoder decodes G.711 mu-law, interleaved when multichannel.
type MulawDecoder struct {
	channels int
}

func NewMulawDecoder(cfg domain.AudioConfig) (Decoder, error) {
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("pcmu: invalid channel count %d", cfg.Channels)
	}
	return &MulawDecoder{channels: cfg.Channels}, nil
}

func (d *MulawDecoder) Decode(packet []byte) (*PCM, error) {
	if len(packet)%d.channels != 0 {
		return nil, fmt.Errorf("%w: pcmu packet of %d bytes for %d channels", domain.ErrDecode, len(packet), d.channels)
	}
	out := make([]float32, len(packet))
	for i, b := range packet {
		out[i] = float32(mulawToLinear(b)) / 32768
	}
	return &PCM{Layout: LayoutInterleaved, Channels: d.channels, Samples: out}, nil
}

func (d *MulawDecoder) Close() error { return nil }

// mulawToLinear expands one G.711 mu-law byte to a 16-bit sample.
func mulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0f
	sample := ((int32(mantissa) << 3) + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}
