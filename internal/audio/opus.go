//go:build cgo && !noopus

package audio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"moonlink/native/internal/domain"
)

// opusMaxFrameMs is the longest frame an Opus packet can carry.
const opusMaxFrameMs = 120

func init() {
	RegisterDecoder(domain.AudioCodecOpus, NewOpusDecoder)
}

// OpusDecoder decodes mono or stereo Opus packets to interleaved float PCM
// through libopus.
type OpusDecoder struct {
	dec      *opus.Decoder
	channels int
	buf      []float32
}

// NewOpusDecoder builds a decoder for cfg. Opus only runs at 8, 12, 16, 24
// and 48 kHz; a single decoder handles at most two channels.
func NewOpusDecoder(cfg domain.AudioConfig) (Decoder, error) {
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return nil, fmt.Errorf("opus: %d channels not supported", cfg.Channels)
	}
	dec, err := opus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: %d Hz x %d: %w", cfg.SampleRate, cfg.Channels, err)
	}
	return &OpusDecoder{
		dec:      dec,
		channels: cfg.Channels,
		buf:      make([]float32, cfg.SampleRate*opusMaxFrameMs/1000*cfg.Channels),
	}, nil
}

func (d *OpusDecoder) Decode(packet []byte) (*PCM, error) {
	if len(packet) == 0 {
		return nil, fmt.Errorf("%w: empty opus packet", domain.ErrDecode)
	}
	n, err := d.dec.DecodeFloat32(packet, d.buf)
	if err != nil {
		return nil, fmt.Errorf("%w: opus: %w", domain.ErrDecode, err)
	}
	out := make([]float32, n*d.channels)
	copy(out, d.buf)
	return &PCM{Layout: LayoutInterleaved, Channels: d.channels, Samples: out}, nil
}

// Close is a no-op; the libopus state is owned by the Go heap.
func (d *OpusDecoder) Close() error { return nil }
