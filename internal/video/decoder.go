// Package video turns decode units into RGBA frames: assembly, decoding and
// colour conversion, with key-frame resync on failure.
package video

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"moonlink/native/internal/domain"
)

var ErrCodecNotSupported = errors.New("no decoder registered for codec")

// DecoderConfig is what a decoder is built for.
type DecoderConfig struct {
	Codec  domain.VideoCodec
	Width  int
	Height int
	FPS    int
}

// Decoder decodes one elementary-stream access unit at a time. Decode may
// return zero or more pictures; a returned picture is valid until the next
// call.
type Decoder interface {
	Decode(au []byte) ([]*Picture, error)
	Close() error
}

// DecoderFactory builds a decoder.
type DecoderFactory func(cfg DecoderConfig) (Decoder, error)

var decoders = struct {
	mu        sync.RWMutex
	factories map[domain.VideoCodec]DecoderFactory
}{factories: make(map[domain.VideoCodec]DecoderFactory)}

// RegisterDecoder installs the factory for a codec, replacing any previous
// one.
func RegisterDecoder(codec domain.VideoCodec, factory DecoderFactory) {
	decoders.mu.Lock()
	defer decoders.mu.Unlock()
	decoders.factories[codec] = factory
}

// NewDecoder builds a decoder from the registered factory.
func NewDecoder(cfg DecoderConfig) (Decoder, error) {
	decoders.mu.RLock()
	factory, ok := decoders.factories[cfg.Codec]
	decoders.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrCodecNotSupported, cfg.Codec)
	}
	return factory(cfg)
}

// RegisteredCodecs lists codecs with a decoder.
func RegisteredCodecs() []domain.VideoCodec {
	decoders.mu.RLock()
	defer decoders.mu.RUnlock()

	out := make([]domain.VideoCodec, 0, len(decoders.factories))
	for c := range decoders.factories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func init() {
	RegisterDecoder(domain.CodecRawI420, NewRawDecoder)
	for _, c := range []domain.VideoCodec{domain.CodecH264, domain.CodecHEVC, domain.CodecAV1} {
		RegisterDecoder(c, func(cfg DecoderConfig) (Decoder, error) {
			return NewExecDecoder(cfg, ExecOptions{})
		})
	}
}
