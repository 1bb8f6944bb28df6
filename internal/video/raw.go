package video

import "fmt"

// RawDecoder treats each access unit as one tightly packed I420 picture.
type RawDecoder struct {
	width  int
	height int
}

// NewRawDecoder is the DecoderFactory for domain.CodecRawI420.
func NewRawDecoder(cfg DecoderConfig) (Decoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("raw decoder: invalid geometry %dx%d", cfg.Width, cfg.Height)
	}
	return &RawDecoder{width: cfg.Width, height: cfg.Height}, nil
}

func (d *RawDecoder) Decode(au []byte) ([]*Picture, error) {
	want := I420Size(d.width, d.height)
	if len(au) != want {
		return nil, fmt.Errorf("raw picture is %d bytes, want %d for %dx%d", len(au), want, d.width, d.height)
	}
	return []*Picture{PackedI420(au, d.width, d.height)}, nil
}

func (d *RawDecoder) Close() error { return nil }
