package domain

import (
	"fmt"
)

// VideoCodec identifies the negotiated video elementary stream format.
type VideoCodec int

const (
	CodecUnknown VideoCodec = iota
	CodecH264
	CodecHEVC
	CodecAV1
	CodecRawI420 // uncompressed I420 pictures carried in the decode unit
)

func (c VideoCodec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecHEVC:
		return "HEVC"
	case CodecAV1:
		return "AV1"
	case CodecRawI420:
		return "RAW-I420"
	default:
		return "Unknown"
	}
}

// ParseVideoCodec maps a profile name to a codec.
func ParseVideoCodec(s string) (VideoCodec, error) {
	switch s {
	case "h264", "H264", "avc":
		return CodecH264, nil
	case "hevc", "HEVC", "h265", "H265":
		return CodecHEVC, nil
	case "av1", "AV1":
		return CodecAV1, nil
	case "raw", "i420":
		return CodecRawI420, nil
	}
	return CodecUnknown, fmt.Errorf("unknown video codec %q", s)
}

// Server codec mode support flags reported by /serverinfo.
const (
	SCMH264        uint32 = 0x00000001
	SCMHEVC        uint32 = 0x00000100
	SCMHEVCMain10  uint32 = 0x00000200
	SCMAV1Main8    uint32 = 0x00010000
	SCMAV1Main10   uint32 = 0x00020000
	SCMH264High444 uint32 = 0x00040000

	SCMMaskH264 = SCMH264 | SCMH264High444
	SCMMaskHEVC = SCMHEVC | SCMHEVCMain10
	SCMMaskAV1  = SCMAV1Main8 | SCMAV1Main10
)

// SupportMask returns the server codec mode bits that allow this codec.
// Raw pictures need no host encoder support and return 0.
func (c VideoCodec) SupportMask() uint32 {
	switch c {
	case CodecH264:
		return SCMMaskH264
	case CodecHEVC:
		return SCMMaskHEVC
	case CodecAV1:
		return SCMMaskAV1
	default:
		return 0
	}
}

// ColorSpace selects the YUV matrix coefficients.
type ColorSpace int

const (
	ColorSpaceRec601 ColorSpace = iota
	ColorSpaceRec709
	ColorSpaceRec2020
)

func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceRec601:
		return "Rec601"
	case ColorSpaceRec709:
		return "Rec709"
	case ColorSpaceRec2020:
		return "Rec2020"
	default:
		return "Unknown"
	}
}

// ColorRange selects limited (16-235) or full (0-255) luma quantisation.
type ColorRange int

const (
	ColorRangeLimited ColorRange = iota
	ColorRangeFull
)

func (r ColorRange) String() string {
	if r == ColorRangeFull {
		return "full"
	}
	return "limited"
}

const (
	RemoteInputKeySize  = 16
	MinRemoteInputIVLen = 4
	DefaultPacketSize   = 1392
)

// StreamConfig is the immutable per-session stream configuration.
type StreamConfig struct {
	HostAddress string

	Width         int
	Height        int
	FPS           int
	BitrateKbps   int
	PacketSize    int
	VideoCodec    VideoCodec
	ColorSpace    ColorSpace
	ColorRange    ColorRange
	AudioChannels int

	RemoteInputKey []byte
	RemoteInputIV  []byte

	ServerAppVersion       string
	ServerCodecModeSupport uint32
	RTSPSessionURL         string
}

// Validate checks the invariants that must hold before any network I/O.
// Every failure wraps ErrConfigValidation.
func (c *StreamConfig) Validate() error {
	if len(c.RemoteInputKey) != RemoteInputKeySize {
		return fmt.Errorf("%w: remote input key must be exactly %d bytes, got %d",
			ErrConfigValidation, RemoteInputKeySize, len(c.RemoteInputKey))
	}
	if len(c.RemoteInputIV) < MinRemoteInputIVLen {
		return fmt.Errorf("%w: remote input iv must be at least %d bytes, got %d",
			ErrConfigValidation, MinRemoteInputIVLen, len(c.RemoteInputIV))
	}
	if c.ServerAppVersion == "" {
		return fmt.Errorf("%w: server app version is required (from /serverinfo)", ErrConfigValidation)
	}
	if c.ServerCodecModeSupport == 0 {
		return fmt.Errorf("%w: server codec mode support is required (from /serverinfo)", ErrConfigValidation)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: invalid geometry %dx%d", ErrConfigValidation, c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: invalid fps %d", ErrConfigValidation, c.FPS)
	}
	if c.VideoCodec == CodecUnknown {
		return fmt.Errorf("%w: video codec not set", ErrConfigValidation)
	}
	if mask := c.VideoCodec.SupportMask(); mask != 0 && c.ServerCodecModeSupport&mask == 0 {
		return fmt.Errorf("%w: host does not support %s (codec mode support 0x%x)",
			ErrConfigValidation, c.VideoCodec, c.ServerCodecModeSupport)
	}
	return nil
}

// EffectivePacketSize returns PacketSize or the protocol default.
func (c *StreamConfig) EffectivePacketSize() int {
	if c.PacketSize > 0 {
		return c.PacketSize
	}
	return DefaultPacketSize
}
