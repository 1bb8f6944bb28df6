package domain

// Context is the opaque value a session hands to the streaming library at
// connect time. The library passes it back on the callbacks that carry one.
type Context uint64

// NoContext is never issued by a registry.
const NoContext Context = 0

// Decoder return codes for VideoCallbacks.Submit.
const (
	DrOK      = 0
	DrNeedIDR = -1
)

// AudioCodec of the negotiated audio stream.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecOpus
	AudioCodecPCM16 // little-endian interleaved signed 16-bit
	AudioCodecPCMU  // G.711 mu-law
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "opus"
	case AudioCodecPCM16:
		return "pcm16"
	case AudioCodecPCMU:
		return "pcmu"
	default:
		return "unknown"
	}
}

// AudioConfig is the host's negotiated audio format. It is authoritative
// over any session defaults.
type AudioConfig struct {
	Codec           AudioCodec
	SampleRate      int
	Channels        int
	SamplesPerFrame int
}

// Audio configuration words as packed by the host protocol:
// channel mask in the high 16 bits, channel count in bits 8-15, 0xCA tag.
const (
	AudioConfigStereo      uint32 = 0x000302CA
	AudioConfig51Surround  uint32 = 0x003F06CA
	AudioConfig71Surround  uint32 = 0x063F08CA
	audioConfigTag         uint32 = 0xCA
	audioConfigChannelMask uint32 = 0xFF00
)

// AudioConfigChannels extracts the channel count from a packed audio
// configuration word, returning 0 if the tag is wrong.
func AudioConfigChannels(packed uint32) int {
	if packed&0xFF != audioConfigTag {
		return 0
	}
	return int((packed & audioConfigChannelMask) >> 8)
}

// AudioConfigForChannels returns the packed word for a channel count.
func AudioConfigForChannels(n int) uint32 {
	switch n {
	case 6:
		return AudioConfig51Surround
	case 8:
		return AudioConfig71Surround
	default:
		return AudioConfigStereo
	}
}

// VideoCallbacks is the decoder renderer table. Setup receives the context
// supplied at connect time; Cleanup and Submit do not.
type VideoCallbacks struct {
	Setup   func(codec VideoCodec, width, height, fps int, ctx Context) int
	Cleanup func()
	Submit  func(du *DecodeUnit) int
}

// AudioCallbacks is the audio renderer table. Only Init carries a context.
type AudioCallbacks struct {
	Init          func(cfg AudioConfig, ctx Context) int
	DecodeAndPlay func(data []byte)
	Cleanup       func()
}

// ConnectionCallbacks is the connection listener table. None of its slots
// carry a context.
type ConnectionCallbacks struct {
	StageStarting func(stage Stage)
	StageComplete func(stage Stage)
	StageFailed   func(stage Stage, code int)
	Started       func()
	Terminated    func(code int)
	StatusUpdate  func(status ConnectionStatus)
}

// Callbacks bundles the tables handed to Library.StartConnection.
type Callbacks struct {
	Video      VideoCallbacks
	Audio      AudioCallbacks
	Connection ConnectionCallbacks
}
