package webrtc

import (
	"time"

	"moonlink/native/internal/domain"

	"github.com/pion/rtp"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264 NAL unit types the builder cares about.
const (
	nalIDR = 5
	nalSPS = 7
	nalPPS = 8
)

// AccessUnitBuilder groups depacketized NAL units into decode units. An
// access unit ends at the RTP marker bit; one with a sequence gap is
// discarded whole.
type AccessUnitBuilder struct {
	depack *H264Depacketizer

	frags     []domain.Fragment
	total     int
	ts        uint32
	idr       bool
	corrupt   bool
	open      bool
	lastSeq   uint16
	haveSeq   bool
	frameNum  int
	dropped   int
	firstSeen time.Time
}

// NewAccessUnitBuilder creates a builder with its own depacketizer.
func NewAccessUnitBuilder() *AccessUnitBuilder {
	return &AccessUnitBuilder{depack: NewH264Depacketizer()}
}

// Dropped reports how many access units were discarded.
func (b *AccessUnitBuilder) Dropped() int { return b.dropped }

// Push feeds one RTP packet. It returns a completed decode unit when pkt
// carries the marker bit, nil otherwise.
func (b *AccessUnitBuilder) Push(pkt *rtp.Packet, now time.Time) *domain.DecodeUnit {
	seq := pkt.SequenceNumber
	gap := b.haveSeq && seq != b.lastSeq+1
	b.lastSeq, b.haveSeq = seq, true

	if b.open && pkt.Timestamp != b.ts {
		// Previous unit never saw its marker.
		b.discard()
	}
	if !b.open {
		b.open = true
		b.ts = pkt.Timestamp
		b.firstSeen = now
	}
	if gap {
		b.corrupt = true
	}

	for _, nalu := range b.depack.Depacketize(seq, pkt.Payload) {
		if len(nalu.Data) == 0 {
			continue
		}
		b.addNALU(nalu)
	}

	if !pkt.Marker {
		return nil
	}
	if b.corrupt || len(b.frags) == 0 {
		b.discard()
		return nil
	}

	b.frameNum++
	du := &domain.DecodeUnit{
		FrameNumber:  b.frameNum,
		FrameType:    domain.FrameTypePFrame,
		RTPTimestamp: b.ts,
		ReceiveTime:  b.firstSeen.UnixMicro(),
		TotalLength:  b.total,
		Fragments:    b.frags,
	}
	if b.idr {
		du.FrameType = domain.FrameTypeIDR
	}
	b.reset()
	return du
}

func (b *AccessUnitBuilder) addNALU(nalu NALU) {
	if nalu.Type == nalIDR {
		b.idr = true
	}
	data := make([]byte, 0, len(startCode)+len(nalu.Data))
	data = append(data, startCode...)
	data = append(data, nalu.Data...)
	b.frags = append(b.frags, domain.Fragment{Data: data, Type: nalu.BufferType()})
	b.total += len(data)
}

// Malformed reports payloads the depacketizer rejected.
func (b *AccessUnitBuilder) Malformed() int { return b.depack.Malformed() }

func (b *AccessUnitBuilder) discard() {
	if len(b.frags) > 0 || b.corrupt {
		b.dropped++
	}
	b.depack.Reset()
	b.reset()
}

func (b *AccessUnitBuilder) reset() {
	b.frags = nil
	b.total = 0
	b.idr = false
	b.corrupt = false
	b.open = false
}
