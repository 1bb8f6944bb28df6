package webrtc

import "moonlink/native/internal/domain"

// RFC 6184 payload structures.
const (
	nalTypeMask = 0x1f
	nalSTAPA    = 24
	nalFUA      = 28

	fuStart = 0x80
	fuEnd   = 0x40
)

// NALU is one depacketized H264 NAL unit, without start code.
type NALU struct {
	Type byte
	Data []byte
}

// BufferType classifies the unit for the decode unit fragment list.
func (n NALU) BufferType() domain.BufferType {
	switch n.Type {
	case nalSPS:
		return domain.BufferTypeSPS
	case nalPPS:
		return domain.BufferTypePPS
	default:
		return domain.BufferTypePicData
	}
}

// H264Depacketizer turns RTP H264 payloads back into NAL units. Each
// instance owns its FU-A reassembly buffer.
type H264Depacketizer struct {
	fu      []byte
	inFU    bool
	lastSeq uint16

	malformed int
}

func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Malformed counts payloads that were rejected outright.
func (d *H264Depacketizer) Malformed() int { return d.malformed }

// Reset drops any partially reassembled FU-A unit.
func (d *H264Depacketizer) Reset() {
	d.fu = nil
	d.inFU = false
}

// Depacketize handles single NAL, STAP-A and FU-A payloads. Data slices
// of single and aggregated units alias payload. A fragmented unit is only
// returned when every fragment arrived in sequence.
func (d *H264Depacketizer) Depacketize(seq uint16, payload []byte) []NALU {
	if len(payload) == 0 {
		return nil
	}

	switch t := payload[0] & nalTypeMask; {
	case t >= 1 && t < nalSTAPA:
		d.Reset()
		return []NALU{{Type: t, Data: payload}}
	case t == nalSTAPA:
		d.Reset()
		return d.aggregate(payload[1:])
	case t == nalFUA:
		return d.fragment(seq, payload)
	default:
		// STAP-B, MTAP and FU-B are not used in packetization-mode=1.
		d.malformed++
		return nil
	}
}

// aggregate splits a STAP-A body. A zero size ends the list; a size that
// overruns the payload discards the whole packet.
func (d *H264Depacketizer) aggregate(body []byte) []NALU {
	var out []NALU
	for len(body) >= 2 {
		size := int(body[0])<<8 | int(body[1])
		body = body[2:]
		if size == 0 {
			break
		}
		if size > len(body) {
			d.malformed++
			return nil
		}
		out = append(out, NALU{Type: body[0] & nalTypeMask, Data: body[:size]})
		body = body[size:]
	}
	return out
}

func (d *H264Depacketizer) fragment(seq uint16, payload []byte) []NALU {
	if len(payload) < 2 {
		d.malformed++
		return nil
	}
	indicator, header := payload[0], payload[1]
	if header&fuStart != 0 && header&fuEnd != 0 {
		d.malformed++
		d.Reset()
		return nil
	}

	switch {
	case header&fuStart != 0:
		d.fu = append(make([]byte, 0, 2*len(payload)), indicator&0xe0|header&nalTypeMask)
		d.inFU = true
	case !d.inFU:
		return nil
	case seq != d.lastSeq+1:
		d.Reset()
		return nil
	}
	d.lastSeq = seq
	d.fu = append(d.fu, payload[2:]...)

	if header&fuEnd == 0 {
		return nil
	}
	n := NALU{Type: header & nalTypeMask, Data: d.fu}
	d.Reset()
	return []NALU{n}
}
