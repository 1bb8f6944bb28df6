package domain

// FrameType of a video decode unit.
type FrameType int

const (
	FrameTypePFrame FrameType = 0x00
	FrameTypeIDR    FrameType = 0x01
)

// BufferType tags a fragment of a decode unit.
type BufferType int

const (
	BufferTypePicData BufferType = 0x00
	BufferTypeSPS     BufferType = 0x01
	BufferTypePPS     BufferType = 0x02
	BufferTypeVPS     BufferType = 0x03
)

// Fragment is one scattered segment of a decode unit.
type Fragment struct {
	Data []byte
	Type BufferType
}

// DecodeUnit is one encoded access unit delivered as an ordered fragment
// list. It is only valid for the duration of the submit callback.
type DecodeUnit struct {
	FrameNumber  int
	FrameType    FrameType
	RTPTimestamp uint32
	ReceiveTime  int64 // unix microseconds
	TotalLength  int
	Fragments    []Fragment
}

// FragmentLength sums the fragment sizes.
func (du *DecodeUnit) FragmentLength() int {
	n := 0
	for _, f := range du.Fragments {
		n += len(f.Data)
	}
	return n
}
