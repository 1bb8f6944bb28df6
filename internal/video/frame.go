package video

// PixelFormat of a decoded picture.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // Y, U, V planes, chroma subsampled 2x2
	PixelFormatNV12                    // Y plane, interleaved UV plane
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "unknown"
	}
}

// Picture is one decoder output in its native planar layout.
type Picture struct {
	Format  PixelFormat
	Width   int
	Height  int
	Planes  [][]byte
	Strides []int
}

// I420Size returns the byte size of a tightly packed I420 picture.
func I420Size(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// PackedI420 wraps a tightly packed I420 buffer as a Picture.
func PackedI420(buf []byte, width, height int) *Picture {
	cw, ch := (width+1)/2, (height+1)/2
	ySize := width * height
	cSize := cw * ch
	return &Picture{
		Format: PixelFormatI420,
		Width:  width,
		Height: height,
		Planes: [][]byte{
			buf[:ySize],
			buf[ySize : ySize+cSize],
			buf[ySize+cSize : ySize+2*cSize],
		},
		Strides: []int{width, cw, cw},
	}
}

// Frame is a converted picture: interleaved 8-bit RGBA with opaque alpha.
type Frame struct {
	Width       int
	Height      int
	Stride      int
	Pix         []byte
	FrameNumber int
	FrameType   int
}

// FrameSink receives converted frames. PushFrame must copy pix before
// returning; the pipeline reuses the buffer.
type FrameSink interface {
	PushFrame(f *Frame)
}
