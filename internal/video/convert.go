package video

import (
	"fmt"

	"moonlink/native/internal/domain"
)

// Coefficients are the fixed-point (shift 8) YUV to RGB factors.
//
//	yc = (YScale*(Y-YOffset) + Round) >> 8
//	R  = yc + (RV*V >> 8)
//	G  = yc - ((GU*U + GV*V) >> 8)
//	B  = yc + (BU*U >> 8)
//
// with U and V centred on 128.
type Coefficients struct {
	YScale  int32
	YOffset int32
	Round   int32
	RV      int32
	GU      int32
	GV      int32
	BU      int32
}

var (
	rec601Full     = Coefficients{YScale: 256, RV: 359, GU: 88, GV: 183, BU: 454}
	rec601Limited  = Coefficients{YScale: 298, YOffset: 16, Round: 128, RV: 409, GU: 100, GV: 208, BU: 516}
	rec709Full     = Coefficients{YScale: 256, RV: 403, GU: 48, GV: 120, BU: 475}
	rec709Limited  = Coefficients{YScale: 298, YOffset: 16, Round: 128, RV: 459, GU: 55, GV: 136, BU: 541}
	rec2020Full    = Coefficients{YScale: 256, RV: 377, GU: 42, GV: 146, BU: 482}
	rec2020Limited = Coefficients{YScale: 298, YOffset: 16, Round: 128, RV: 430, GU: 48, GV: 167, BU: 548}
)

// CoefficientsFor returns the factors for a colour space and range.
func CoefficientsFor(space domain.ColorSpace, rng domain.ColorRange) (Coefficients, error) {
	full := rng == domain.ColorRangeFull
	switch space {
	case domain.ColorSpaceRec601:
		if full {
			return rec601Full, nil
		}
		return rec601Limited, nil
	case domain.ColorSpaceRec709:
		if full {
			return rec709Full, nil
		}
		return rec709Limited, nil
	case domain.ColorSpaceRec2020:
		if full {
			return rec2020Full, nil
		}
		return rec2020Limited, nil
	}
	return Coefficients{}, fmt.Errorf("unsupported colour space %d", space)
}

// Converter turns planar pictures of one geometry into RGBA.
type Converter struct {
	width  int
	height int
	c      Coefficients
}

// NewConverter builds a converter for the given geometry.
func NewConverter(width, height int, space domain.ColorSpace, rng domain.ColorRange) (*Converter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid converter geometry %dx%d", width, height)
	}
	c, err := CoefficientsFor(space, rng)
	if err != nil {
		return nil, err
	}
	return &Converter{width: width, height: height, c: c}, nil
}

// Matches reports whether the converter was built for this geometry.
func (cv *Converter) Matches(width, height int) bool {
	return cv.width == width && cv.height == height
}

// OutputSize is the RGBA buffer length for the converter geometry.
func (cv *Converter) OutputSize() int {
	return cv.width * cv.height * 4
}

// Convert writes the picture into dst as RGBA rows of width*4 bytes.
func (cv *Converter) Convert(p *Picture, dst []byte) error {
	if !cv.Matches(p.Width, p.Height) {
		return fmt.Errorf("picture %dx%d does not match converter %dx%d", p.Width, p.Height, cv.width, cv.height)
	}
	if len(dst) < cv.OutputSize() {
		return fmt.Errorf("destination too small: %d < %d", len(dst), cv.OutputSize())
	}

	switch p.Format {
	case PixelFormatI420:
		if len(p.Planes) < 3 || len(p.Strides) < 3 {
			return fmt.Errorf("I420 picture needs 3 planes, got %d", len(p.Planes))
		}
		if err := checkPlane(p.Planes[0], p.Strides[0], cv.width, cv.height); err != nil {
			return fmt.Errorf("y plane: %w", err)
		}
		cw, ch := (cv.width+1)/2, (cv.height+1)/2
		if err := checkPlane(p.Planes[1], p.Strides[1], cw, ch); err != nil {
			return fmt.Errorf("u plane: %w", err)
		}
		if err := checkPlane(p.Planes[2], p.Strides[2], cw, ch); err != nil {
			return fmt.Errorf("v plane: %w", err)
		}
		cv.convertI420(p, dst)
	case PixelFormatNV12:
		if len(p.Planes) < 2 || len(p.Strides) < 2 {
			return fmt.Errorf("NV12 picture needs 2 planes, got %d", len(p.Planes))
		}
		if err := checkPlane(p.Planes[0], p.Strides[0], cv.width, cv.height); err != nil {
			return fmt.Errorf("y plane: %w", err)
		}
		if err := checkPlane(p.Planes[1], p.Strides[1], 2*((cv.width+1)/2), (cv.height+1)/2); err != nil {
			return fmt.Errorf("uv plane: %w", err)
		}
		cv.convertNV12(p, dst)
	default:
		return fmt.Errorf("unsupported pixel format %v", p.Format)
	}
	return nil
}

func checkPlane(plane []byte, stride, width, rows int) error {
	if stride < width {
		return fmt.Errorf("stride %d below width %d", stride, width)
	}
	if need := stride*(rows-1) + width; len(plane) < need {
		return fmt.Errorf("plane has %d bytes, need %d", len(plane), need)
	}
	return nil
}

func (cv *Converter) convertI420(p *Picture, dst []byte) {
	yp, up, vp := p.Planes[0], p.Planes[1], p.Planes[2]
	ys, us, vs := p.Strides[0], p.Strides[1], p.Strides[2]
	for row := 0; row < cv.height; row++ {
		yRow := yp[row*ys:]
		uRow := up[(row/2)*us:]
		vRow := vp[(row/2)*vs:]
		out := dst[row*cv.width*4:]
		for col := 0; col < cv.width; col++ {
			cv.pixel(out[col*4:col*4+4], yRow[col], uRow[col/2], vRow[col/2])
		}
	}
}

func (cv *Converter) convertNV12(p *Picture, dst []byte) {
	yp, uvp := p.Planes[0], p.Planes[1]
	ys, uvs := p.Strides[0], p.Strides[1]
	for row := 0; row < cv.height; row++ {
		yRow := yp[row*ys:]
		uvRow := uvp[(row/2)*uvs:]
		out := dst[row*cv.width*4:]
		for col := 0; col < cv.width; col++ {
			c := (col / 2) * 2
			cv.pixel(out[col*4:col*4+4], yRow[col], uvRow[c], uvRow[c+1])
		}
	}
}

func (cv *Converter) pixel(out []byte, y, u, v byte) {
	c := &cv.c
	yc := (c.YScale*(int32(y)-c.YOffset) + c.Round) >> 8
	cu := int32(u) - 128
	cr := int32(v) - 128

	out[0] = clamp(yc + (c.RV*cr)>>8)
	out[1] = clamp(yc - (c.GU*cu+c.GV*cr)>>8)
	out[2] = clamp(yc + (c.BU*cu)>>8)
	out[3] = 255
}

func clamp(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
