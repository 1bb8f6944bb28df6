package video

import (
	"bytes"
	"testing"

	"moonlink/native/internal/domain"
)

func convertOne(t *testing.T, space domain.ColorSpace, rng domain.ColorRange, y, u, v byte) [4]byte {
	t.Helper()
	cv, err := NewConverter(2, 2, space, rng)
	if err != nil {
		t.Fatal(err)
	}
	pic := &Picture{
		Format:  PixelFormatI420,
		Width:   2,
		Height:  2,
		Planes:  [][]byte{{y, y, y, y}, {u}, {v}},
		Strides: []int{2, 1, 1},
	}
	dst := make([]byte, cv.OutputSize())
	if err := cv.Convert(pic, dst); err != nil {
		t.Fatal(err)
	}
	for i := 4; i < len(dst); i += 4 {
		if !bytes.Equal(dst[i:i+4], dst[:4]) {
			t.Fatalf("uniform picture produced non-uniform output: %v", dst)
		}
	}
	return [4]byte{dst[0], dst[1], dst[2], dst[3]}
}

func TestConvertVectors(t *testing.T) {
	tests := []struct {
		name    string
		space   domain.ColorSpace
		rng     domain.ColorRange
		y, u, v byte
		want    [4]byte
	}{
		{"601 full grey", domain.ColorSpaceRec601, domain.ColorRangeFull, 128, 128, 128, [4]byte{128, 128, 128, 255}},
		{"601 full red", domain.ColorSpaceRec601, domain.ColorRangeFull, 76, 85, 255, [4]byte{254, 0, 0, 255}},
		{"601 full black", domain.ColorSpaceRec601, domain.ColorRangeFull, 0, 128, 128, [4]byte{0, 0, 0, 255}},
		{"601 full white", domain.ColorSpaceRec601, domain.ColorRangeFull, 255, 128, 128, [4]byte{255, 255, 255, 255}},
		{"601 limited black", domain.ColorSpaceRec601, domain.ColorRangeLimited, 16, 128, 128, [4]byte{0, 0, 0, 255}},
		{"601 limited white", domain.ColorSpaceRec601, domain.ColorRangeLimited, 235, 128, 128, [4]byte{255, 255, 255, 255}},
		{"709 limited black", domain.ColorSpaceRec709, domain.ColorRangeLimited, 16, 128, 128, [4]byte{0, 0, 0, 255}},
		{"709 full grey", domain.ColorSpaceRec709, domain.ColorRangeFull, 100, 128, 128, [4]byte{100, 100, 100, 255}},
		{"2020 limited white", domain.ColorSpaceRec2020, domain.ColorRangeLimited, 235, 128, 128, [4]byte{255, 255, 255, 255}},
		{"clamp high", domain.ColorSpaceRec601, domain.ColorRangeFull, 255, 255, 255, [4]byte{255, 121, 255, 255}},
		{"clamp low", domain.ColorSpaceRec601, domain.ColorRangeLimited, 0, 0, 0, [4]byte{0, 135, 0, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertOne(t, tt.space, tt.rng, tt.y, tt.u, tt.v)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConvertNV12MatchesI420(t *testing.T) {
	const w, h = 4, 2
	y := []byte{10, 60, 110, 160, 210, 20, 70, 120}
	u := []byte{90, 170}
	v := []byte{200, 40}

	cv, err := NewConverter(w, h, domain.ColorSpaceRec709, domain.ColorRangeLimited)
	if err != nil {
		t.Fatal(err)
	}

	i420 := &Picture{Format: PixelFormatI420, Width: w, Height: h, Planes: [][]byte{y, u, v}, Strides: []int{w, 2, 2}}
	nv12 := &Picture{Format: PixelFormatNV12, Width: w, Height: h, Planes: [][]byte{y, {u[0], v[0], u[1], v[1]}}, Strides: []int{w, w}}

	a := make([]byte, cv.OutputSize())
	b := make([]byte, cv.OutputSize())
	if err := cv.Convert(i420, a); err != nil {
		t.Fatal(err)
	}
	if err := cv.Convert(nv12, b); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("I420 and NV12 outputs differ\n%v\n%v", a, b)
	}
}

func TestConvertHonoursStride(t *testing.T) {
	cv, err := NewConverter(2, 2, domain.ColorSpaceRec601, domain.ColorRangeFull)
	if err != nil {
		t.Fatal(err)
	}
	// Rows padded to 8 bytes; padding bytes must be ignored.
	y := []byte{50, 50, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 50, 50}
	pic := &Picture{Format: PixelFormatI420, Width: 2, Height: 2, Planes: [][]byte{y, {128}, {128}}, Strides: []int{8, 1, 1}}

	dst := make([]byte, cv.OutputSize())
	if err := cv.Convert(pic, dst); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(dst); i += 4 {
		if dst[i] != 50 {
			t.Fatalf("pixel %d = %v, padding leaked into output", i/4, dst[i:i+4])
		}
	}
}

func TestConvertRejectsBadInput(t *testing.T) {
	cv, _ := NewConverter(4, 4, domain.ColorSpaceRec601, domain.ColorRangeFull)
	dst := make([]byte, cv.OutputSize())

	tests := []struct {
		name string
		pic  *Picture
	}{
		{"geometry", &Picture{Format: PixelFormatI420, Width: 2, Height: 2}},
		{"short plane", &Picture{Format: PixelFormatI420, Width: 4, Height: 4, Planes: [][]byte{make([]byte, 10), make([]byte, 4), make([]byte, 4)}, Strides: []int{4, 2, 2}}},
		{"missing planes", &Picture{Format: PixelFormatNV12, Width: 4, Height: 4, Planes: [][]byte{make([]byte, 16)}, Strides: []int{4}}},
		{"format", &Picture{Format: PixelFormat(9), Width: 4, Height: 4}},
	}
	for _, tt := range tests {
		if err := cv.Convert(tt.pic, dst); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	if err := cv.Convert(PackedI420(make([]byte, I420Size(4, 4)), 4, 4), make([]byte, 3)); err == nil {
		t.Error("expected error for short destination")
	}
}

func TestOddGeometry(t *testing.T) {
	cv, err := NewConverter(3, 3, domain.ColorSpaceRec601, domain.ColorRangeFull)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, I420Size(3, 3))
	for i := range buf {
		buf[i] = 128
	}
	if err := cv.Convert(PackedI420(buf, 3, 3), make([]byte, cv.OutputSize())); err != nil {
		t.Fatal(err)
	}
}
