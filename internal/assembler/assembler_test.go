package assembler

import (
	"bytes"
	"errors"
	"testing"

	"moonlink/native/internal/domain"
)

func unit(total int, frags ...string) *domain.DecodeUnit {
	du := &domain.DecodeUnit{FrameNumber: 7, TotalLength: total}
	for _, f := range frags {
		du.Fragments = append(du.Fragments, domain.Fragment{Data: []byte(f)})
	}
	return du
}

func TestAssemble(t *testing.T) {
	tests := []struct {
		name    string
		du      *domain.DecodeUnit
		want    string
		wantErr error
	}{
		{"exact", unit(9, "abc", "def", "ghi"), "abcdefghi", nil},
		{"single", unit(4, "abcd"), "abcd", nil},
		{"empty fragments kept in order", unit(4, "ab", "", "cd"), "abcd", nil},
		{"zero length", unit(0), "", nil},
		{"short", unit(10, "abc", "def"), "", domain.ErrTruncated},
		{"no fragments", unit(3), "", domain.ErrTruncated},
		{"overrun clamped", unit(5, "abc", "defgh"), "abcde", nil},
		{"trailing fragment ignored", unit(3, "abc", "zzz"), "abc", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Assemble(tt.du)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if got != nil {
					t.Error("partial output returned with error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if len(got) != tt.du.TotalLength {
				t.Errorf("len = %d, want %d", len(got), tt.du.TotalLength)
			}
		})
	}
}

func TestAssembleNeverWritesPastTotal(t *testing.T) {
	backing := make([]byte, 8)
	for i := range backing {
		backing[i] = 0xee
	}
	a := Assembler{buf: backing[:4:4]}

	out, err := a.Assemble(unit(4, "abcdefgh"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "abcd" {
		t.Errorf("got %q", out)
	}
	if !bytes.Equal(backing[4:], []byte{0xee, 0xee, 0xee, 0xee}) {
		t.Errorf("wrote past the declared length: %x", backing)
	}
}

func TestAssemblerReusesBuffer(t *testing.T) {
	var a Assembler
	first, err := a.Assemble(unit(6, "abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Assemble(unit(3, "xyz"))
	if err != nil {
		t.Fatal(err)
	}
	if &first[0] != &second[0] {
		t.Error("expected the output buffer to be reused")
	}
}

func TestAssembleInto(t *testing.T) {
	dst := []byte("hdr:")
	out, err := AssembleInto(dst, unit(6, "abc", "def"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "hdr:abcdef" {
		t.Errorf("got %q", out)
	}

	dst = make([]byte, 2, 64)
	copy(dst, "ok")
	out, err = AssembleInto(dst, unit(3, "xyz"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "okxyz" {
		t.Errorf("got %q", out)
	}
	if &out[0] != &dst[0] {
		t.Error("expected assembly in place when capacity allows")
	}

	if _, err := AssembleInto(nil, unit(4, "ab")); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}
