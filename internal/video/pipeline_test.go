package video

import (
	"errors"
	"sync"
	"testing"

	"moonlink/native/internal/domain"
)

type captureSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (s *captureSink) PushFrame(f *Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *f
	c.Pix = append([]byte(nil), f.Pix...)
	s.frames = append(s.frames, c)
}

type fakeDecoder struct {
	cfg    DecoderConfig
	fail   bool
	closed bool
	calls  int
}

func (d *fakeDecoder) Decode(au []byte) ([]*Picture, error) {
	d.calls++
	if d.fail {
		return nil, errors.New("bitstream error")
	}
	buf := make([]byte, I420Size(d.cfg.Width, d.cfg.Height))
	for i := range buf {
		buf[i] = 128
	}
	return []*Picture{PackedI420(buf, d.cfg.Width, d.cfg.Height)}, nil
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

type fakeFactory struct {
	built   []*fakeDecoder
	failNew bool
	failDec bool
}

func (f *fakeFactory) New(cfg DecoderConfig) (Decoder, error) {
	if f.failNew {
		return nil, errors.New("no hardware")
	}
	d := &fakeDecoder{cfg: cfg, fail: f.failDec}
	f.built = append(f.built, d)
	return d, nil
}

func du(n int, payload string) *domain.DecodeUnit {
	return &domain.DecodeUnit{
		FrameNumber: n,
		TotalLength: len(payload),
		Fragments:   []domain.Fragment{{Data: []byte(payload)}},
	}
}

func TestPipelineLazyInit(t *testing.T) {
	sink := &captureSink{}
	ff := &fakeFactory{}
	p := NewPipeline(sink, Options{NewDecoder: ff.New, ColorRange: domain.ColorRangeFull})

	p.Setup(domain.CodecH264, 4, 2, 60)
	if p.State() != StateUninitialized || len(ff.built) != 0 {
		t.Fatal("decoder must not be built before the first unit")
	}

	if rc := p.Submit(du(1, "frame")); rc != domain.DrOK {
		t.Fatalf("Submit = %d", rc)
	}
	if p.State() != StateDecoding || len(ff.built) != 1 {
		t.Fatalf("state %v, built %d", p.State(), len(ff.built))
	}
	if len(sink.frames) != 1 {
		t.Fatalf("frames = %d", len(sink.frames))
	}
	f := sink.frames[0]
	if f.Width != 4 || f.Height != 2 || len(f.Pix) != 4*2*4 || f.FrameNumber != 1 {
		t.Errorf("unexpected frame %+v", f)
	}
	if f.Pix[0] != 128 || f.Pix[3] != 255 {
		t.Errorf("pixel = %v", f.Pix[:4])
	}

	p.Submit(du(2, "frame"))
	if len(ff.built) != 1 {
		t.Error("decoder rebuilt without a format change")
	}
}

func TestPipelineGeometryChangeRebuilds(t *testing.T) {
	ff := &fakeFactory{}
	p := NewPipeline(&captureSink{}, Options{NewDecoder: ff.New})

	p.Setup(domain.CodecH264, 4, 2, 60)
	p.Submit(du(1, "x"))
	p.Setup(domain.CodecH264, 8, 4, 60)
	if p.State() != StateUninitialized {
		t.Fatal("geometry change must return to Uninitialized")
	}
	if !ff.built[0].closed {
		t.Error("old decoder not closed")
	}
	p.Submit(du(2, "x"))
	if len(ff.built) != 2 || ff.built[1].cfg.Width != 8 {
		t.Errorf("decoder not rebuilt for new geometry")
	}

	p.Setup(domain.CodecH264, 8, 4, 30)
	if p.State() != StateDecoding {
		t.Error("fps change alone should keep the decoder")
	}
}

func TestPipelineCleanup(t *testing.T) {
	ff := &fakeFactory{}
	p := NewPipeline(nil, Options{NewDecoder: ff.New})
	p.Setup(domain.CodecH264, 2, 2, 60)
	p.Submit(du(1, "x"))
	p.Cleanup()
	if p.State() != StateUninitialized || !ff.built[0].closed {
		t.Error("cleanup did not release the decoder")
	}
}

func TestPipelineUnitAfterCleanupIsDropped(t *testing.T) {
	ff := &fakeFactory{}
	sink := &captureSink{}
	p := NewPipeline(sink, Options{NewDecoder: ff.New})
	p.Setup(domain.CodecH264, 2, 2, 60)
	p.Submit(du(1, "x"))
	p.Cleanup()

	if rc := p.Submit(du(2, "x")); rc != domain.DrOK {
		t.Errorf("late Submit = %d, want DrOK", rc)
	}
	if len(ff.built) != 1 || !ff.built[0].closed {
		t.Fatalf("built %d decoders after cleanup", len(ff.built))
	}
	if p.State() != StateUninitialized {
		t.Errorf("state = %v", p.State())
	}
	if got := p.Stats().Late; got != 1 {
		t.Errorf("late = %d", got)
	}
	if len(sink.frames) != 1 {
		t.Errorf("frames = %d", len(sink.frames))
	}

	// A new Setup reopens the pipeline.
	p.Setup(domain.CodecH264, 2, 2, 60)
	p.Submit(du(3, "x"))
	if len(ff.built) != 2 || p.State() != StateDecoding {
		t.Errorf("setup did not reopen: built %d, state %v", len(ff.built), p.State())
	}
}

func TestPipelineConstructionFailureRequestsIDR(t *testing.T) {
	ff := &fakeFactory{failNew: true}
	p := NewPipeline(nil, Options{NewDecoder: ff.New})
	p.Setup(domain.CodecHEVC, 2, 2, 60)

	if rc := p.Submit(du(1, "x")); rc != domain.DrNeedIDR {
		t.Fatalf("Submit = %d, want DrNeedIDR", rc)
	}
	if p.State() != StateUninitialized {
		t.Error("failed construction must stay Uninitialized")
	}

	ff.failNew = false
	if rc := p.Submit(du(2, "x")); rc != domain.DrOK {
		t.Errorf("retry Submit = %d", rc)
	}
	if st := p.Stats(); st.IDRRequests != 1 || st.Converted != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPipelineFatalAfterRepeatedFailures(t *testing.T) {
	ff := &fakeFactory{failDec: true}
	var fatal []error
	p := NewPipeline(nil, Options{
		NewDecoder:             ff.New,
		MaxConsecutiveFailures: 3,
		OnFatal:                func(err error) { fatal = append(fatal, err) },
	})
	p.Setup(domain.CodecH264, 2, 2, 60)

	for i := 0; i < 5; i++ {
		if rc := p.Submit(du(i, "x")); rc != domain.DrNeedIDR {
			t.Fatalf("Submit %d = %d", i, rc)
		}
	}
	if len(fatal) != 1 {
		t.Fatalf("OnFatal called %d times, want 1", len(fatal))
	}
	if !errors.Is(fatal[0], domain.ErrDecode) {
		t.Errorf("fatal error %v does not wrap ErrDecode", fatal[0])
	}
}

func TestPipelineSuccessResetsFailures(t *testing.T) {
	ff := &fakeFactory{}
	calls := 0
	p := NewPipeline(nil, Options{
		NewDecoder:             ff.New,
		MaxConsecutiveFailures: 2,
		OnFatal:                func(error) { calls++ },
	})
	p.Setup(domain.CodecH264, 2, 2, 60)
	p.Submit(du(0, "x"))

	for i := 0; i < 3; i++ {
		ff.built[0].fail = true
		p.Submit(du(1, "x"))
		ff.built[0].fail = false
		p.Submit(du(2, "x"))
	}
	if calls != 0 {
		t.Errorf("OnFatal called %d times for isolated failures", calls)
	}
}

func TestPipelineDropsTruncatedUnit(t *testing.T) {
	ff := &fakeFactory{}
	sink := &captureSink{}
	p := NewPipeline(sink, Options{NewDecoder: ff.New})
	p.Setup(domain.CodecH264, 2, 2, 60)

	short := &domain.DecodeUnit{FrameNumber: 1, TotalLength: 10, Fragments: []domain.Fragment{{Data: []byte("abc")}}}
	if rc := p.Submit(short); rc != domain.DrOK {
		t.Errorf("Submit = %d, truncation is not a resync condition", rc)
	}
	if len(ff.built) != 0 || len(sink.frames) != 0 {
		t.Error("truncated unit reached the decoder")
	}
	if p.Stats().Truncated != 1 {
		t.Errorf("stats = %+v", p.Stats())
	}
}

func TestPipelineRawDecoder(t *testing.T) {
	sink := &captureSink{}
	p := NewPipeline(sink, Options{ColorSpace: domain.ColorSpaceRec601, ColorRange: domain.ColorRangeFull})
	p.Setup(domain.CodecRawI420, 2, 2, 30)

	// Two fragments that together form one 2x2 I420 picture.
	unit := &domain.DecodeUnit{
		FrameNumber: 9,
		TotalLength: 6,
		Fragments: []domain.Fragment{
			{Data: []byte{76, 76, 76, 76}},
			{Data: []byte{85, 255}},
		},
	}
	if rc := p.Submit(unit); rc != domain.DrOK {
		t.Fatalf("Submit = %d", rc)
	}
	if len(sink.frames) != 1 {
		t.Fatalf("frames = %d", len(sink.frames))
	}
	got := sink.frames[0].Pix[:4]
	if got[0] != 254 || got[1] != 0 || got[2] != 0 || got[3] != 255 {
		t.Errorf("pixel = %v, want [254 0 0 255]", got)
	}
}
