package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"moonlink/native/internal/audio"
	"moonlink/native/internal/domain"
)

type fakeLibrary struct {
	mu         sync.Mutex
	block      bool
	failWith   error
	started    chan struct{}
	interrupt  chan struct{}
	cb         domain.Callbacks
	videoCtx   domain.Context
	audioCtx   domain.Context
	starts     int
	stops      int
	interrupts int
	inputs     []string
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{started: make(chan struct{}, 1000)}
}

func (l *fakeLibrary) StartConnection(ctx context.Context, cfg *domain.StreamConfig, cb domain.Callbacks, videoCtx, audioCtx domain.Context) error {
	l.mu.Lock()
	l.starts++
	l.cb = cb
	l.videoCtx = videoCtx
	l.audioCtx = audioCtx
	l.interrupt = make(chan struct{})
	interrupt := l.interrupt
	block, failWith := l.block, l.failWith
	l.mu.Unlock()
	l.started <- struct{}{}

	cb.Connection.StageStarting(domain.StageRTSPHandshake)
	if block {
		select {
		case <-interrupt:
		case <-ctx.Done():
		}
		return errors.New("interrupted")
	}
	if failWith != nil {
		cb.Connection.StageFailed(domain.StageRTSPHandshake, 10060)
		return failWith
	}
	cb.Connection.StageComplete(domain.StageRTSPHandshake)

	cb.Video.Setup(cfg.VideoCodec, cfg.Width, cfg.Height, cfg.FPS, videoCtx)
	cb.Audio.Init(domain.AudioConfig{Codec: domain.AudioCodecPCM16, SampleRate: 480, Channels: 2}, audioCtx)
	cb.Connection.Started()
	return nil
}

func (l *fakeLibrary) InterruptConnection() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interrupts++
	if l.interrupt != nil {
		close(l.interrupt)
		l.interrupt = nil
	}
}

func (l *fakeLibrary) StopConnection() {
	l.mu.Lock()
	l.stops++
	cb := l.cb
	l.mu.Unlock()
	cb.Video.Cleanup()
	cb.Audio.Cleanup()
}

func (l *fakeLibrary) record(s string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inputs = append(l.inputs, s)
	return nil
}

func (l *fakeLibrary) SendMouseMove(dx, dy int16) error { return l.record("move") }
func (l *fakeLibrary) SendMouseButton(domain.ButtonAction, domain.MouseButton) error {
	return l.record("button")
}
func (l *fakeLibrary) SendKeyboard(int16, domain.KeyAction, byte) error { return l.record("key") }

func (l *fakeLibrary) callbacks() domain.Callbacks {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cb
}

func (l *fakeLibrary) counts() (starts, stops, interrupts, inputs int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts, l.stops, l.interrupts, len(l.inputs)
}

func testConfig() domain.StreamConfig {
	return domain.StreamConfig{
		HostAddress:            "192.168.1.10",
		Width:                  2,
		Height:                 2,
		FPS:                    60,
		BitrateKbps:            5000,
		VideoCodec:             domain.CodecRawI420,
		ColorSpace:             domain.ColorSpaceRec601,
		ColorRange:             domain.ColorRangeFull,
		RemoteInputKey:         make([]byte, 16),
		RemoteInputIV:          []byte{0, 0, 0, 7},
		ServerAppVersion:       "7.1.431.-1",
		ServerCodecModeSupport: domain.SCMH264,
	}
}

func waitState(t *testing.T, s *Session, want domain.SessionState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for s.State() != want {
		select {
		case <-deadline:
			t.Fatalf("state = %s, want %s", s.State(), want)
		case <-time.After(time.Millisecond):
		}
	}
}

func waitEvent(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestStartRejectsShortKey(t *testing.T) {
	lib := newFakeLibrary()
	s := New(lib, NewRouter(RouterOptions{}), Options{})
	defer s.Close()

	cfg := testConfig()
	cfg.RemoteInputKey = make([]byte, 15)

	err := s.Start(cfg)
	if !errors.Is(err, domain.ErrConfigValidation) {
		t.Fatalf("expected ErrConfigValidation, got %v", err)
	}
	if s.State() != domain.StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
	if starts, _, _, _ := lib.counts(); starts != 0 {
		t.Error("library was called")
	}
	if _, ok := s.router.Registry().Active(); ok {
		t.Error("session activated despite validation failure")
	}
	s.Stop()
	if s.Joins() != 0 {
		t.Error("a connection goroutine was spawned")
	}
}

func TestStartStopCycles(t *testing.T) {
	lib := newFakeLibrary()
	s := New(lib, NewRouter(RouterOptions{}), Options{EventBuffer: 1024})
	defer s.Close()

	const cycles = 100
	for i := 0; i < cycles; i++ {
		if err := s.Start(testConfig()); err != nil {
			t.Fatalf("cycle %d: Start: %v", i, err)
		}
		if i%2 == 0 {
			waitState(t, s, domain.StateActive)
		}
		s.Stop()

		if st := s.State(); st != domain.StateTerminated {
			t.Fatalf("cycle %d: state after Stop = %s", i, st)
		}
		if got := s.Joins(); got != uint64(i+1) {
			t.Fatalf("cycle %d: joins = %d", i, got)
		}
	}
	if starts, _, _, _ := lib.counts(); starts != cycles {
		t.Errorf("library starts = %d", starts)
	}
	if _, ok := s.router.Registry().Active(); ok {
		t.Error("session still active after final stop")
	}
}

func TestLifecycleEvents(t *testing.T) {
	lib := newFakeLibrary()
	s := New(lib, NewRouter(RouterOptions{}), Options{})
	defer s.Close()

	if err := s.Start(testConfig()); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, s, EventStageStarting)
	if ev.Stage != domain.StageRTSPHandshake {
		t.Errorf("stage = %s", ev.Stage)
	}
	waitEvent(t, s, EventStarted)
	if s.State() != domain.StateActive {
		t.Errorf("state = %s", s.State())
	}

	s.Stop()
	ev = waitEvent(t, s, EventTerminated)
	if ev.Code != domain.TerminationGraceful {
		t.Errorf("code = %d", ev.Code)
	}
	if _, stops, _, _ := lib.counts(); stops != 1 {
		t.Errorf("StopConnection called %d times", stops)
	}
}

func TestHostTermination(t *testing.T) {
	lib := newFakeLibrary()
	s := New(lib, NewRouter(RouterOptions{}), Options{})
	defer s.Close()

	if err := s.Start(testConfig()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, domain.StateActive)

	lib.callbacks().Connection.Terminated(domain.TerminationUnexpected)
	ev := waitEvent(t, s, EventTerminated)
	if ev.Code != domain.TerminationUnexpected {
		t.Errorf("event code = %d", ev.Code)
	}
	waitState(t, s, domain.StateTerminated)
	if s.TerminationCode() != domain.TerminationUnexpected {
		t.Errorf("TerminationCode = %d", s.TerminationCode())
	}

	// Restart without an explicit Stop joins the finished goroutine.
	if err := s.Start(testConfig()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitState(t, s, domain.StateActive)
	s.Stop()
	if s.Joins() != 2 {
		t.Errorf("joins = %d", s.Joins())
	}
}

func TestConnectFailure(t *testing.T) {
	lib := newFakeLibrary()
	lib.failWith = errors.New("rtsp handshake failed")
	s := New(lib, NewRouter(RouterOptions{}), Options{})
	defer s.Close()

	if err := s.Start(testConfig()); err != nil {
		t.Fatalf("Start returned the connection error synchronously: %v", err)
	}
	waitEvent(t, s, EventStageFailed)
	ev := waitEvent(t, s, EventFailed)
	if !errors.Is(ev.Err, domain.ErrConnection) {
		t.Errorf("event error %v does not wrap ErrConnection", ev.Err)
	}
	waitState(t, s, domain.StateFailed)
	if !errors.Is(s.Err(), domain.ErrConnection) {
		t.Errorf("Err = %v", s.Err())
	}

	lib.mu.Lock()
	lib.failWith = nil
	lib.mu.Unlock()
	if err := s.Start(testConfig()); err != nil {
		t.Fatalf("start after failure: %v", err)
	}
	waitState(t, s, domain.StateActive)
	if s.Err() != nil {
		t.Error("error survived a new connection")
	}
	s.Stop()
}

func TestStopDuringConnect(t *testing.T) {
	lib := newFakeLibrary()
	lib.block = true
	s := New(lib, NewRouter(RouterOptions{}), Options{})
	defer s.Close()

	if err := s.Start(testConfig()); err != nil {
		t.Fatal(err)
	}
	<-lib.started
	if s.State() != domain.StateConnecting {
		t.Fatalf("state = %s", s.State())
	}

	s.Stop()
	if s.State() != domain.StateTerminated {
		t.Errorf("state = %s, want terminated", s.State())
	}
	if _, _, interrupts, _ := lib.counts(); interrupts != 1 {
		t.Errorf("interrupts = %d", interrupts)
	}
}

// Stop right after Start can land before the library has anything to
// interrupt; the context handed to StartConnection must still end it.
func TestStopImmediatelyAfterStart(t *testing.T) {
	lib := newFakeLibrary()
	lib.block = true
	s := New(lib, NewRouter(RouterOptions{}), Options{})
	defer s.Close()

	for i := 0; i < 20; i++ {
		if err := s.Start(testConfig()); err != nil {
			t.Fatalf("cycle %d: Start: %v", i, err)
		}
		stopped := make(chan struct{})
		go func() {
			s.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Fatalf("cycle %d: Stop did not interrupt the connect", i)
		}
		if s.State() != domain.StateTerminated {
			t.Fatalf("cycle %d: state = %s, want terminated", i, s.State())
		}
	}
}

func TestStartWhileActiveIsBusy(t *testing.T) {
	s := New(newFakeLibrary(), NewRouter(RouterOptions{}), Options{})
	defer s.Close()

	if err := s.Start(testConfig()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, domain.StateActive)
	if err := s.Start(testConfig()); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("expected ErrSessionBusy, got %v", err)
	}
	s.Stop()
}

func TestSecondActiveSessionRefused(t *testing.T) {
	router := NewRouter(RouterOptions{})
	first := New(newFakeLibrary(), router, Options{})
	second := New(newFakeLibrary(), router, Options{})
	defer first.Close()
	defer second.Close()

	if err := first.Start(testConfig()); err != nil {
		t.Fatal(err)
	}
	waitState(t, first, domain.StateActive)

	if err := second.Start(testConfig()); !errors.Is(err, domain.ErrAmbiguousActive) {
		t.Fatalf("expected ErrAmbiguousActive, got %v", err)
	}
	if second.State() != domain.StateIdle {
		t.Errorf("refused session state = %s", second.State())
	}

	first.Stop()
	if err := second.Start(testConfig()); err != nil {
		t.Fatalf("start after first stopped: %v", err)
	}
	waitState(t, second, domain.StateActive)
	second.Stop()
}

func TestInputOnlyWhenActive(t *testing.T) {
	lib := newFakeLibrary()
	s := New(lib, NewRouter(RouterOptions{}), Options{})
	defer s.Close()

	if err := s.SendMouseMove(1, 1); err != nil {
		t.Errorf("input before start returned %v", err)
	}
	if _, _, _, inputs := lib.counts(); inputs != 0 {
		t.Fatal("input forwarded while idle")
	}

	if err := s.Start(testConfig()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, domain.StateActive)
	_ = s.SendMouseMove(3, -2)
	_ = s.SendMouseButton(domain.ButtonActionPress, domain.MouseButtonLeft)
	_ = s.SendKeyEvent(0x41, domain.KeyActionDown, domain.ModifierShift)
	if _, _, _, inputs := lib.counts(); inputs != 3 {
		t.Errorf("forwarded %d inputs, want 3", inputs)
	}

	s.Stop()
	_ = s.SendKeyEvent(0x41, domain.KeyActionUp, 0)
	if _, _, _, inputs := lib.counts(); inputs != 3 {
		t.Error("input forwarded after stop")
	}
}

func TestMediaReachesConsumer(t *testing.T) {
	lib := newFakeLibrary()
	s := New(lib, NewRouter(RouterOptions{}), Options{
		NewSink: func(ch, rate int) audio.Sink { return audio.NewRingSinkSize(64) },
	})
	defer s.Close()

	if err := s.Start(testConfig()); err != nil {
		t.Fatal(err)
	}
	waitState(t, s, domain.StateActive)
	cb := lib.callbacks()

	// Video submit carries no context; the lane bound at setup resolves it.
	rc := cb.Video.Submit(&domain.DecodeUnit{
		FrameNumber: 1,
		TotalLength: 6,
		Fragments:   []domain.Fragment{{Data: []byte{76, 76, 76, 76}}, {Data: []byte{85, 255}}},
	})
	if rc != domain.DrOK {
		t.Fatalf("Submit = %d", rc)
	}
	frame, ok := s.Frames().Take()
	if !ok {
		t.Fatal("no frame queued")
	}
	if frame.Width != 2 || frame.Pix[0] != 254 || frame.Pix[3] != 255 {
		t.Errorf("frame %dx%d pixel %v", frame.Width, frame.Height, frame.Pix[:4])
	}
	s.Frames().Recycle(frame)

	if len(s.AudioChannels()) != 0 {
		t.Fatal("audio sinks built before the consumer pumped")
	}
	if n := s.Pump(); n != 1 {
		t.Fatalf("Pump ran %d functions", n)
	}
	chans := s.AudioChannels()
	if len(chans) != 2 {
		t.Fatalf("channels = %d", len(chans))
	}

	cb.Audio.DecodeAndPlay([]byte{0x00, 0x40, 0x00, 0xc0})
	left := chans[0].Sink.(*audio.RingSink)
	buf := make([]float32, 4)
	if n := left.Read(buf); n != 1 || buf[0] != 0.5 {
		t.Errorf("left channel read %d %v", n, buf[:n])
	}

	st := s.Stats()
	if st.Video.Converted != 1 || st.Audio.Packets != 1 {
		t.Errorf("stats = %+v", st)
	}

	s.Stop()
	if len(s.AudioChannels()) != 0 {
		t.Error("audio channel contexts survived stop")
	}
}
