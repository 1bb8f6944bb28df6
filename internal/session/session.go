// Package session owns the streaming connection lifecycle: validation,
// the connection goroutine, callback routing into the media pipelines and
// the consumer-facing queues.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"moonlink/native/internal/audio"
	"moonlink/native/internal/domain"
	"moonlink/native/internal/video"
)

const defaultEventBuffer = 64

// Options configures a Session.
type Options struct {
	EventBuffer int
	// NewSink builds audio sinks on the consumer goroutine.
	NewSink audio.SinkFactory
	// Decoder overrides, mainly for tests.
	NewVideoDecoder   video.DecoderFactory
	NewAudioDecoder   audio.DecoderFactory
	MaxDecodeFailures int
	Log               *slog.Logger
}

// Stats combines the pipeline counters.
type Stats struct {
	Video             video.Stats
	Audio             audio.Stats
	FramesOverwritten uint64
	EventsDropped     uint64
}

// connection is the per-start state shared with the connection goroutine.
type connection struct {
	cfg *domain.StreamConfig
	// ctx is handed to the library and cancelled by Stop, so an interrupt
	// reaches the handshake however early it arrives.
	ctx        context.Context
	cancel     context.CancelFunc
	stop       chan struct{}
	stopOnce   sync.Once
	terminated chan int
	done       chan struct{}
}

// Session is one streaming session. Start and Stop are called from the
// consumer goroutine; the library's callbacks reach it through the Router.
type Session struct {
	lib    domain.Library
	router *Router
	ctx    domain.Context
	opts   Options
	log    *slog.Logger

	state    atomic.Int32
	termCode atomic.Int64
	errMu    sync.Mutex
	err      error

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex
	conn      *connection
	live      atomic.Pointer[connection]
	joins     atomic.Uint64

	videoP atomic.Pointer[video.Pipeline]
	audioP atomic.Pointer[audio.Pipeline]

	frames        *FrameQueue
	dispatcher    *Dispatcher
	events        chan Event
	eventsDropped atomic.Uint64
}

// New creates a session and registers it with the router.
func New(lib domain.Library, router *Router, opts Options) *Session {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		lib:        lib,
		router:     router,
		opts:       opts,
		frames:     NewFrameQueue(),
		dispatcher: NewDispatcher(),
		events:     make(chan Event, opts.EventBuffer),
	}
	s.ctx = router.reg.Register(s)
	s.log = log.With("component", "session", "context", uint64(s.ctx))
	return s
}

// Context is the value handed to the library for this session.
func (s *Session) Context() domain.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	return domain.SessionState(s.state.Load())
}

// TerminationCode is the host's code once the state is Terminated.
func (s *Session) TerminationCode() int { return int(s.termCode.Load()) }

// Err is the failure reason once the state is Failed.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Joins counts connection goroutines that have been joined by Stop.
func (s *Session) Joins() uint64 { return s.joins.Load() }

func (s *Session) Events() <-chan Event    { return s.events }
func (s *Session) Frames() *FrameQueue     { return s.frames }
func (s *Session) Dispatcher() *Dispatcher { return s.dispatcher }

// Pump runs work dispatched to the consumer goroutine, such as audio sink
// construction.
func (s *Session) Pump() int { return s.dispatcher.Pump() }

// AudioChannels returns the audio channel contexts of the current
// connection.
func (s *Session) AudioChannels() []audio.ChannelContext {
	if p := s.audioP.Load(); p != nil {
		return p.Channels()
	}
	return nil
}

// Stats returns the media counters of the current connection.
func (s *Session) Stats() Stats {
	st := Stats{
		FramesOverwritten: s.frames.Overwritten(),
		EventsDropped:     s.eventsDropped.Load(),
	}
	if p := s.videoP.Load(); p != nil {
		st.Video = p.Stats()
	}
	if p := s.audioP.Load(); p != nil {
		st.Audio = p.Stats()
	}
	return st
}

// Start validates cfg and spawns the connection goroutine. Validation
// errors are returned before any I/O and leave the state unchanged.
// Starting is allowed from Idle, Terminated and Failed.
func (s *Session) Start(cfg domain.StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	cur := s.State()
	if !cur.CanStart() {
		return fmt.Errorf("%w: state is %s", domain.ErrSessionBusy, cur)
	}
	if prev := s.conn; prev != nil {
		// The host ended the previous connection without a Stop; its
		// goroutine is past its final transition.
		<-prev.done
		s.joins.Add(1)
		s.conn = nil
	}
	if err := s.router.reg.Activate(s.ctx); err != nil {
		return err
	}
	if !s.state.CompareAndSwap(int32(cur), int32(domain.StateConnecting)) {
		s.router.reg.Deactivate(s.ctx)
		return fmt.Errorf("%w: state changed during start", domain.ErrSessionBusy)
	}

	s.termCode.Store(0)
	s.setErr(nil)
	s.installPipelines(&cfg)

	ctx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		cfg:        &cfg,
		ctx:        ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
		terminated: make(chan int, 1),
		done:       make(chan struct{}),
	}
	s.conn = conn
	s.live.Store(conn)

	s.log.Info("starting connection", "host", cfg.HostAddress, "codec", cfg.VideoCodec.String(),
		"width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS)
	go s.run(conn)
	return nil
}

func (s *Session) installPipelines(cfg *domain.StreamConfig) {
	if old := s.audioP.Load(); old != nil {
		old.Close()
	}
	s.videoP.Store(video.NewPipeline(s.frames, video.Options{
		ColorSpace:             cfg.ColorSpace,
		ColorRange:             cfg.ColorRange,
		NewDecoder:             s.opts.NewVideoDecoder,
		MaxConsecutiveFailures: s.opts.MaxDecodeFailures,
		OnFatal:                s.onDecodeFatal,
		Log:                    s.log,
	}))
	s.audioP.Store(audio.NewPipeline(s.dispatcher, audio.Options{
		NewSink:    s.opts.NewSink,
		NewDecoder: s.opts.NewAudioDecoder,
		Log:        s.log,
	}))
}

// run is the connection goroutine. It blocks in the library's connect
// call, then until a stop request or host termination.
func (s *Session) run(conn *connection) {
	defer close(conn.done)
	defer s.router.reg.Deactivate(s.ctx)
	defer s.live.CompareAndSwap(conn, nil)
	defer conn.cancel()

	err := s.lib.StartConnection(conn.ctx, conn.cfg, s.router.Callbacks(), s.ctx, s.ctx)
	if err != nil {
		s.advance(domain.StateTerminating)
		s.releaseMedia()
		if conn.stopRequested() {
			s.log.Info("connection interrupted")
			s.finishTerminated(domain.TerminationGraceful)
			return
		}
		s.finishFailed(fmt.Errorf("%w: %w", domain.ErrConnection, err))
		return
	}
	s.onStarted()

	code := domain.TerminationGraceful
	select {
	case <-conn.stop:
	case code = <-conn.terminated:
	}

	s.advance(domain.StateTerminating)
	s.lib.StopConnection()
	s.releaseMedia()
	s.finishTerminated(code)
}

func (s *Session) releaseMedia() {
	if p := s.audioP.Load(); p != nil {
		p.Close()
	}
	if p := s.videoP.Load(); p != nil {
		p.Cleanup()
	}
}

// Stop interrupts the connection and joins its goroutine. It returns only
// after the goroutine has exited.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	conn := s.conn
	if conn == nil {
		return
	}
	s.conn = nil

	conn.requestStop()
	if s.State() == domain.StateConnecting {
		s.lib.InterruptConnection()
	}
	<-conn.done
	s.joins.Add(1)
	s.log.Info("connection joined", "state", s.State().String())
}

// Close stops the session and removes it from the router.
func (s *Session) Close() {
	s.Stop()
	if p := s.audioP.Load(); p != nil {
		p.Close()
	}
	s.router.reg.Unregister(s.ctx)
}

func (c *connection) requestStop() {
	c.stopOnce.Do(func() {
		c.cancel()
		close(c.stop)
	})
}

func (c *connection) stopRequested() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// advance moves the state forward only.
func (s *Session) advance(to domain.SessionState) bool {
	for {
		cur := s.State()
		if rank(to) <= rank(cur) {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(to)) {
			s.log.Debug("state change", "from", cur.String(), "to", to.String())
			return true
		}
	}
}

func rank(st domain.SessionState) int {
	switch st {
	case domain.StateIdle:
		return 0
	case domain.StateConnecting:
		return 1
	case domain.StateActive:
		return 2
	case domain.StateTerminating:
		return 3
	default:
		return 4
	}
}

func (s *Session) finishTerminated(code int) {
	s.termCode.Store(int64(code))
	s.advance(domain.StateTerminated)
	s.log.Info("connection terminated", "reason", domain.TerminationReason(code))
	s.emit(Event{Kind: EventTerminated, Code: code})
}

func (s *Session) finishFailed(err error) {
	s.setErr(err)
	s.advance(domain.StateFailed)
	s.log.Error("connection failed", "error", err)
	s.emit(Event{Kind: EventFailed, Err: err})
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// emit never blocks the calling callback goroutine.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.eventsDropped.Add(1)
		s.log.Warn("event queue full, dropping event", "event", ev.String())
	}
}

func (s *Session) onStage(kind EventKind, stage domain.Stage, code int) {
	switch kind {
	case EventStageFailed:
		s.log.Warn("stage failed", "stage", stage.String(), "code", code)
	default:
		s.log.Debug(kind.String(), "stage", stage.String())
	}
	s.emit(Event{Kind: kind, Stage: stage, Code: code})
}

func (s *Session) onStarted() {
	if s.advance(domain.StateActive) {
		s.log.Info("connection started")
		s.emit(Event{Kind: EventStarted})
	}
}

func (s *Session) onTerminated(code int) {
	conn := s.live.Load()
	if conn == nil {
		return
	}
	select {
	case conn.terminated <- code:
	default:
	}
}

func (s *Session) onStatus(status domain.ConnectionStatus) {
	s.emit(Event{Kind: EventStatus, Status: status})
}

func (s *Session) onDecodeFatal(err error) {
	s.emit(Event{Kind: EventDecodeFatal, Err: err})
}

func (s *Session) videoSetup(codec domain.VideoCodec, width, height, fps int) int {
	if p := s.videoP.Load(); p != nil {
		return p.Setup(codec, width, height, fps)
	}
	return -1
}

func (s *Session) videoCleanup() {
	if p := s.videoP.Load(); p != nil {
		p.Cleanup()
	}
}

func (s *Session) videoSubmit(du *domain.DecodeUnit) int {
	if p := s.videoP.Load(); p != nil {
		return p.Submit(du)
	}
	return domain.DrOK
}

func (s *Session) audioInit(cfg domain.AudioConfig) int {
	if p := s.audioP.Load(); p != nil {
		return p.Init(cfg)
	}
	return -1
}

func (s *Session) audioDecodeAndPlay(data []byte) {
	if p := s.audioP.Load(); p != nil {
		p.DecodeAndPlay(data)
	}
}

func (s *Session) audioCleanup() {
	if p := s.audioP.Load(); p != nil {
		p.Close()
	}
}
