package viewer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"moonlink/native/internal/domain"
	"moonlink/native/internal/input"
	"moonlink/native/internal/pairing"
)

const (
	defaultConnectTimeout = 20 * time.Second
	audioFrameDuration    = 20 * time.Millisecond
	stageFailedCode       = -1
)

var (
	ErrInterrupted   = errors.New("viewer: connection interrupted")
	ErrTimeout       = errors.New("viewer: handshake timed out")
	ErrRemoteEnded   = errors.New("viewer: remote ended the connection")
	ErrAlreadyActive = errors.New("viewer: a connection is already active")
	ErrSetup         = errors.New("viewer: renderer setup failed")
)

// GatewayOptions wires the transport factories. NewSignaler receives the
// handler that must observe the signaling channel.
type GatewayOptions struct {
	NewSignaler    func(h domain.Handler) domain.Signaler
	NewPeer        func(iceServers []domain.ICEServer) (domain.Peer, error)
	ConnectTimeout time.Duration
	Log            *slog.Logger
}

var _ domain.Library = (*Gateway)(nil)

// Gateway implements domain.Library on top of a signaling gateway and a
// WebRTC peer. It runs at most one connection at a time.
type Gateway struct {
	opts GatewayOptions
	log  *slog.Logger

	mu   sync.Mutex
	conn *gatewayConn
}

// gatewayConn is one StartConnection..StopConnection span.
type gatewayConn struct {
	ctx    context.Context
	cb     domain.Callbacks
	viewer *Viewer
	sig    domain.Signaler
	peer   domain.Peer
	sealer *input.Sealer

	interrupt     chan struct{}
	interruptOnce sync.Once
	done          chan struct{}
	teardownOnce  sync.Once

	videoUp bool
	audioUp bool
	started atomic.Bool
	stopped atomic.Bool
}

// NewGateway creates a gateway library.
func NewGateway(opts GatewayOptions) *Gateway {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{opts: opts, log: log.With("component", "gateway")}
}

// StartConnection runs the handshake: signaling auth, launch, renderer
// setup, offer/answer and peer connectivity. It returns once media can
// flow, or with the first error.
func (g *Gateway) StartConnection(ctx context.Context, cfg *domain.StreamConfig, cb domain.Callbacks, videoCtx, audioCtx domain.Context) error {
	sealer, err := input.NewSealer(cfg.RemoteInputKey, cfg.RemoteInputIV)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfigValidation, err)
	}

	conn := &gatewayConn{
		ctx:       ctx,
		cb:        cb,
		viewer:    New(cb.Connection, g.log),
		sealer:    sealer,
		interrupt: make(chan struct{}),
		done:      make(chan struct{}),
	}

	g.mu.Lock()
	if g.conn != nil {
		g.mu.Unlock()
		return ErrAlreadyActive
	}
	g.conn = conn
	g.mu.Unlock()

	if err := g.connect(conn, cfg, videoCtx, audioCtx); err != nil {
		conn.teardown()
		g.release(conn)
		return err
	}

	conn.started.Store(true)
	if cb.Connection.Started != nil {
		cb.Connection.Started()
	}
	go g.watch(conn)
	return nil
}

func (g *Gateway) connect(conn *gatewayConn, cfg *domain.StreamConfig, videoCtx, audioCtx domain.Context) error {
	deadline := time.NewTimer(g.opts.ConnectTimeout)
	defer deadline.Stop()
	v := conn.viewer

	// Platform initialization covers the local input cipher already built.
	if err := g.stage(conn, domain.StagePlatformInit, func() error { return nil }); err != nil {
		return err
	}

	err := g.stage(conn, domain.StageNameResolution, func() error {
		conn.sig = g.opts.NewSignaler(v)
		if err := conn.sig.Connect(conn.ctx); err != nil {
			return fmt.Errorf("signal connect: %w", err)
		}
		return await(conn, deadline, v.authed)
	})
	if err != nil {
		return err
	}

	var info domain.LaunchInfo
	err = g.stage(conn, domain.StageRTSPHandshake, func() error {
		conn.sig.SendLaunch(launchRequest(cfg))
		return awaitValue(conn, deadline, v.launched, &info)
	})
	if err != nil {
		return err
	}

	err = g.stage(conn, domain.StageAudioStreamInit, func() error {
		acfg, err := audioConfig(info)
		if err != nil {
			return err
		}
		if rc := conn.cb.Audio.Init(acfg, audioCtx); rc != 0 {
			return fmt.Errorf("%w: audio init returned %d", ErrSetup, rc)
		}
		conn.audioUp = true
		return nil
	})
	if err != nil {
		return err
	}

	err = g.stage(conn, domain.StageVideoStreamInit, func() error {
		if rc := conn.cb.Video.Setup(cfg.VideoCodec, cfg.Width, cfg.Height, cfg.FPS, videoCtx); rc != 0 {
			return fmt.Errorf("%w: video setup returned %d", ErrSetup, rc)
		}
		conn.videoUp = true
		return nil
	})
	if err != nil {
		return err
	}

	err = g.stage(conn, domain.StageInputStreamInit, func() error {
		peer, err := g.opts.NewPeer(info.ICEServers)
		if err != nil {
			return fmt.Errorf("create peer: %w", err)
		}
		conn.peer = peer
		if err := peer.AddTransceivers(); err != nil {
			return err
		}
		peer.SetOnMedia(conn.cb.Video.Submit, conn.cb.Audio.DecodeAndPlay)
		peer.SetOnICECandidate(conn.sig.SendICECandidate)
		peer.SetOnStateChange(v.OnPeerState)
		v.SetPeer(peer)
		return nil
	})
	if err != nil {
		return err
	}

	err = g.stage(conn, domain.StageControlStreamStart, func() error {
		sdp, err := conn.peer.CreateOffer()
		if err != nil {
			return err
		}
		conn.sig.SendSDPOffer(sdp)
		var answerErr error
		if err := awaitValue(conn, deadline, v.answered, &answerErr); err != nil {
			return err
		}
		return answerErr
	})
	if err != nil {
		return err
	}

	return g.stage(conn, domain.StageVideoStreamStart, func() error {
		return await(conn, deadline, v.connected)
	})
}

// stage brackets fn with the stage callbacks.
func (g *Gateway) stage(conn *gatewayConn, stage domain.Stage, fn func() error) error {
	cb := conn.cb.Connection
	if cb.StageStarting != nil {
		cb.StageStarting(stage)
	}
	err := conn.interrupted()
	if err == nil {
		err = fn()
	}
	if err != nil {
		g.log.Warn("stage failed", "stage", stage.String(), "error", err)
		if cb.StageFailed != nil {
			cb.StageFailed(stage, failureCode(err))
		}
		return fmt.Errorf("%s: %w", stage, err)
	}
	if cb.StageComplete != nil {
		cb.StageComplete(stage)
	}
	return nil
}

// remoteEnded carries the termination code seen during the handshake.
type remoteEnded struct{ code int }

func (e *remoteEnded) Error() string {
	return fmt.Sprintf("%s (%s)", ErrRemoteEnded, domain.TerminationReason(e.code))
}

func (e *remoteEnded) Unwrap() error { return ErrRemoteEnded }

func failureCode(err error) int {
	var re *remoteEnded
	if errors.As(err, &re) {
		return re.code
	}
	return stageFailedCode
}

// interrupted reports a cancellation that arrived between waits.
func (c *gatewayConn) interrupted() error {
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, c.ctx.Err())
	case <-c.interrupt:
		return ErrInterrupted
	default:
		return nil
	}
}

func await(conn *gatewayConn, deadline *time.Timer, ch chan struct{}) error {
	select {
	case <-ch:
		return nil
	case code := <-conn.viewer.terminated:
		return &remoteEnded{code: code}
	case <-conn.ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, conn.ctx.Err())
	case <-conn.interrupt:
		return ErrInterrupted
	case <-deadline.C:
		return ErrTimeout
	}
}

func awaitValue[T any](conn *gatewayConn, deadline *time.Timer, ch chan T, out *T) error {
	select {
	case v := <-ch:
		*out = v
		return nil
	case code := <-conn.viewer.terminated:
		return &remoteEnded{code: code}
	case <-conn.ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, conn.ctx.Err())
	case <-conn.interrupt:
		return ErrInterrupted
	case <-deadline.C:
		return ErrTimeout
	}
}

// watch reports a remote termination after the connection started.
func (g *Gateway) watch(conn *gatewayConn) {
	select {
	case code := <-conn.viewer.terminated:
		if conn.stopped.Load() {
			return
		}
		g.log.Info("connection terminated by remote", "reason", domain.TerminationReason(code))
		if conn.cb.Connection.Terminated != nil {
			conn.cb.Connection.Terminated(code)
		}
	case <-conn.done:
	}
}

// InterruptConnection aborts a StartConnection in progress.
func (g *Gateway) InterruptConnection() {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return
	}
	conn.interruptOnce.Do(func() { close(conn.interrupt) })
}

// StopConnection tears down the running connection. It is safe to call
// after a remote termination and when nothing is running.
func (g *Gateway) StopConnection() {
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()
	if conn == nil {
		return
	}
	conn.stopped.Store(true)
	if conn.sig != nil {
		conn.sig.SendTerminate()
	}
	conn.teardown()
	g.log.Info("connection stopped")
}

func (g *Gateway) release(conn *gatewayConn) {
	g.mu.Lock()
	if g.conn == conn {
		g.conn = nil
	}
	g.mu.Unlock()
}

func (c *gatewayConn) teardown() {
	c.teardownOnce.Do(func() {
		close(c.done)
		if c.peer != nil {
			c.peer.Close()
		}
		if c.sig != nil {
			c.sig.Close()
		}
		if c.videoUp && c.cb.Video.Cleanup != nil {
			c.cb.Video.Cleanup()
		}
		if c.audioUp && c.cb.Audio.Cleanup != nil {
			c.cb.Audio.Cleanup()
		}
	})
}

func (g *Gateway) active() (*gatewayConn, error) {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil || !conn.started.Load() {
		return nil, domain.ErrNotActive
	}
	return conn, nil
}

func (g *Gateway) sendInput(plaintext []byte) error {
	conn, err := g.active()
	if err != nil {
		return err
	}
	return conn.peer.SendInput(conn.sealer.Seal(plaintext))
}

func (g *Gateway) SendMouseMove(dx, dy int16) error {
	return g.sendInput(input.MouseMove(dx, dy))
}

func (g *Gateway) SendMouseButton(action domain.ButtonAction, button domain.MouseButton) error {
	return g.sendInput(input.MouseButton(action, button))
}

func (g *Gateway) SendKeyboard(keyCode int16, action domain.KeyAction, modifiers byte) error {
	return g.sendInput(input.Keyboard(keyCode, action, modifiers))
}

func launchRequest(cfg *domain.StreamConfig) domain.LaunchRequest {
	return domain.LaunchRequest{
		Host:             cfg.HostAddress,
		RTSPSessionURL:   cfg.RTSPSessionURL,
		ServerAppVersion: cfg.ServerAppVersion,
		Width:            cfg.Width,
		Height:           cfg.Height,
		FPS:              cfg.FPS,
		BitrateKbps:      cfg.BitrateKbps,
		PacketSize:       cfg.EffectivePacketSize(),
		VideoCodec:       cfg.VideoCodec.String(),
		ColorSpace:       cfg.ColorSpace.String(),
		ColorRange:       cfg.ColorRange.String(),
		AudioConfig:      domain.AudioConfigForChannels(cfg.AudioChannels),
		RemoteInputKey:   pairing.EncodeHex(cfg.RemoteInputKey),
		RemoteInputKeyID: binary.BigEndian.Uint32(cfg.RemoteInputIV[:4]),
	}
}

// audioConfig turns the gateway's launch answer into the renderer config.
func audioConfig(info domain.LaunchInfo) (domain.AudioConfig, error) {
	var codec domain.AudioCodec
	switch strings.ToLower(info.AudioCodec) {
	case "pcmu":
		codec = domain.AudioCodecPCMU
	case "pcm16", "l16":
		codec = domain.AudioCodecPCM16
	case "opus":
		codec = domain.AudioCodecOpus
	default:
		return domain.AudioConfig{}, fmt.Errorf("%w: unknown audio codec %q", ErrSetup, info.AudioCodec)
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return domain.AudioConfig{}, fmt.Errorf("%w: audio %d Hz x %d channels", ErrSetup, info.SampleRate, info.Channels)
	}
	return domain.AudioConfig{
		Codec:           codec,
		SampleRate:      info.SampleRate,
		Channels:        info.Channels,
		SamplesPerFrame: int(int64(info.SampleRate) * int64(audioFrameDuration) / int64(time.Second)),
	}, nil
}
