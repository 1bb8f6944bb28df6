package session

import (
	"log/slog"

	"moonlink/native/internal/domain"
	"moonlink/native/internal/registry"
)

// Router owns the callback tables handed to the streaming library and
// resolves every callback to its Session. Callbacks that carry a context
// go through a direct lookup. The rest go through the video or audio lane
// binding set at setup, then through the context-less strategy.
type Router struct {
	reg         *registry.Registry[*Session]
	direct      registry.Strategy[*Session]
	contextless registry.Strategy[*Session]
	videoLane   registry.Lane[*Session]
	audioLane   registry.Lane[*Session]
	log         *slog.Logger
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// ContextLess resolves callbacks without a context. Defaults to
	// registry.SingleActiveSession.
	ContextLess registry.Strategy[*Session]
	Log         *slog.Logger
}

// NewRouter creates a router with its own registry.
func NewRouter(opts RouterOptions) *Router {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	reg := registry.New[*Session](log)
	contextless := opts.ContextLess
	if contextless == nil {
		contextless = registry.SingleActiveSession[*Session]{Registry: reg}
	}
	r := &Router{
		reg:         reg,
		direct:      registry.DirectLookup[*Session]{Registry: reg},
		contextless: contextless,
		log:         log.With("component", "router"),
	}
	r.videoLane.Fallback = contextless
	r.audioLane.Fallback = contextless
	return r
}

// Registry exposes the underlying registry.
func (r *Router) Registry() *registry.Registry[*Session] { return r.reg }

// Callbacks returns the tables for Library.StartConnection.
func (r *Router) Callbacks() domain.Callbacks {
	return domain.Callbacks{
		Video: domain.VideoCallbacks{
			Setup:   r.videoSetup,
			Cleanup: r.videoCleanup,
			Submit:  r.videoSubmit,
		},
		Audio: domain.AudioCallbacks{
			Init:          r.audioInit,
			DecodeAndPlay: r.audioDecodeAndPlay,
			Cleanup:       r.audioCleanup,
		},
		Connection: domain.ConnectionCallbacks{
			StageStarting: func(stage domain.Stage) {
				r.withSession("stage starting", func(s *Session) { s.onStage(EventStageStarting, stage, 0) })
			},
			StageComplete: func(stage domain.Stage) {
				r.withSession("stage complete", func(s *Session) { s.onStage(EventStageComplete, stage, 0) })
			},
			StageFailed: func(stage domain.Stage, code int) {
				r.withSession("stage failed", func(s *Session) { s.onStage(EventStageFailed, stage, code) })
			},
			Started: func() {
				r.withSession("connection started", func(s *Session) { s.onStarted() })
			},
			Terminated: func(code int) {
				r.withSession("connection terminated", func(s *Session) { s.onTerminated(code) })
			},
			StatusUpdate: func(status domain.ConnectionStatus) {
				r.withSession("status update", func(s *Session) { s.onStatus(status) })
			},
		},
	}
}

func (r *Router) withSession(what string, fn func(s *Session)) {
	s, ok := r.contextless.Resolve(domain.NoContext)
	if !ok {
		r.log.Debug("no active session for callback", "callback", what)
		return
	}
	fn(s)
}

func (r *Router) videoSetup(codec domain.VideoCodec, width, height, fps int, ctx domain.Context) int {
	s, ok := r.direct.Resolve(ctx)
	if !ok {
		r.log.Warn("video setup for unknown context", "context", uint64(ctx))
		return -1
	}
	r.videoLane.Binding.Bind(s)
	return s.videoSetup(codec, width, height, fps)
}

func (r *Router) videoCleanup() {
	if s, ok := r.videoLane.Resolve(); ok {
		s.videoCleanup()
	}
	r.videoLane.Binding.Clear()
}

func (r *Router) videoSubmit(du *domain.DecodeUnit) int {
	s, ok := r.videoLane.Resolve()
	if !ok {
		return domain.DrOK
	}
	return s.videoSubmit(du)
}

func (r *Router) audioInit(cfg domain.AudioConfig, ctx domain.Context) int {
	s, ok := r.direct.Resolve(ctx)
	if !ok {
		r.log.Warn("audio init for unknown context", "context", uint64(ctx))
		return -1
	}
	r.audioLane.Binding.Bind(s)
	return s.audioInit(cfg)
}

func (r *Router) audioDecodeAndPlay(data []byte) {
	if s, ok := r.audioLane.Resolve(); ok {
		s.audioDecodeAndPlay(data)
	}
}

func (r *Router) audioCleanup() {
	if s, ok := r.audioLane.Resolve(); ok {
		s.audioCleanup()
	}
	r.audioLane.Binding.Clear()
}
