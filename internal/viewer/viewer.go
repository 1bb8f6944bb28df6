// Package viewer drives one streaming connection through the signaling
// gateway and the WebRTC peer, presenting it as a domain.Library.
package viewer

import (
	"log/slog"
	"sync"

	"moonlink/native/internal/domain"
)

// Viewer turns signaling events into connection progress. It implements
// domain.Handler. Handshake milestones are delivered on buffered channels
// so the connecting goroutine can wait on them alongside interrupts.
type Viewer struct {
	cb  domain.ConnectionCallbacks
	log *slog.Logger

	mu   sync.Mutex
	peer domain.Peer

	authed     chan struct{}
	launched   chan domain.LaunchInfo
	answered   chan error
	connected  chan struct{}
	terminated chan int
}

// New creates a Viewer reporting host stages and status through cb.
func New(cb domain.ConnectionCallbacks, log *slog.Logger) *Viewer {
	if log == nil {
		log = slog.Default()
	}
	return &Viewer{
		cb:         cb,
		log:        log.With("component", "viewer"),
		authed:     make(chan struct{}, 1),
		launched:   make(chan domain.LaunchInfo, 1),
		answered:   make(chan error, 1),
		connected:  make(chan struct{}, 1),
		terminated: make(chan int, 1),
	}
}

// SetPeer attaches the peer once the launch has been accepted.
func (v *Viewer) SetPeer(p domain.Peer) {
	v.mu.Lock()
	v.peer = p
	v.mu.Unlock()
}

func (v *Viewer) currentPeer() domain.Peer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peer
}

func (v *Viewer) OnAuthSuccess() {
	v.log.Info("authenticated")
	select {
	case v.authed <- struct{}{}:
	default:
	}
}

func (v *Viewer) OnLaunched(info domain.LaunchInfo) {
	v.log.Info("launch accepted", "audio_codec", info.AudioCodec, "ice_servers", len(info.ICEServers))
	select {
	case v.launched <- info:
	default:
		v.log.Warn("duplicate launch response ignored")
	}
}

func (v *Viewer) OnStage(update domain.StageUpdate) {
	switch update.Status {
	case domain.StageStatusStarting:
		if v.cb.StageStarting != nil {
			v.cb.StageStarting(update.Stage)
		}
	case domain.StageStatusComplete:
		if v.cb.StageComplete != nil {
			v.cb.StageComplete(update.Stage)
		}
	case domain.StageStatusFailed:
		if v.cb.StageFailed != nil {
			v.cb.StageFailed(update.Stage, update.Code)
		}
	default:
		v.log.Warn("unknown stage status", "stage", update.Stage.String(), "status", update.Status)
	}
}

func (v *Viewer) OnSDPAnswer(sdp domain.SDPPayload) {
	peer := v.currentPeer()
	if peer == nil {
		v.log.Warn("SDP answer before peer exists")
		return
	}
	err := peer.SetRemoteDescription(sdp)
	if err != nil {
		v.log.Error("set remote description", "error", err)
	}
	select {
	case v.answered <- err:
	default:
	}
}

func (v *Viewer) OnRemoteICECandidate(candidate domain.ICECandidatePayload) {
	peer := v.currentPeer()
	if peer == nil {
		v.log.Warn("remote ICE candidate before peer exists")
		return
	}
	go func() {
		if err := peer.AddRemoteICECandidate(candidate); err != nil {
			v.log.Warn("add remote ICE candidate", "error", err)
		}
	}()
}

func (v *Viewer) OnStatus(status domain.ConnectionStatus) {
	if v.cb.StatusUpdate != nil {
		v.cb.StatusUpdate(status)
	}
}

func (v *Viewer) OnTerminate(code int) {
	v.log.Info("remote termination", "reason", domain.TerminationReason(code))
	select {
	case v.terminated <- code:
	default:
	}
}

// OnPeerState maps peer transitions onto connection progress.
func (v *Viewer) OnPeerState(state domain.PeerState) {
	switch state {
	case domain.PeerConnected:
		select {
		case v.connected <- struct{}{}:
		default:
		}
	case domain.PeerFailed:
		v.OnTerminate(domain.TerminationUnexpected)
	}
}
