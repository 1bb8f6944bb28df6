package domain

import "context"

// Library is the wrapped streaming library. StartConnection blocks through
// the handshake and returns once the stream is running or has failed;
// cancelling ctx aborts the handshake at any point, including before it
// begins. The callback tables are invoked on the library's own goroutines.
type Library interface {
	StartConnection(ctx context.Context, cfg *StreamConfig, cb Callbacks, videoCtx, audioCtx Context) error
	// InterruptConnection aborts a StartConnection in progress. Calls made
	// before the handshake registered are not remembered; use ctx for that.
	InterruptConnection()
	StopConnection()

	SendMouseMove(dx, dy int16) error
	SendMouseButton(action ButtonAction, button MouseButton) error
	SendKeyboard(keyCode int16, action KeyAction, modifiers byte) error
}

// Dispatcher defers work onto the consumer goroutine.
type Dispatcher interface {
	Dispatch(fn func())
}

// Signaler manages the gateway's WebSocket signaling connection.
type Signaler interface {
	Connect(ctx context.Context) error
	SendLaunch(req LaunchRequest)
	SendSDPOffer(sdp string)
	SendICECandidate(candidate ICECandidatePayload)
	SendTerminate()
	Close()
}

// Handler receives signaling events.
type Handler interface {
	OnAuthSuccess()
	OnLaunched(info LaunchInfo)
	OnStage(update StageUpdate)
	OnSDPAnswer(sdp SDPPayload)
	OnRemoteICECandidate(candidate ICECandidatePayload)
	OnStatus(status ConnectionStatus)
	OnTerminate(code int)
}

// PeerState is the coarse state of the media peer connection.
type PeerState int

const (
	PeerConnecting PeerState = iota
	PeerConnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer manages the WebRTC peer connection carrying media and input.
type Peer interface {
	AddTransceivers() error
	// SetOnMedia installs the media sinks. A video sink returning DrNeedIDR
	// makes the peer request a key frame from the sender.
	SetOnMedia(video func(du *DecodeUnit) int, audio func(payload []byte))
	SetOnICECandidate(send func(candidate ICECandidatePayload))
	SetOnStateChange(fn func(state PeerState))
	CreateOffer() (string, error)
	SetRemoteDescription(sdp SDPPayload) error
	AddRemoteICECandidate(candidate ICECandidatePayload) error
	SendInput(packet []byte) error
	Close()
}
