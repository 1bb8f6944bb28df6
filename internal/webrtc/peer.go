// Package webrtc carries the stream's media and input over a pion peer
// connection.
package webrtc

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"moonlink/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

const (
	inputChannelLabel = "input"
	videoPayloadType  = 121
	audioPayloadType  = 0
	opusPayloadType   = 111

	// minimum spacing between key frame requests
	pliInterval = 500 * time.Millisecond
)

// ErrInputNotReady is returned by SendInput before the input channel opens.
var ErrInputNotReady = errors.New("webrtc: input channel not open")

var _ domain.Peer = (*Peer)(nil)

// Peer wraps a Pion PeerConnection and the input DataChannel.
type Peer struct {
	pc            *pion.PeerConnection
	dc            *pion.DataChannel
	log           *slog.Logger
	remoteDescSet chan struct{}
	remoteOnce    sync.Once
	closeOnce     sync.Once

	mu            sync.Mutex
	onVideo       func(du *domain.DecodeUnit) int
	onAudio       func(payload []byte)
	onStateChange func(state domain.PeerState)
}

// NewPeer creates a PeerConnection with H264 video and PCMU audio
// registered, NACK handling, and an ordered DataChannel for input.
func NewPeer(iceServers []domain.ICEServer, log *slog.Logger) (*Peer, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "webrtc")

	api, err := newMediaAPI()
	if err != nil {
		return nil, err
	}

	var servers []pion.ICEServer
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(inputChannelLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	p := &Peer{
		pc:            pc,
		dc:            dc,
		log:           log,
		remoteDescSet: make(chan struct{}),
	}

	dc.OnOpen(func() {
		log.Debug("input channel opened")
	})
	dc.OnClose(func() {
		log.Debug("input channel closed")
	})

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Debug("ICE connection state", "state", state.String())
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Info("peer connection state", "state", state.String())
		p.mu.Lock()
		fn := p.onStateChange
		p.mu.Unlock()
		if fn != nil {
			fn(peerState(state))
		}
	})

	return p, nil
}

// newMediaAPI registers H264 (packetization-mode 1, NACK and PLI
// feedback), Opus and PCMU, and installs the NACK interceptors.
func newMediaAPI() (*pion.API, error) {
	m := &pion.MediaEngine{}
	err := m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=64001f",
			RTCPFeedback: []pion.RTCPFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
			},
		},
		PayloadType: videoPayloadType,
	}, pion.RTPCodecTypeVideo)
	if err != nil {
		return nil, fmt.Errorf("register H264: %w", err)
	}
	err = m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1;stereo=1",
		},
		PayloadType: opusPayloadType,
	}, pion.RTPCodecTypeAudio)
	if err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}
	err = m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		PayloadType:        audioPayloadType,
	}, pion.RTPCodecTypeAudio)
	if err != nil {
		return nil, fmt.Errorf("register PCMU: %w", err)
	}

	reg := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	reg.Add(responder)
	reg.Add(generator)

	return pion.NewAPI(pion.WithMediaEngine(m), pion.WithInterceptorRegistry(reg)), nil
}

func peerState(state pion.PeerConnectionState) domain.PeerState {
	switch state {
	case pion.PeerConnectionStateConnected:
		return domain.PeerConnected
	case pion.PeerConnectionStateFailed:
		return domain.PeerFailed
	case pion.PeerConnectionStateClosed:
		return domain.PeerClosed
	default:
		return domain.PeerConnecting
	}
}

// AddTransceivers adds receive-only video and audio transceivers.
func (p *Peer) AddTransceivers() error {
	_, err := p.pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}

	_, err = p.pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	return nil
}

// SetOnMedia installs the video and audio sinks and starts reading tracks
// as they arrive.
func (p *Peer) SetOnMedia(video func(du *domain.DecodeUnit) int, audio func(payload []byte)) {
	p.mu.Lock()
	p.onVideo = video
	p.onAudio = audio
	p.mu.Unlock()

	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		p.log.Info("got track", "kind", track.Kind().String(), "codec", codec.MimeType, "pt", codec.PayloadType)

		if track.Kind() == pion.RTPCodecTypeVideo {
			go p.readVideoTrack(track)
		} else {
			go p.readAudioTrack(track)
		}
	})
}

func (p *Peer) readVideoTrack(track *pion.TrackRemote) {
	builder := NewAccessUnitBuilder()
	var lastPLI time.Time

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.log.Debug("video track ended", "error", err,
				"dropped_units", builder.Dropped(), "malformed_payloads", builder.Malformed())
			return
		}

		dropped := builder.Dropped()
		du := builder.Push(pkt, time.Now())
		needIDR := builder.Dropped() != dropped
		if du != nil {
			p.mu.Lock()
			fn := p.onVideo
			p.mu.Unlock()
			if fn != nil && fn(du) == domain.DrNeedIDR {
				needIDR = true
			}
		}
		if needIDR && time.Since(lastPLI) >= pliInterval {
			lastPLI = time.Now()
			p.requestKeyFrame(uint32(track.SSRC()))
		}
	}
}

func (p *Peer) readAudioTrack(track *pion.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.log.Debug("audio track ended", "error", err)
			return
		}
		p.mu.Lock()
		fn := p.onAudio
		p.mu.Unlock()
		if fn != nil && len(pkt.Payload) > 0 {
			fn(pkt.Payload)
		}
	}
}

func (p *Peer) requestKeyFrame(ssrc uint32) {
	err := p.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	if err != nil {
		p.log.Warn("key frame request failed", "error", err)
		return
	}
	p.log.Debug("requested key frame", "ssrc", ssrc)
}

// SetOnICECandidate registers the callback for locally discovered ICE candidates.
func (p *Peer) SetOnICECandidate(send func(candidate domain.ICECandidatePayload)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.log.Debug("ICE gathering complete")
			return
		}

		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			p.log.Debug("filtering loopback ICE candidate")
			return
		}

		out := domain.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			out.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			out.SDPMLineIndex = int(*init.SDPMLineIndex)
		}

		p.log.Debug("local ICE candidate", "candidate", init.Candidate)
		send(out)
	})
}

// SetOnStateChange registers the connection state observer.
func (p *Peer) SetOnStateChange(fn func(state domain.PeerState)) {
	p.mu.Lock()
	p.onStateChange = fn
	p.mu.Unlock()
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	p.log.Debug("local SDP offer set")
	return offer.SDP, nil
}

// SetRemoteDescription sets the SDP answer and unblocks remote ICE candidate addition.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	answer := pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  sdp.SDP,
	}

	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.log.Debug("remote SDP answer set")
	p.remoteOnce.Do(func() { close(p.remoteDescSet) })
	return nil
}

// AddRemoteICECandidate waits for the remote description to be set, then adds the candidate.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	<-p.remoteDescSet

	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &candidate.SDPMid,
		SDPMLineIndex: &sdpMLineIndex,
	}

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}

	p.log.Debug("added remote ICE candidate")
	return nil
}

// SendInput writes one sealed input packet to the input channel.
func (p *Peer) SendInput(packet []byte) error {
	if p.dc.ReadyState() != pion.DataChannelStateOpen {
		return ErrInputNotReady
	}
	if err := p.dc.Send(packet); err != nil {
		return fmt.Errorf("send input: %w", err)
	}
	return nil
}

// Close shuts down the DataChannel and PeerConnection. Waiters in
// AddRemoteICECandidate are released.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.remoteOnce.Do(func() { close(p.remoteDescSet) })
		if p.dc != nil {
			p.dc.Close()
		}
		if p.pc != nil {
			p.pc.Close()
		}
	})
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
