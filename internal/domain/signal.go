package domain

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// ICEServer is a STUN/TURN server handed out by the gateway.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// LaunchRequest asks the gateway to start streaming from the host.
type LaunchRequest struct {
	SessionID        string `json:"sessionId"`
	Host             string `json:"host"`
	RTSPSessionURL   string `json:"rtspSessionUrl,omitempty"`
	ServerAppVersion string `json:"appVersion"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	FPS              int    `json:"fps"`
	BitrateKbps      int    `json:"bitrateKbps"`
	PacketSize       int    `json:"packetSize"`
	VideoCodec       string `json:"videoCodec"`
	ColorSpace       string `json:"colorSpace"`
	ColorRange       string `json:"colorRange"`
	AudioConfig      uint32 `json:"audioConfig"`
	RemoteInputKey   string `json:"riKey"`
	RemoteInputKeyID uint32 `json:"riKeyId"`
}

// LaunchInfo is the gateway's answer to a launch.
type LaunchInfo struct {
	ICEServers []ICEServer `json:"iceServers"`
	AudioCodec string      `json:"audioCodec"`
	SampleRate int         `json:"sampleRate"`
	Channels   int         `json:"channels"`
}

// StageUpdate reports progress of a handshake stage on the host side.
type StageUpdate struct {
	Stage  Stage  `json:"stage"`
	Status string `json:"status"` // "starting", "complete" or "failed"
	Code   int    `json:"code,omitempty"`
}

const (
	StageStatusStarting = "starting"
	StageStatusComplete = "complete"
	StageStatusFailed   = "failed"
)
