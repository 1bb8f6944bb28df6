package domain

import "fmt"

// Stage of the connection handshake.
type Stage int

const (
	StageNone Stage = iota
	StagePlatformInit
	StageNameResolution
	StageAudioStreamInit
	StageRTSPHandshake
	StageControlStreamInit
	StageVideoStreamInit
	StageInputStreamInit
	StageControlStreamStart
	StageVideoStreamStart
	StageAudioStreamStart
	StageInputStreamStart
	StageMax
)

var stageNames = [...]string{
	StageNone:               "none",
	StagePlatformInit:       "platform initialization",
	StageNameResolution:     "name resolution",
	StageAudioStreamInit:    "audio stream initialization",
	StageRTSPHandshake:      "RTSP handshake",
	StageControlStreamInit:  "control stream initialization",
	StageVideoStreamInit:    "video stream initialization",
	StageInputStreamInit:    "input stream initialization",
	StageControlStreamStart: "control stream establishment",
	StageVideoStreamStart:   "video stream establishment",
	StageAudioStreamStart:   "audio stream establishment",
	StageInputStreamStart:   "input stream establishment",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Termination codes reported through ConnectionCallbacks.Terminated.
const (
	TerminationGraceful         = 0
	TerminationUnexpected       = -100
	TerminationProtectedContent = -101
	TerminationFrameConversion  = -102
)

// TerminationReason describes a termination code.
func TerminationReason(code int) string {
	switch code {
	case TerminationGraceful:
		return "graceful"
	case TerminationUnexpected:
		return "unexpected termination"
	case TerminationProtectedContent:
		return "protected content"
	case TerminationFrameConversion:
		return "frame conversion failed"
	default:
		return fmt.Sprintf("error %d", code)
	}
}

// ConnectionStatus reported by the library while streaming.
type ConnectionStatus int

const (
	ConnectionStatusOkay ConnectionStatus = iota
	ConnectionStatusPoor
)

func (s ConnectionStatus) String() string {
	if s == ConnectionStatusPoor {
		return "poor"
	}
	return "okay"
}
