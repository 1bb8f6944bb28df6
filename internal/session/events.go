package session

import (
	"fmt"

	"moonlink/native/internal/domain"
)

// EventKind identifies a lifecycle event.
type EventKind int

const (
	EventStageStarting EventKind = iota
	EventStageComplete
	EventStageFailed
	EventStarted
	EventStatus
	EventDecodeFatal
	EventTerminated
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStageStarting:
		return "stage-starting"
	case EventStageComplete:
		return "stage-complete"
	case EventStageFailed:
		return "stage-failed"
	case EventStarted:
		return "started"
	case EventStatus:
		return "status"
	case EventDecodeFatal:
		return "decode-fatal"
	case EventTerminated:
		return "terminated"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered to the consumer through Session.Events. Connection
// goroutine errors arrive here instead of as return values.
type Event struct {
	Kind   EventKind
	Stage  domain.Stage
	Code   int
	Status domain.ConnectionStatus
	Err    error
}

func (e Event) String() string {
	switch e.Kind {
	case EventStageStarting, EventStageComplete:
		return fmt.Sprintf("%s: %s", e.Kind, e.Stage)
	case EventStageFailed:
		return fmt.Sprintf("%s: %s (error %d)", e.Kind, e.Stage, e.Code)
	case EventStatus:
		return fmt.Sprintf("%s: %s", e.Kind, e.Status)
	case EventTerminated:
		return fmt.Sprintf("%s: %s", e.Kind, domain.TerminationReason(e.Code))
	case EventFailed, EventDecodeFatal:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}
