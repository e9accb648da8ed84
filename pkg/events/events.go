// Package events defines the closed set of event types exchanged on the bus.
// Each event name has exactly one payload struct, so a subscriber that
// compiles against a payload type cannot observe a missing field at runtime.
package events

import (
	"time"

	"github.com/echosight/echosight/pkg/analysis"
)

// Type identifies an event on the bus.
type Type string

// All event types published by echosight components.
const (
	TypeAnalysisStarted   Type = "analysis:started"
	TypeAnalysisCompleted Type = "analysis:completed"
	TypeAnalysisError     Type = "analysis:error"
	TypeConnectionChanged Type = "connection:changed"
	TypeCameraChanged     Type = "camera:changed"
	TypeRealtimeChanged   Type = "realtime:changed"
	TypeNotice            Type = "notice"
	TypeBusError          Type = "bus:error"
)

// Payload is implemented by every event payload in this package. The set is
// closed: the bus only accepts payloads declared here.
type Payload interface {
	EventType() Type
}

// Event is an immutable envelope delivered to subscribers.
type Event struct {
	Type      Type
	Payload   Payload
	Timestamp time.Time
	Source    string
}

// AnalysisStarted is published immediately before a request is dispatched to
// the inference server.
type AnalysisStarted struct {
	RequestID  string
	Prompt     string
	IsRealtime bool
}

// EventType implements Payload.
func (AnalysisStarted) EventType() Type { return TypeAnalysisStarted }

// AnalysisCompleted carries the result of a successful analysis.
type AnalysisCompleted struct {
	Result analysis.Result
}

// EventType implements Payload.
func (AnalysisCompleted) EventType() Type { return TypeAnalysisCompleted }

// AnalysisError reports a terminal analysis failure. Transient retry attempts
// inside the inference client are not reported here.
type AnalysisError struct {
	RequestID  string
	Class      string
	Message    string
	IsRealtime bool
}

// EventType implements Payload.
func (AnalysisError) EventType() Type { return TypeAnalysisError }

// ConnectionChanged reports inference server connectivity transitions.
type ConnectionChanged struct {
	Connected bool
	Model     string
	Reason    string
}

// EventType implements Payload.
func (ConnectionChanged) EventType() Type { return TypeConnectionChanged }

// CameraChanged reports frame source availability transitions.
type CameraChanged struct {
	Active bool
}

// EventType implements Payload.
func (CameraChanged) EventType() Type { return TypeCameraChanged }

// RealtimeChanged reports the live-analysis polling loop turning on or off.
type RealtimeChanged struct {
	Enabled bool
}

// EventType implements Payload.
func (RealtimeChanged) EventType() Type { return TypeRealtimeChanged }

// NoticeLevel grades user-facing notices.
type NoticeLevel string

// Notice levels.
const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a direct user-facing message, used for precondition failures that
// never enter the analysis result stream.
type Notice struct {
	Level   NoticeLevel
	Message string
	// Spoken requests narration of the notice when voice feedback is enabled.
	Spoken bool
}

// EventType implements Payload.
func (Notice) EventType() Type { return TypeNotice }

// BusError reports a subscriber callback failure. It is never republished for
// failures of BusError handlers themselves.
type BusError struct {
	Origin  Type
	Message string
}

// EventType implements Payload.
func (BusError) EventType() Type { return TypeBusError }
