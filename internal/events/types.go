package events

// Event type constants for kelindar/event.
const (
	TypePhaseChanged uint32 = iota + 1
	TypeSurfaceChanged
	TypePreviewConfigured
	TypeCameraError
	TypeFrameStats
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// PhaseChangedEvent is published for every lifecycle transition.
type PhaseChangedEvent struct {
	From      string `json:"from" example:"started" doc:"Previous lifecycle phase"`
	To        string `json:"to" example:"resumed" doc:"New lifecycle phase"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for PhaseChangedEvent.
func (e PhaseChangedEvent) Type() uint32 { return TypePhaseChanged }

// SurfaceChangedEvent reports a display surface becoming ready or going away.
type SurfaceChangedEvent struct {
	Ready     bool   `json:"ready" example:"true" doc:"Whether a surface is attached"`
	Width     int    `json:"width,omitempty" example:"1280" doc:"Surface width in pixels"`
	Height    int    `json:"height,omitempty" example:"720" doc:"Surface height in pixels"`
	Rotation  int    `json:"rotation" example:"0" doc:"Surface rotation in degrees"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SurfaceChangedEvent.
func (e SurfaceChangedEvent) Type() uint32 { return TypeSurfaceChanged }

// PreviewConfiguredEvent is published when a capture session starts
// streaming at a negotiated size.
type PreviewConfiguredEvent struct {
	CycleID   string `json:"cycle_id" example:"0d9c2a7e-4f0b-4e55-8a8e-1c3e4b3f9b11" doc:"Resume cycle identifier"`
	DeviceID  string `json:"device_id" example:"usb-046d_C920-video-index0" doc:"Camera device ID"`
	Width     int    `json:"width" example:"640" doc:"Negotiated preview width"`
	Height    int    `json:"height" example:"480" doc:"Negotiated preview height"`
	FPSLower  int    `json:"fps_lower" example:"15" doc:"Frame rate range lower bound"`
	FPSUpper  int    `json:"fps_upper" example:"30" doc:"Frame rate range upper bound"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PreviewConfiguredEvent.
func (e PreviewConfiguredEvent) Type() uint32 { return TypePreviewConfigured }

// CameraErrorEvent reports a failed lifecycle step or a lost device.
type CameraErrorEvent struct {
	DeviceID  string `json:"device_id" example:"synthetic0" doc:"Camera device ID"`
	Step      string `json:"step" example:"start" doc:"Lifecycle step that failed"`
	Code      string `json:"code,omitempty" example:"IN_USE" doc:"Camera or configuration error code"`
	Error     string `json:"error" example:"[IN_USE] Device already in use" doc:"Error description"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Error timestamp"`
}

// Type returns the event type identifier for CameraErrorEvent.
func (e CameraErrorEvent) Type() uint32 { return TypeCameraError }

// FrameStatsEvent carries periodic frame pipeline counters.
type FrameStatsEvent struct {
	CycleID   string  `json:"cycle_id" doc:"Resume cycle identifier"`
	FPS       float64 `json:"fps" example:"29.97" doc:"Measured render rate"`
	Rendered  uint64  `json:"rendered" example:"1200" doc:"Frames drawn to the surface"`
	Delivered uint64  `json:"delivered" example:"1210" doc:"Frames handed to the consumer"`
	Dropped   uint64  `json:"dropped" example:"10" doc:"Frames replaced before consumption"`
	Missed    uint64  `json:"missed" example:"0" doc:"Availability signals with no image"`
	Timestamp string  `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameStatsEvent.
func (e FrameStatsEvent) Type() uint32 { return TypeFrameStats }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
