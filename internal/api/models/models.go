// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/smazurov/theia/internal/camera"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-01T00:00:00Z" doc:"Build timestamp"`
	Modified  bool   `json:"modified,omitempty" doc:"Built from a dirty tree"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go runtime version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Status models
type StatusData struct {
	Phase       string          `json:"phase" example:"resumed" doc:"Current lifecycle phase"`
	Surface     string          `json:"surface" example:"ready" doc:"Display surface state"`
	SurfaceSize camera.Size     `json:"surface_size" doc:"Display surface size, zero while absent"`
	DeviceID    string          `json:"device_id,omitempty" example:"/dev/video0" doc:"Camera in use"`
	Streaming   bool            `json:"streaming" example:"true" doc:"Whether a preview session is live"`
	PreviewSize camera.Size     `json:"preview_size" doc:"Negotiated preview size"`
	FPSRange    camera.FPSRange `json:"fps_range" doc:"Requested frame rate range"`
	CycleID     string          `json:"cycle_id,omitempty" example:"0b8e7c2e-4f7d-4c53-9a0d-5d2f3b1e6a10" doc:"Current preview cycle"`
	FPS         float64         `json:"fps" example:"29.97" doc:"Measured preview frame rate"`
	Delivered   uint64          `json:"delivered" example:"1200" doc:"Frames delivered to the renderer this cycle"`
	Dropped     uint64          `json:"dropped" example:"3" doc:"Frames conflated away this cycle"`
	Missed      uint64          `json:"missed" example:"0" doc:"Frame notifications without an image this cycle"`
	Rendered    uint64          `json:"rendered" example:"1197" doc:"Frames drawn since start"`
	Viewers     int             `json:"viewers" example:"1" doc:"Connected MJPEG viewers"`
	LastError   string          `json:"last_error,omitempty" doc:"Most recent camera error"`
}

type StatusResponse struct {
	Body StatusData
}

// Device models
type DeviceData struct {
	ID           string               `json:"id" example:"/dev/video0" doc:"Device identifier"`
	Name         string               `json:"name" example:"USB Camera" doc:"Device name"`
	Path         string               `json:"path,omitempty" example:"/dev/video0" doc:"Device node"`
	Ready        bool                 `json:"ready" example:"true" doc:"Whether the device can be opened"`
	Capabilities *camera.Capabilities `json:"capabilities,omitempty" doc:"Native sizes and frame rate ranges"`
	Error        string               `json:"error,omitempty" doc:"Capability query failure"`
}

type DeviceListData struct {
	Devices []DeviceData `json:"devices" doc:"Enumerated cameras"`
	Count   int          `json:"count" example:"1" doc:"Number of cameras"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

// Lifecycle models
type LifecycleRequest struct {
	Action string `path:"action" enum:"created,started,resumed,paused,stopped,destroyed,foreground,background" doc:"Target phase, or foreground (resumed) / background (stopped)"`
}

type LifecycleData struct {
	From string `json:"from" example:"stopped" doc:"Phase before the request"`
	To   string `json:"to" example:"resumed" doc:"Phase after the request"`
}

type LifecycleResponse struct {
	Body LifecycleData
}
