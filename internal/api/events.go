package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/theia/internal/events"
)

// eventTypes maps SSE event names to payloads.
var eventTypes = map[string]any{
	"phase-changed":      events.PhaseChangedEvent{},
	"surface-changed":    events.SurfaceChangedEvent{},
	"preview-configured": events.PreviewConfiguredEvent{},
	"camera-error":       events.CameraErrorEvent{},
	"frame-stats":        events.FrameStatsEvent{},
}

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Lifecycle, surface, preview session, camera error and frame rate events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, eventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		feed := events.NewFeed(32)
		events.Include[events.PhaseChangedEvent](feed, s.eventBus)
		events.Include[events.SurfaceChangedEvent](feed, s.eventBus)
		events.Include[events.PreviewConfiguredEvent](feed, s.eventBus)
		events.Include[events.CameraErrorEvent](feed, s.eventBus)
		events.Include[events.FrameStatsEvent](feed, s.eventBus)
		defer func() {
			feed.Close()
			if n := feed.Dropped(); n > 0 {
				s.logger.Debug("Event stream dropped events", "dropped", n)
			}
		}()

		// The first message carries the current phase.
		current := "unknown"
		if s.options.Lifecycle != nil {
			current = s.options.Lifecycle.Phase().String()
		}
		if err := send.Data(events.PhaseChangedEvent{
			From:      current,
			To:        current,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-feed.C:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
