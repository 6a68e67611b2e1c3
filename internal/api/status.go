package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/theia/internal/api/models"
	"github.com/smazurov/theia/internal/lifecycle"
)

func (s *Server) registerStatusRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Status",
		Description: "Current lifecycle phase, surface and preview session state",
		Tags:        []string{"preview"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(ctx context.Context, input *struct{}) (*models.StatusResponse, error) {
		if s.options.Status == nil {
			return nil, huma.Error503ServiceUnavailable("preview pipeline not running")
		}
		st := s.options.Status.Status()
		data := models.StatusData{
			Phase:       st.Phase.String(),
			Surface:     st.Surface.String(),
			SurfaceSize: st.SurfaceSize,
			DeviceID:    st.DeviceID,
			Streaming:   st.Streaming,
			PreviewSize: st.PreviewSize,
			FPSRange:    st.FPSRange,
			CycleID:     st.CycleID,
			FPS:         st.FPS,
			Delivered:   st.Frames.Delivered,
			Dropped:     st.Frames.Dropped,
			Missed:      st.Frames.Missed,
			Rendered:    st.Rendered,
			LastError:   st.LastError,
		}
		if s.options.Viewer != nil {
			data.Viewers = s.options.Viewer.Clients()
		}
		return &models.StatusResponse{Body: data}, nil
	})
}

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "Enumerate cameras with their native sizes and frame rate ranges",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500, 503},
	}, func(ctx context.Context, input *struct{}) (*models.DeviceListResponse, error) {
		if s.options.Devices == nil {
			return nil, huma.Error503ServiceUnavailable("no camera backend")
		}
		infos, err := s.options.Devices.ListDevices(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list devices", err)
		}

		list := make([]models.DeviceData, 0, len(infos))
		for _, info := range infos {
			d := models.DeviceData{
				ID:    info.ID,
				Name:  info.Name,
				Path:  info.Path,
				Ready: info.Ready,
			}
			caps, err := s.options.Devices.Capabilities(ctx, info.ID)
			if err != nil {
				s.logger.Warn("Failed to query capabilities", "device", info.ID, "error", err)
				d.Error = err.Error()
			} else {
				d.Capabilities = &caps
			}
			list = append(list, d)
		}
		return &models.DeviceListResponse{
			Body: models.DeviceListData{Devices: list, Count: len(list)},
		}, nil
	})
}

// actionPhase maps a lifecycle action to its target phase.
func actionPhase(action string) (lifecycle.Phase, error) {
	switch strings.ToLower(action) {
	case "foreground":
		return lifecycle.Resumed, nil
	case "background":
		return lifecycle.Stopped, nil
	}
	return lifecycle.ParsePhase(strings.ToLower(action))
}

func (s *Server) registerLifecycleRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "move-lifecycle",
		Method:      http.MethodPost,
		Path:        "/api/lifecycle/{action}",
		Summary:     "Lifecycle",
		Description: "Move the application to a lifecycle phase through every intermediate phase",
		Tags:        []string{"preview"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 409, 503},
	}, func(ctx context.Context, input *models.LifecycleRequest) (*models.LifecycleResponse, error) {
		if s.options.Lifecycle == nil {
			return nil, huma.Error503ServiceUnavailable("lifecycle not available")
		}
		target, err := actionPhase(input.Action)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}

		from := s.options.Lifecycle.Phase()
		if err := s.options.Lifecycle.MoveTo(target); err != nil {
			if errors.Is(err, lifecycle.ErrIllegalTransition) {
				return nil, huma.Error409Conflict(err.Error())
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to move to %s", target), err)
		}
		s.logger.Info("Lifecycle moved by API", "from", from, "to", target)
		return &models.LifecycleResponse{
			Body: models.LifecycleData{From: from.String(), To: s.options.Lifecycle.Phase().String()},
		}, nil
	})
}
