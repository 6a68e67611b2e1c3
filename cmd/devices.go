package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/logging"
	"github.com/smazurov/theia/internal/negotiate"
)

// DeviceReport is what the devices command prints for one camera.
type DeviceReport struct {
	Device       camera.DeviceInfo    `json:"device"`
	Capabilities *camera.Capabilities `json:"capabilities,omitempty"`
	PreviewSize  *camera.Size         `json:"preview_size,omitempty"`
	FPSRange     *camera.FPSRange     `json:"fps_range,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var backend string
	var surface string
	var ceiling string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List cameras and the preview they would negotiate",
		Long: `Enumerates the cameras of the selected backend and prints their native sizes and frame rate ranges, ` +
			`together with the preview size and frame rate range chosen for the given surface and ceiling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			surfaceSize, err := ParseSize(surface)
			if err != nil {
				return fmt.Errorf("--surface: %w", err)
			}
			var limit *camera.Size
			if ceiling != "" {
				c, parseErr := ParseSize(ceiling)
				if parseErr != nil {
					return fmt.Errorf("--ceiling: %w", parseErr)
				}
				limit = &c
			}

			manager, err := NewManager(backend)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			reports, err := Describe(ctx, manager, surfaceSize, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(reports)
			}
			return PrintReports(cmd.OutOrStdout(), reports)
		},
	}

	cmd.Flags().StringVarP(&backend, "backend", "b", "v4l2", "Camera backend (v4l2, synthetic)")
	cmd.Flags().StringVar(&surface, "surface", "1280x720", "Surface size used for negotiation")
	cmd.Flags().StringVar(&ceiling, "ceiling", "800x500", "Preview size ceiling, empty for none")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}

// ParseSize parses a WxH size.
func ParseSize(s string) (camera.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return camera.Size{}, fmt.Errorf("invalid size %q, want WxH", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return camera.Size{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return camera.Size{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	size := camera.Size{Width: width, Height: height}
	if size.Empty() {
		return camera.Size{}, fmt.Errorf("invalid size %q, both sides must be positive", s)
	}
	return size, nil
}

// Describe queries every device of m and negotiates a preview for each. A
// device whose capabilities cannot be read or negotiated carries the error
// in its report.
func Describe(ctx context.Context, m camera.Manager, surface camera.Size, ceiling *camera.Size) ([]DeviceReport, error) {
	infos, err := m.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	reports := make([]DeviceReport, 0, len(infos))
	for _, info := range infos {
		r := DeviceReport{Device: info}
		caps, capErr := negotiate.Capabilities(ctx, m, info.ID)
		if capErr != nil {
			r.Error = capErr.Error()
			reports = append(reports, r)
			continue
		}
		r.Capabilities = &caps

		if size, sizeErr := negotiate.PreviewSize(caps.Sizes, surface, ceiling); sizeErr == nil {
			r.PreviewSize = &size
		} else {
			r.Error = sizeErr.Error()
		}
		if fps, fpsErr := negotiate.FPSRange(caps.FPSRanges); fpsErr == nil {
			r.FPSRange = &fps
		} else if r.Error == "" {
			r.Error = fpsErr.Error()
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// PrintReports writes reports as an aligned table.
func PrintReports(w io.Writer, reports []DeviceReport) error {
	if len(reports) == 0 {
		_, err := fmt.Fprintln(w, "No cameras found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tREADY\tFORMAT\tSIZES\tFPS RANGES\tPREVIEW\tFPS")
	for _, r := range reports {
		format, sizes, ranges := "-", "-", "-"
		if c := r.Capabilities; c != nil {
			if c.Format != "" {
				format = c.Format
			}
			sizes = joinStrings(c.Sizes)
			ranges = joinStrings(c.FPSRanges)
		}
		preview, fps := "-", "-"
		if r.PreviewSize != nil {
			preview = r.PreviewSize.String()
		}
		if r.FPSRange != nil {
			fps = r.FPSRange.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\t%s\t%s\n",
			r.Device.ID, r.Device.Name, r.Device.Ready, format, sizes, ranges, preview, fps)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(w, "%s: %s\n", r.Device.ID, r.Error)
		}
	}
	return nil
}

func joinStrings[T fmt.Stringer](items []T) string {
	if len(items) == 0 {
		return "-"
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return strings.Join(parts, " ")
}
