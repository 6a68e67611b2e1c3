// Package cmd holds the theia subcommands and the helpers they share with
// the main service.
package cmd

import (
	"fmt"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/camera/synthetic"
	"github.com/smazurov/theia/internal/camera/v4l2cam"
)

// Backends lists the accepted camera backend names.
var Backends = []string{"v4l2", "synthetic"}

// NewManager returns the camera backend named by backend. An empty name
// selects v4l2.
func NewManager(backend string) (camera.Manager, error) {
	switch backend {
	case "v4l2", "":
		return v4l2cam.NewManager(), nil
	case "synthetic":
		return synthetic.NewManager(synthetic.DefaultConfig()), nil
	default:
		return nil, fmt.Errorf("unknown camera backend %q (want one of %v)", backend, Backends)
	}
}
