package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Preview is the [preview] section. It is the only section applied
// without a restart.
type Preview struct {
	MaxWidth  int    `toml:"max_width"`
	MaxHeight int    `toml:"max_height"`
	FPSStep   int    `toml:"fps_step"`
	Overlay   bool   `toml:"overlay"`
	Filter    string `toml:"filter"`
}

// DefaultPreview returns an 800x500 ceiling with the rate overlay on and
// no filter.
func DefaultPreview() Preview {
	return Preview{
		MaxWidth:  800,
		MaxHeight: 500,
		FPSStep:   20,
		Overlay:   true,
		Filter:    "none",
	}
}

// LoadPreview reads the [preview] section of the file at path. Keys the
// file does not set keep their defaults.
func LoadPreview(path string) (Preview, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preview{}, err
	}
	file := struct {
		Preview Preview `toml:"preview"`
	}{Preview: DefaultPreview()}
	if err := toml.Unmarshal(data, &file); err != nil {
		return Preview{}, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	p := file.Preview
	if p.MaxWidth <= 0 || p.MaxHeight <= 0 {
		return Preview{}, fmt.Errorf("invalid preview ceiling %dx%d", p.MaxWidth, p.MaxHeight)
	}
	if p.FPSStep <= 0 {
		return Preview{}, fmt.Errorf("invalid preview fps_step %d", p.FPSStep)
	}
	return p, nil
}
