// Package config holds the process configuration and its layered loader.
package config

import (
	"fmt"
	"strings"
	"time"

	"depthview-go/internal/processing"
)

type AppConfig struct {
	// Port serves HTTP and the render websocket.
	Port int `koanf:"port"`
	// Endpoint is the ZeroMQ address the sensor bridge pushes frames to.
	Endpoint string `koanf:"endpoint"`
	// BridgeURL is the bridge HTTP API; empty disables polling.
	BridgeURL          string        `koanf:"bridge_url"`
	BridgePollInterval time.Duration `koanf:"bridge_poll_interval"`

	Debug          bool    `koanf:"debug"`
	DebugFPS       float64 `koanf:"debug_fps"`
	DebugDropEvery int     `koanf:"debug_drop_every"`
	ReplayPath     string  `koanf:"replay_path"`
	ReplayFPS      float64 `koanf:"replay_fps"`

	DepthWidth  int `koanf:"depth_width"`
	DepthHeight int `koanf:"depth_height"`
	ColorWidth  int `koanf:"color_width"`
	ColorHeight int `koanf:"color_height"`

	// MinReliableMM and MaxReliableMM override the sensor-reported range when
	// non-zero.
	MinReliableMM int    `koanf:"min_reliable_mm"`
	MaxReliableMM int    `koanf:"max_reliable_mm"`
	DepthOverflow string `koanf:"depth_overflow"`
	MaskDefault   bool   `koanf:"mask_default"`

	ColorScale      float64 `koanf:"color_scale"`
	DepthScale      float64 `koanf:"depth_scale"`
	UIRate          float64 `koanf:"ui_rate"`
	StreamColorStep int     `koanf:"stream_color_step"`

	CalibrationFile string `koanf:"calibration_file"`
	RawLog          bool   `koanf:"raw_log"`
	RawLogDir       string `koanf:"raw_log_dir"`
	OutputDir       string `koanf:"output_dir"`
	IngestLogEvery  int    `koanf:"ingest_log_every"`

	LogLevel   string `koanf:"log_level"`
	LogConsole bool   `koanf:"log_console"`
}

func New() *AppConfig {
	return &AppConfig{
		Port:               8888,
		Endpoint:           "tcp://localhost:31001",
		BridgePollInterval: 2 * time.Second,
		DebugFPS:           30,
		ReplayFPS:          30,
		DepthWidth:         512,
		DepthHeight:        424,
		ColorWidth:         1920,
		ColorHeight:        1080,
		DepthOverflow:      processing.OverflowWrap.String(),
		MaskDefault:        true,
		ColorScale:         3,
		DepthScale:         1,
		UIRate:             15,
		StreamColorStep:    3,
		RawLogDir:          "output",
		OutputDir:          "output",
		IngestLogEvery:     100,
		LogLevel:           "info",
		LogConsole:         true,
	}
}

// OverflowPolicy parses DepthOverflow.
func (c *AppConfig) OverflowPolicy() processing.OverflowPolicy {
	policy, _ := processing.ParseOverflowPolicy(c.DepthOverflow)
	return policy
}

// Validate reports the first invalid field.
func (c *AppConfig) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return invalid("port %d out of range", c.Port)
	case !c.Debug && c.ReplayPath == "" && strings.TrimSpace(c.Endpoint) == "":
		return invalid("endpoint must not be empty")
	case c.DepthWidth <= 0 || c.DepthHeight <= 0:
		return invalid("depth size %dx%d", c.DepthWidth, c.DepthHeight)
	case c.ColorWidth <= 0 || c.ColorHeight <= 0:
		return invalid("color size %dx%d", c.ColorWidth, c.ColorHeight)
	case c.MinReliableMM < 0 || c.MinReliableMM > 65535:
		return invalid("min_reliable_mm %d", c.MinReliableMM)
	case c.MaxReliableMM < 0 || c.MaxReliableMM > 65535:
		return invalid("max_reliable_mm %d", c.MaxReliableMM)
	case c.MaxReliableMM != 0 && c.MaxReliableMM < c.MinReliableMM:
		return invalid("max_reliable_mm %d below min_reliable_mm %d", c.MaxReliableMM, c.MinReliableMM)
	case c.ColorScale <= 0 || c.DepthScale <= 0:
		return invalid("display scales must be positive")
	case c.UIRate <= 0:
		return invalid("ui_rate must be positive")
	case c.StreamColorStep < 1:
		return invalid("stream_color_step must be at least 1")
	case c.Debug && c.DebugFPS <= 0:
		return invalid("debug_fps must be positive")
	case c.ReplayPath != "" && c.ReplayFPS <= 0:
		return invalid("replay_fps must be positive")
	case c.DebugDropEvery < 0:
		return invalid("debug_drop_every must not be negative")
	case c.BridgeURL != "" && c.BridgePollInterval <= 0:
		return invalid("bridge_poll_interval must be positive")
	}
	if _, err := processing.ParseOverflowPolicy(c.DepthOverflow); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
