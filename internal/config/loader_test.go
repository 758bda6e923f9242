package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"depthview-go/internal/config"
	"depthview-go/internal/processing"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		convey.Reset(clearConfigEnvVars)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load the sensor defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 8888)
				convey.So(cfg.DepthWidth, convey.ShouldEqual, 512)
				convey.So(cfg.DepthHeight, convey.ShouldEqual, 424)
				convey.So(cfg.ColorWidth, convey.ShouldEqual, 1920)
				convey.So(cfg.ColorHeight, convey.ShouldEqual, 1080)
				convey.So(cfg.MaskDefault, convey.ShouldBeTrue)
				convey.So(cfg.ColorScale, convey.ShouldEqual, 3)
				convey.So(cfg.OverflowPolicy(), convey.ShouldEqual, processing.OverflowWrap)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("DEPTHVIEW_PORT", "9000")
			_ = os.Setenv("DEPTHVIEW_DEBUG_FPS", "12.5")
			_ = os.Setenv("DEPTHVIEW_MASK_DEFAULT", "false")
			_ = os.Setenv("DEPTHVIEW_DEPTH_OVERFLOW", "clamp")
			_ = os.Setenv("DEPTHVIEW_BRIDGE_POLL_INTERVAL", "500ms")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env vars override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 9000)
				convey.So(cfg.DebugFPS, convey.ShouldEqual, 12.5)
				convey.So(cfg.MaskDefault, convey.ShouldBeFalse)
				convey.So(cfg.OverflowPolicy(), convey.ShouldEqual, processing.OverflowClamp)
				convey.So(cfg.BridgePollInterval, convey.ShouldEqual, 500*time.Millisecond)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := filepath.Join(t.TempDir(), "depthview.yaml")
			yamlContent := `
port: 9100
endpoint: "tcp://bridge:31001"
min_reliable_mm: 400
max_reliable_mm: 4500
stream_color_step: 2
`
			convey.So(os.WriteFile(path, []byte(yamlContent), 0o644), convey.ShouldBeNil)
			_ = os.Setenv(config.EnvFile, path)
			_ = os.Setenv("DEPTHVIEW_PORT", "9200")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values apply and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 9200)
				convey.So(cfg.Endpoint, convey.ShouldEqual, "tcp://bridge:31001")
				convey.So(cfg.MinReliableMM, convey.ShouldEqual, 400)
				convey.So(cfg.MaxReliableMM, convey.ShouldEqual, 4500)
				convey.So(cfg.StreamColorStep, convey.ShouldEqual, 2)
				convey.So(cfg.UIRate, convey.ShouldEqual, 15)
			})
		})

		convey.Convey("When the YAML file is missing", func() {
			_ = os.Setenv(config.EnvFile, filepath.Join(t.TempDir(), "missing.yaml"))
			_, err := config.Load(ctx)

			convey.Convey("Then it reports a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a loaded value is invalid", func() {
			_ = os.Setenv("DEPTHVIEW_DEPTH_OVERFLOW", "explode")
			_, err := config.Load(ctx)

			convey.Convey("Then it reports an invalid config", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if key, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(key, config.EnvPrefix) {
			_ = os.Unsetenv(key)
		}
	}
}
