package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"depthview-go/internal/config"
	"depthview-go/internal/logging"
	"depthview-go/internal/metrics"
	"depthview-go/internal/server"
	"depthview-go/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthview: %v\n", err)
		os.Exit(2)
	}
	bindFlags(flag.CommandLine, cfg)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "depthview: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New("depthview", cfg.LogLevel, cfg.LogConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthview: %v\n", err)
		os.Exit(2)
	}

	m := metrics.NewManager()
	sess, err := session.Open(ctx, *cfg, logger, m)
	if err != nil {
		logger.Fatal().Err(err).Msg("open session")
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Error().Err(err).Msg("close session")
		}
	}()

	logger.Info().Msgf("Starting web UI at http://localhost:%d", cfg.Port)
	srv := server.New(*cfg, sess, server.WithLogger(logger), server.WithMetrics(m))
	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped")
	}
}

// bindFlags registers one flag per setting, defaulting to the loaded value.
func bindFlags(fs *flag.FlagSet, cfg *config.AppConfig) {
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for the web UI and render websocket")
	fs.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "ZeroMQ endpoint the sensor bridge pushes to")
	fs.StringVar(&cfg.BridgeURL, "bridge-url", cfg.BridgeURL, "Sensor bridge HTTP API base URL")
	fs.DurationVar(&cfg.BridgePollInterval, "bridge-interval", cfg.BridgePollInterval, "Polling interval for bridge status")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Run with the simulated sensor")
	fs.Float64Var(&cfg.DebugFPS, "debug-fps", cfg.DebugFPS, "Simulated frame rate")
	fs.IntVar(&cfg.DebugDropEvery, "debug-drop-every", cfg.DebugDropEvery, "Drop the color frame of every Nth simulated pair")
	fs.StringVar(&cfg.ReplayPath, "replay", cfg.ReplayPath, "Replay a raw log instead of connecting to the bridge")
	fs.Float64Var(&cfg.ReplayFPS, "replay-fps", cfg.ReplayFPS, "Replay frame rate")
	fs.IntVar(&cfg.DepthWidth, "depth-width", cfg.DepthWidth, "Depth frame width")
	fs.IntVar(&cfg.DepthHeight, "depth-height", cfg.DepthHeight, "Depth frame height")
	fs.IntVar(&cfg.ColorWidth, "color-width", cfg.ColorWidth, "Color frame width")
	fs.IntVar(&cfg.ColorHeight, "color-height", cfg.ColorHeight, "Color frame height")
	fs.IntVar(&cfg.MinReliableMM, "min-reliable", cfg.MinReliableMM, "Override the sensor's minimum reliable distance (mm)")
	fs.IntVar(&cfg.MaxReliableMM, "max-reliable", cfg.MaxReliableMM, "Override the sensor's maximum reliable distance (mm)")
	fs.StringVar(&cfg.DepthOverflow, "depth-overflow", cfg.DepthOverflow, "Depth intensity overflow policy: wrap or clamp")
	fs.BoolVar(&cfg.MaskDefault, "mask", cfg.MaskDefault, "Mask color pixels without depth at startup")
	fs.Float64Var(&cfg.ColorScale, "color-scale", cfg.ColorScale, "Color view to color image scale factor")
	fs.Float64Var(&cfg.DepthScale, "depth-scale", cfg.DepthScale, "Depth view to depth image scale factor")
	fs.Float64Var(&cfg.UIRate, "ui-rate", cfg.UIRate, "Websocket frame rate")
	fs.IntVar(&cfg.StreamColorStep, "stream-color-step", cfg.StreamColorStep, "Color subsampling step for the websocket stream")
	fs.StringVar(&cfg.CalibrationFile, "calibration", cfg.CalibrationFile, "Camera calibration JSON file")
	fs.BoolVar(&cfg.RawLog, "raw-log", cfg.RawLog, "Write raw CBOR messages to disk")
	fs.StringVar(&cfg.RawLogDir, "raw-log-dir", cfg.RawLogDir, "Directory for raw ingest logs")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for snapshots")
	fs.IntVar(&cfg.IngestLogEvery, "ingest-log-every", cfg.IngestLogEvery, "Log every Nth ingest error")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	fs.BoolVar(&cfg.LogConsole, "log-console", cfg.LogConsole, "Human readable console logs")
}
