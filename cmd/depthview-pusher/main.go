// Command depthview-pusher stands in for the sensor bridge: it renders the
// simulated scene and pushes CBOR frame messages over ZeroMQ. With -http it
// also serves the bridge status and calibration endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"depthview-go/internal/geometry"
	"depthview-go/internal/ingest"
	"depthview-go/internal/logging"
	"depthview-go/internal/simulator"
	"depthview-go/internal/types"
)

func main() {
	var (
		bind        = flag.String("bind", "tcp://*:31001", "ZeroMQ PUSH bind address")
		httpAddr    = flag.String("http", "", "Serve the bridge HTTP API on this address (e.g. :8080)")
		fps         = flag.Float64("fps", 30, "Frame rate")
		dropEvery   = flag.Int("drop-every", 0, "Leave the color frame out of every Nth pair")
		calibration = flag.String("calibration", "", "Camera calibration JSON file")
		sendTimeout = flag.Duration("send-timeout", 100*time.Millisecond, "Drop a frame when no consumer takes it within this time")
		logLevel    = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	logger, err := logging.New("depthview-pusher", *logLevel, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthview-pusher: %v\n", err)
		os.Exit(2)
	}

	system := geometry.DefaultKinectV2()
	if *calibration != "" {
		system, err = geometry.LoadCameraSystem(*calibration)
		if err != nil {
			logger.Fatal().Err(err).Msg("load calibration")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	socket, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		logger.Fatal().Err(err).Msg("create zmq socket")
	}
	defer socket.Close()
	if err := socket.SetSndtimeo(*sendTimeout); err != nil {
		logger.Fatal().Err(err).Msg("set send timeout")
	}
	if err := socket.SetLinger(0); err != nil {
		logger.Fatal().Err(err).Msg("set linger")
	}
	if err := socket.Bind(*bind); err != nil {
		logger.Fatal().Err(err).Str("bind", *bind).Msg("bind zmq socket")
	}

	src, err := simulator.New(system,
		simulator.WithFPS(*fps),
		simulator.WithDropEvery(*dropEvery),
		simulator.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("create simulator")
	}
	src.Start(ctx)
	defer src.Close()

	var streaming atomic.Bool
	if *httpAddr != "" {
		go serveBridgeAPI(ctx, *httpAddr, system, &streaming, logger)
	}

	logger.Info().Str("bind", *bind).Float64("fps", *fps).Msg("pushing frames")
	var sent, dropped uint64
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	frames, availability := src.Frames(), src.Availability()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Uint64("sent", sent).Uint64("dropped", dropped).Msg("pusher stopped")
			return
		case <-report.C:
			logger.Info().Uint64("sent", sent).Uint64("dropped", dropped).Msg("push stats")
		case available := <-availability:
			streaming.Store(available)
			payload, err := ingest.EncodeAvailability(available)
			if err == nil {
				err = push(socket, payload)
			}
			if err != nil {
				logger.Warn().Err(err).Bool("available", available).Msg("availability not sent")
			}
		case pair, ok := <-frames:
			if !ok {
				return
			}
			if err := pushPair(socket, pair); err != nil {
				dropped++
				logger.Debug().Err(err).Uint64("seq", pair.Seq).Msg("frame dropped")
				continue
			}
			sent++
		}
	}
}

func pushPair(socket *zmq4.Socket, pair *types.FramePair) error {
	defer pair.Done()
	payload, err := ingest.EncodeFrames(pair)
	if err != nil {
		return err
	}
	return push(socket, payload)
}

func push(socket *zmq4.Socket, payload []byte) error {
	_, err := socket.SendBytes(payload, 0)
	return err
}

func serveBridgeAPI(ctx context.Context, addr string, system *geometry.CameraSystem, streaming *atomic.Bool, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/1/status", func(w http.ResponseWriter, _ *http.Request) {
		state := "idle"
		if streaming.Load() {
			state = "streaming"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"state": state, "available": streaming.Load()})
	})
	mux.HandleFunc("/api/1/calibration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(system)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Str("addr", addr).Msg("bridge api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("bridge api stopped")
	}
}
