// Command depthview-decode runs a raw log through an offline frame
// synchronizer and prints the outcome of every tick.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"depthview-go/internal/framesync"
	"depthview-go/internal/geometry"
	"depthview-go/internal/ingest"
	"depthview-go/internal/logging"
	"depthview-go/internal/mapping"
	"depthview-go/internal/output"
	"depthview-go/internal/processing"
)

func main() {
	var (
		path        = flag.String("path", "", "Path to rawlog .bin file")
		limit       = flag.Int("limit", 0, "Stop after this many frame messages (0 = all)")
		calibration = flag.String("calibration", "", "Camera calibration JSON file")
		overflow    = flag.String("depth-overflow", processing.OverflowWrap.String(), "Depth intensity overflow policy: wrap or clamp")
		mask        = flag.Bool("mask", true, "Mask color pixels without depth")
		snapshotDir = flag.String("snapshot", "", "Write the last published tick to this directory")
		logLevel    = flag.String("log-level", "warn", "Log level")
	)
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "depthview-decode: -path is required")
		os.Exit(2)
	}
	logger, err := logging.New("depthview-decode", *logLevel, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthview-decode: %v\n", err)
		os.Exit(2)
	}
	policy, err := processing.ParseOverflowPolicy(*overflow)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid overflow policy")
	}

	system := geometry.DefaultKinectV2()
	if *calibration != "" {
		system, err = geometry.LoadCameraSystem(*calibration)
		if err != nil {
			logger.Fatal().Err(err).Msg("load calibration")
		}
	}
	adapter, err := mapping.NewAdapter(system, system.DepthDescription(), system.ColorDescription())
	if err != nil {
		logger.Fatal().Err(err).Msg("create mapping adapter")
	}
	synchronizer, err := framesync.New(adapter,
		framesync.WithLogger(logger),
		framesync.WithOverflowPolicy(policy),
		framesync.WithMask(*mask),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("create synchronizer")
	}

	rawlog, err := output.OpenRawLog(*path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open rawlog")
	}
	defer rawlog.Close()

	var frames, published, dropped, malformed int
	for index := 0; ; index++ {
		if *limit > 0 && frames >= *limit {
			break
		}
		record, err := rawlog.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Fatal().Err(err).Int("record", index).Msg("read rawlog")
		}

		msg, err := ingest.DecodeMessage(record.Payload)
		if err != nil {
			malformed++
			fmt.Printf("record %d: %v\n", index, err)
			continue
		}
		if msg.Type == ingest.TypeAvailability {
			synchronizer.SetAvailable(msg.Available)
			fmt.Printf("record %d: available=%t\n", index, msg.Available)
			continue
		}

		frames++
		seq := msg.Pair.Seq
		st, err := synchronizer.Tick(msg.Pair)
		if err != nil {
			dropped++
			fmt.Printf("record %d seq=%d: %v\n", index, seq, err)
			continue
		}
		published++
		fmt.Printf("record %d seq=%d: published valid=%.3f masked=%d range=[%d,%d]\n",
			index, st.Seq, st.Stats.ValidFraction(), st.MaskedPixels, st.MinReliable, st.MaxReliable)
	}

	fmt.Printf("summary: frames=%d published=%d dropped=%d malformed=%d\n", frames, published, dropped, malformed)

	if *snapshotDir != "" {
		st := synchronizer.Latest()
		if st == nil {
			logger.Fatal().Msg("no tick was published, nothing to snapshot")
		}
		snap, err := output.WriteSnapshot(*snapshotDir, st)
		if err != nil {
			logger.Fatal().Err(err).Msg("write snapshot")
		}
		fmt.Printf("snapshot: seq=%d color=%s depth=%s\n", snap.Seq, snap.ColorPath, snap.DepthPath)
	}
}
