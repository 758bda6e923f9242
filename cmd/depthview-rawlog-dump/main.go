package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"depthview-go/internal/logging"
	"depthview-go/internal/output"
)

func main() {
	var (
		path  = flag.String("path", "", "Path to rawlog .bin file")
		limit = flag.Int("limit", 1, "Number of records to dump (0 = all)")
	)
	flag.Parse()

	logger, err := logging.New("depthview-rawlog-dump", "info", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthview-rawlog-dump: %v\n", err)
		os.Exit(2)
	}
	if *path == "" {
		logger.Fatal().Msg("path is required")
	}

	rawlog, err := output.OpenRawLog(*path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open rawlog")
	}
	defer rawlog.Close()

	for count := 0; *limit <= 0 || count < *limit; count++ {
		record, err := rawlog.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("read record")
		}
		if len(record.Payload) == 0 {
			logger.Warn().Int("record", count).Msg("empty payload")
			continue
		}

		var decoded any
		if err := cbor.Unmarshal(record.Payload, &decoded); err != nil {
			logger.Warn().Err(err).Int("record", count).Msg("CBOR decode error")
			continue
		}
		pretty, err := json.MarshalIndent(output.NormalizeJSONValue(decoded), "", "  ")
		if err != nil {
			logger.Warn().Err(err).Int("record", count).Msg("JSON encode error")
			continue
		}

		logger.Info().
			Int("record", count).
			Str("timestamp", record.Time.Format(time.RFC3339Nano)).
			Int("size", len(record.Payload)).
			Msg("record")
		fmt.Println(string(pretty))
	}
}
