package server

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"depthview-go/internal/framesync"
	"depthview-go/internal/types"
)

const (
	FormatGray8 = "gray8"
	FormatBGRA8 = "bgra8"
)

// EncodeFrame renders st as a binary CBOR frame message. The color image is
// subsampled by colorStep in both directions.
func EncodeFrame(st *framesync.State, colorStep int) ([]byte, error) {
	if colorStep < 1 {
		colorStep = 1
	}
	color, cw, ch := subsampleBGRA(st.Color, st.ColorDesc.Width, st.ColorDesc.Height, colorStep)
	msg := types.FrameMessage{
		Type:      "frame",
		Seq:       st.Seq,
		Timestamp: st.Timestamp,
		Masked:    st.Masked,
		Depth: types.ImagePayload{
			Width:  st.DepthDesc.Width,
			Height: st.DepthDesc.Height,
			Stride: st.DepthDesc.Width,
			Format: FormatGray8,
			Pixels: st.Intensity,
		},
		Color: types.ImagePayload{
			Width:  cw,
			Height: ch,
			Stride: cw * types.ColorBytesPerPixel,
			Format: FormatBGRA8,
			Pixels: color,
		},
	}
	return cbor.Marshal(msg)
}

func subsampleBGRA(pixels []byte, width, height, step int) ([]byte, int, int) {
	if step == 1 {
		return pixels, width, height
	}
	w := (width + step - 1) / step
	h := (height + step - 1) / step
	out := make([]byte, w*h*types.ColorBytesPerPixel)
	i := 0
	for y := 0; y < height; y += step {
		row := y * width
		for x := 0; x < width; x += step {
			src := (row + x) * types.ColorBytesPerPixel
			copy(out[i:i+types.ColorBytesPerPixel], pixels[src:src+types.ColorBytesPerPixel])
			i += types.ColorBytesPerPixel
		}
	}
	return out, w, h
}

// broadcast pushes the newest state to every client at most UIRate times
// per second. States published in between are skipped.
func (s *Server) broadcast(ctx context.Context) {
	rate := s.cfg.UIRate
	if rate <= 0 {
		rate = 15
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	var pending *framesync.State
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-s.pipeline.Updates():
			pending = st
		case <-ticker.C:
			if pending == nil || s.clientCount() == 0 {
				continue
			}
			payload, err := EncodeFrame(pending, s.cfg.StreamColorStep)
			pending = nil
			if err != nil {
				s.logger.Error().Err(err).Msg("encode frame message")
				continue
			}
			s.send(payload)
		}
	}
}

func (s *Server) send(payload []byte) {
	var stale []*websocket.Conn
	s.mu.Lock()
	for conn, writeMu := range s.clients {
		if err := s.writeMessage(conn, writeMu, websocket.BinaryMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	s.mu.Unlock()
	for _, conn := range stale {
		s.removeClient(conn)
	}
	s.metrics.RecordBroadcast()
}
