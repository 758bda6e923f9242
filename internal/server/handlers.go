package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"depthview-go/internal/output"
	"depthview-go/internal/pick"
)

// handlePick answers GET /pick?space=color|depth&x=..&y=.. in display
// coordinates.
func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	q := r.URL.Query()
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	if errX != nil || errY != nil {
		writeError(w, http.StatusBadRequest, errors.New("x and y must be numbers"))
		return
	}

	var (
		result any
		err    error
	)
	switch space := q.Get("space"); space {
	case pick.SpaceColor, "":
		var res pick.ColorResult
		res, err = s.pipeline.FromColor(x, y)
		result = pickResponse{Space: pick.SpaceColor, Result: res, Distance: res.Depth.String(), Coordinates: res.DepthCoord.String()}
	case pick.SpaceDepth:
		var res pick.DepthResult
		res, err = s.pipeline.FromDepth(x, y)
		result = pickResponse{Space: pick.SpaceDepth, Result: res, Distance: res.Depth.String(), Coordinates: res.ColorCoord.String()}
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown space %q", space))
		return
	}
	if errors.Is(err, pick.ErrNoFrame) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

type pickResponse struct {
	Space       string `json:"space"`
	Result      any    `json:"result"`
	Distance    string `json:"distance"`
	Coordinates string `json:"coordinates"`
}

// handleMask reports the mask on GET. POST sets it from {"enabled": bool},
// or toggles it when the body is empty.
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(body) == 0 {
			s.pipeline.ToggleMask()
			break
		}
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Enabled == nil {
			writeError(w, http.StatusBadRequest, errors.New(`expected {"enabled": true|false}`))
			return
		}
		s.pipeline.SetMask(*req.Enabled)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"mask": s.pipeline.MaskEnabled()})
}

// handleSnapshot writes the latest state to the output directory.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	st := s.pipeline.Latest()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, pick.ErrNoFrame)
		return
	}
	snap, err := output.WriteSnapshot(s.cfg.OutputDir, st)
	s.metrics.RecordSnapshot(err == nil)
	if err != nil {
		s.logger.Error().Err(err).Uint64("seq", st.Seq).Msg("snapshot failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info().Uint64("seq", st.Seq).Str("color", snap.ColorPath).Msg("snapshot written")
	writeJSONResponse(w, http.StatusOK, snap)
}
