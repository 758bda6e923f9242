package types

// ImagePayload is a flat pixel buffer sent to rendering clients.
type ImagePayload struct {
	Width  int    `cbor:"width" json:"width"`
	Height int    `cbor:"height" json:"height"`
	Stride int    `cbor:"stride" json:"stride"`
	Format string `cbor:"format" json:"format"`
	Pixels []byte `cbor:"pixels" json:"-"`
}

// FrameMessage is the binary websocket message published once per
// broadcast interval.
type FrameMessage struct {
	Type      string       `cbor:"type"`
	Seq       uint64       `cbor:"seq"`
	Timestamp float64      `cbor:"timestamp"`
	Masked    bool         `cbor:"masked"`
	Depth     ImagePayload `cbor:"depth"`
	Color     ImagePayload `cbor:"color"`
}

// StatusSnapshot is the JSON view of the pipeline served on /status.
type StatusSnapshot struct {
	SessionID   string         `json:"session_id"`
	Source      string         `json:"source"`
	Available   bool           `json:"available"`
	MaskEnabled bool           `json:"mask_enabled"`
	LastSeq     uint64         `json:"last_seq"`
	LastFrame   string         `json:"last_frame"`
	DepthStats  map[string]any `json:"depth_stats,omitempty"`
	Metrics     map[string]any `json:"metrics"`
}
