package output

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"depthview-go/internal/framesync"
)

// Snapshot lists the files written for one frame state.
type Snapshot struct {
	Seq       uint64 `json:"seq"`
	DepthPath string `json:"depth_path"`
	RawPath   string `json:"raw_path"`
	ColorPath string `json:"color_path"`
	MetaPath  string `json:"meta_path"`
}

// WriteSnapshot stores the 8-bit depth view, the 16-bit raw depth, the color
// image and a JSON sidecar for st under outputDir.
func WriteSnapshot(outputDir string, st *framesync.State) (Snapshot, error) {
	if st == nil {
		return Snapshot{}, fmt.Errorf("snapshot: no frame state")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Snapshot{}, err
	}
	base := filepath.Join(outputDir, fmt.Sprintf("%s_frame%06d", Timestamp(), st.Seq))
	return writeSnapshotFiles(base, st)
}

// writeSnapshotFiles writes every file of a snapshot under base. When one
// write fails the files already written are removed.
func writeSnapshotFiles(base string, st *framesync.State) (Snapshot, error) {
	snap := Snapshot{
		Seq:       st.Seq,
		DepthPath: base + "_depth.png",
		RawPath:   base + "_depth16.png",
		ColorPath: base + "_color.png",
		MetaPath:  base + "_meta.json",
	}
	steps := []struct {
		path  string
		write func(string) error
	}{
		{snap.DepthPath, func(p string) error { return writePNG(p, DepthImage(st)) }},
		{snap.RawPath, func(p string) error { return writePNG(p, RawDepthImage(st)) }},
		{snap.ColorPath, func(p string) error { return writePNG(p, ColorImage(st)) }},
		{snap.MetaPath, func(p string) error { return writeMetadata(p, st) }},
	}
	for i, step := range steps {
		if err := step.write(step.path); err != nil {
			for _, done := range steps[:i] {
				_ = os.Remove(done.path)
			}
			return Snapshot{}, err
		}
	}
	return snap, nil
}

// Timestamp formats the current time for output file names.
func Timestamp() string {
	return time.Now().Format("20060102_150405")
}

func DepthImage(st *framesync.State) *image.Gray {
	w, h := st.DepthDesc.Width, st.DepthDesc.Height
	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, st.Intensity)
	return img
}

func RawDepthImage(st *framesync.State) *image.Gray16 {
	w, h := st.DepthDesc.Width, st.DepthDesc.Height
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for i, d := range st.Depth {
		img.SetGray16(i%w, i/w, color.Gray16{Y: d})
	}
	return img
}

// ColorImage converts the BGRA buffer to an opaque RGBA image.
func ColorImage(st *framesync.State) *image.NRGBA {
	w, h := st.ColorDesc.Width, st.ColorDesc.Height
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i+3 < len(st.Color) && i+3 < len(img.Pix); i += 4 {
		img.Pix[i+0] = st.Color[i+2]
		img.Pix[i+1] = st.Color[i+1]
		img.Pix[i+2] = st.Color[i+0]
		img.Pix[i+3] = 0xff
	}
	return img
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func writeMetadata(path string, st *framesync.State) error {
	meta := map[string]any{
		"seq":           st.Seq,
		"timestamp":     st.Timestamp,
		"published_at":  st.PublishedAt.Format(time.RFC3339Nano),
		"depth_width":   st.DepthDesc.Width,
		"depth_height":  st.DepthDesc.Height,
		"color_width":   st.ColorDesc.Width,
		"color_height":  st.ColorDesc.Height,
		"masked":        st.Masked,
		"masked_pixels": st.MaskedPixels,
		"min_reliable":  st.MinReliable,
		"max_reliable":  st.MaxReliable,
		"depth_stats":   st.Stats.Map(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
