package processing

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DepthStats summarises the reliable non-zero samples of one depth frame.
type DepthStats struct {
	Valid    int
	Total    int
	MinMM    uint16
	MaxMM    uint16
	MeanMM   float64
	StdDevMM float64
}

func ComputeDepthStats(samples []uint16, minReliable, maxReliable uint16) DepthStats {
	stats := DepthStats{Total: len(samples)}
	values := make([]float64, 0, len(samples))
	minVal := uint16(math.MaxUint16)
	var maxVal uint16
	for _, d := range samples {
		if d == 0 || d < minReliable || d > maxReliable {
			continue
		}
		if d < minVal {
			minVal = d
		}
		if d > maxVal {
			maxVal = d
		}
		values = append(values, float64(d))
	}
	stats.Valid = len(values)
	if stats.Valid == 0 {
		return stats
	}
	stats.MinMM = minVal
	stats.MaxMM = maxVal
	if stats.Valid == 1 {
		stats.MeanMM = values[0]
		return stats
	}
	stats.MeanMM, stats.StdDevMM = stat.MeanStdDev(values, nil)
	return stats
}

func (s DepthStats) ValidFraction() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Valid) / float64(s.Total)
}

func (s DepthStats) Map() map[string]any {
	return map[string]any{
		"valid":          s.Valid,
		"total":          s.Total,
		"valid_fraction": s.ValidFraction(),
		"min_mm":         s.MinMM,
		"max_mm":         s.MaxMM,
		"mean_mm":        s.MeanMM,
		"stddev_mm":      s.StdDevMM,
	}
}
