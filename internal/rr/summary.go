package rr

import (
	"math"

	"github.com/banshee-data/cardio.report/internal/physio"
)

// HistogramBins is the default bin count used for RR histograms.
const HistogramBins = 12

// Bin is one histogram bucket, keyed by its centre in seconds.
type Bin struct {
	CenterS float64 `json:"center_s"`
	Count   int     `json:"count"`
}

// Histogram buckets intervals into equal-width bins between the shortest and
// longest interval. A series with no spread yields a single bin.
func Histogram(series physio.RRSeries, bins int) []Bin {
	if series.Len() == 0 || bins <= 0 {
		return nil
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range series.Intervals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < 1e-12 {
		return []Bin{{CenterS: lo, Count: series.Len()}}
	}
	width := (hi - lo) / float64(bins)
	out := make([]Bin, bins)
	for i := range out {
		out[i].CenterS = lo + width*(float64(i)+0.5)
	}
	for _, v := range series.Intervals {
		idx := int(math.Floor((v - lo) / width))
		if idx >= bins {
			idx = bins - 1
		}
		out[idx].Count++
	}
	return out
}

// AverageRR is the mean interval in seconds, or 0 for an empty series.
func AverageRR(series physio.RRSeries) float64 {
	if series.Len() == 0 {
		return 0
	}
	return series.Sum() / float64(series.Len())
}

// HeartRate converts the mean interval into beats per minute, or 0 for an
// empty series.
func HeartRate(series physio.RRSeries) float64 {
	avg := AverageRR(series)
	if avg <= 0 {
		return 0
	}
	return 60 / avg
}
