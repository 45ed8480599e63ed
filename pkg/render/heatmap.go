package render

import (
	"math"
	"time"

	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// DefaultBinWidth is the heat map frequency bin in MHz
const DefaultBinWidth = 1.0

// maxBins keeps a wide frequency span from allocating huge rows
const maxBins = 100_000

// HeatmapRow is one session's binned spectrum.
// Z holds log10 of the strongest intensity per bin, nil where the bin is empty.
type HeatmapRow struct {
	Session string     `json:"session"`
	Date    time.Time  `json:"date"`
	Z       []*float64 `json:"z"`
}

// Heatmap describes the per-session colour plot
type Heatmap struct {
	Title      string       `json:"title"`
	Subtitle   string       `json:"subtitle"`
	ColorScale string       `json:"colorscale"`
	BinWidth   float64      `json:"bin_width"`
	X          []float64    `json:"x"`
	Rows       []HeatmapRow `json:"rows"`
}

// NewHeatmap bins every session over the shared frequency span.
// A non-positive binWidth uses DefaultBinWidth.
func NewHeatmap(series []spectrum.Series, labels Labels, binWidth float64) *Heatmap {
	if binWidth <= 0 {
		binWidth = DefaultBinWidth
	}
	hm := &Heatmap{
		Title:      Title + " per Session",
		Subtitle:   labels.Subtitle(),
		ColorScale: "Viridis",
	}

	all := spectrum.Flatten(series)
	if len(all) == 0 {
		hm.BinWidth = binWidth
		return hm
	}
	xmin, xmax, _, _, _ := spectrum.Bounds(all)

	bins := int(math.Ceil((xmax - xmin) / binWidth))
	if bins < 1 {
		bins = 1
	}
	if bins > maxBins {
		bins = maxBins
		binWidth = (xmax - xmin) / float64(bins)
	}
	hm.BinWidth = binWidth

	hm.X = make([]float64, bins)
	for i := range hm.X {
		hm.X[i] = xmin + (float64(i)+0.5)*binWidth
	}

	for _, s := range series {
		if s.Len() == 0 {
			continue
		}
		hm.Rows = append(hm.Rows, binRow(s, xmin, binWidth, bins))
	}
	return hm
}

func binRow(s spectrum.Series, xmin, width float64, bins int) HeatmapRow {
	peak := make([]float64, bins)
	filled := make([]bool, bins)
	date := s.Samples[0].Timestamp

	for _, sample := range s.Samples {
		if sample.Timestamp.Before(date) {
			date = sample.Timestamp
		}
		i := int((sample.Frequency - xmin) / width)
		if i >= bins {
			i = bins - 1
		}
		if i < 0 {
			i = 0
		}
		if !filled[i] || sample.Intensity > peak[i] {
			peak[i] = sample.Intensity
			filled[i] = true
		}
	}

	row := HeatmapRow{Session: s.Key, Date: date, Z: make([]*float64, bins)}
	for i := range peak {
		// log10 is undefined for the rest
		if !filled[i] || peak[i] <= 0 {
			continue
		}
		v := math.Log10(peak[i])
		row.Z[i] = &v
	}
	return row
}
