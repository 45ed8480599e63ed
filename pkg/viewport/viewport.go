// Package viewport picks, per request, how much of a series to draw: a
// precomputed view level, a level derived on the fly, or the exact slice.
package viewport

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrInvalidViewport is returned for inverted ranges or a non-positive width
	ErrInvalidViewport = errors.New("invalid viewport")

	// ErrTierUnavailable is returned by a Source when a view level was never built
	ErrTierUnavailable = errors.New("view level not available")

	// ErrStaleRequest is returned when a newer request superseded this one
	ErrStaleRequest = errors.New("superseded by a newer viewport request")
)

// Viewport is the displayed range and the pixel budget for one request
type Viewport struct {
	XMin       float64 `json:"x_min"`
	XMax       float64 `json:"x_max"`
	YMin       float64 `json:"y_min"`
	YMax       float64 `json:"y_max"`
	PixelWidth int     `json:"pixel_width"`
}

// Span returns the visible frequency width
func (v Viewport) Span() float64 {
	return v.XMax - v.XMin
}

// Validate rejects viewports the reducer cannot size
func (v Viewport) Validate() error {
	if math.IsNaN(v.XMin) || math.IsNaN(v.XMax) || math.IsInf(v.XMin, 0) || math.IsInf(v.XMax, 0) {
		return fmt.Errorf("%w: non-finite x range", ErrInvalidViewport)
	}
	if v.XMax < v.XMin {
		return fmt.Errorf("%w: x_max %g is below x_min %g", ErrInvalidViewport, v.XMax, v.XMin)
	}
	if v.PixelWidth <= 0 {
		return fmt.Errorf("%w: pixel width must be positive", ErrInvalidViewport)
	}
	return nil
}

// Extent describes the full series behind a viewport
type Extent struct {
	Total int     `json:"total"`
	XMin  float64 `json:"x_min"`
	XMax  float64 `json:"x_max"`
}

// Full returns the viewport showing the whole extent at width pixels
func (e Extent) Full(width int) Viewport {
	return Viewport{XMin: e.XMin, XMax: e.XMax, PixelWidth: width}
}

// DensityRatio estimates how many samples would land on each pixel.
// A zero-width extent counts every sample as displayed.
func DensityRatio(ext Extent, vp Viewport) float64 {
	if ext.Total == 0 || vp.PixelWidth <= 0 {
		return 0
	}
	displayed := float64(ext.Total)
	if width := ext.XMax - ext.XMin; width > 0 {
		displayed = float64(ext.Total) / width * vp.Span()
	}
	return displayed / float64(vp.PixelWidth)
}

// Selection is what a request is served from
type Selection struct {
	Level int  `json:"level"`
	Exact bool `json:"exact"`
}

// Bands maps density ratios onto view levels
type Bands struct {
	bounds []float64
}

// NewBands validates strictly descending, positive bounds, one per level
func NewBands(bounds []float64) (Bands, error) {
	if len(bounds) == 0 {
		return Bands{}, errors.New("density bands need at least one bound")
	}
	for i, b := range bounds {
		if b <= 0 {
			return Bands{}, fmt.Errorf("density bound %d must be positive", i)
		}
	}
	if !sort.SliceIsSorted(bounds, func(i, j int) bool { return bounds[i] > bounds[j] }) {
		return Bands{}, errors.New("density bounds must be descending")
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] == bounds[i-1] {
			return Bands{}, errors.New("density bounds must be strictly descending")
		}
	}
	return Bands{bounds: append([]float64(nil), bounds...)}, nil
}

// Levels returns the number of view levels the bands address
func (b Bands) Levels() int {
	return len(b.bounds)
}

// Select returns the coarsest level whose bound the ratio reaches.
// A ratio equal to a bound takes that (coarser) level; below the last
// bound the exact slice is served.
func (b Bands) Select(ratio float64) Selection {
	for level, bound := range b.bounds {
		if ratio >= bound {
			return Selection{Level: level}
		}
	}
	return Selection{Level: -1, Exact: true}
}
