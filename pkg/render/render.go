// Package render builds chart descriptors from reduced spectra.
// It does not draw anything; clients turn the descriptors into figures.
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
)

const (
	// Title heads every line plot
	Title = "RFI Environment at Green Bank Observatory"

	// AverageTrace names the cross-session mean line
	AverageTrace = "Average"

	averageColor = "black"
	dateLayout   = "2006-01-02"
)

// Axis is one plot axis
type Axis struct {
	Title string  `json:"title"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Trace is one drawn line
type Trace struct {
	Name  string    `json:"name"`
	Color string    `json:"color,omitempty"`
	X     []float64 `json:"x"`
	Y     []float64 `json:"y"`
}

// LinePlot describes a frequency vs intensity chart
type LinePlot struct {
	Title    string  `json:"title"`
	Subtitle string  `json:"subtitle"`
	XAxis    Axis    `json:"xaxis"`
	YAxis    Axis    `json:"yaxis"`
	Traces   []Trace `json:"traces"`
	Points   int     `json:"points"`
}

// Labels holds the subtitle parts shared by the line plot and heat map
type Labels struct {
	Dates       string `json:"dates"`
	Receivers   string `json:"receivers"`
	Frequencies string `json:"frequencies"`
}

// Subtitle joins the labels the way the chart header shows them
func (l Labels) Subtitle() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Dates, l.Receivers} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if l.Frequencies != "" {
		parts = append(parts, l.Frequencies+" MHz")
	}
	return strings.Join(parts, "    ")
}

// NewLabels derives the labels from the plotted samples
func NewLabels(samples []spectrum.Sample, receivers []string, policy *config.Policy) Labels {
	var l Labels
	if len(samples) == 0 {
		return l
	}

	start, end := samples[0].Timestamp, samples[0].Timestamp
	for _, s := range samples[1:] {
		if s.Timestamp.Before(start) {
			start = s.Timestamp
		}
		if s.Timestamp.After(end) {
			end = s.Timestamp
		}
	}
	l.Dates = DateRange(start, end)

	xmin, xmax, _, _, _ := spectrum.Bounds(samples)
	l.Frequencies = FrequencyRange(xmin, xmax)
	l.Receivers = ReceiverLabels(receivers, policy)
	return l
}

// DateRange formats a time span as dates, a single date when both fall on
// the same instant
func DateRange(start, end time.Time) string {
	if start.Equal(end) {
		return start.UTC().Format(dateLayout)
	}
	return start.UTC().Format(dateLayout) + " - " + end.UTC().Format(dateLayout)
}

// FrequencyRange formats a frequency span with two decimals
func FrequencyRange(lo, hi float64) string {
	return fmt.Sprintf("%.2f-%.2f", lo, hi)
}

// ReceiverLabels returns the band labels of receivers, aliases collapsed
func ReceiverLabels(receivers []string, policy *config.Policy) string {
	seen := make(map[string]bool)
	var labels []string
	for _, name := range receivers {
		label := name
		if policy != nil {
			label = policy.Label(name)
		}
		if seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return strings.Join(labels, ", ")
}

// Line builds the plot descriptor: the average trace first, then one trace
// per session in name order
func Line(series []spectrum.Series, labels Labels) *LinePlot {
	plot := &LinePlot{
		Title:    Title,
		Subtitle: labels.Subtitle(),
		XAxis:    Axis{Title: "Frequency (MHz)"},
		YAxis:    Axis{Title: "Intensity (Jy)"},
	}

	all := spectrum.Flatten(series)
	if len(all) == 0 {
		return plot
	}
	xmin, xmax, ymin, ymax, _ := spectrum.Bounds(all)
	plot.XAxis.Min, plot.XAxis.Max = xmin, xmax
	plot.YAxis.Min, plot.YAxis.Max = ymin, ymax
	plot.Points = len(all)

	plot.Traces = append(plot.Traces, Average(all))
	for _, s := range series {
		if s.Len() == 0 {
			continue
		}
		plot.Traces = append(plot.Traces, Trace{
			Name: s.Key,
			X:    spectrum.Frequencies(s.Samples),
			Y:    spectrum.Intensities(s.Samples),
		})
	}
	return plot
}

// Average returns the mean intensity at each frequency across sessions
func Average(samples []spectrum.Sample) Trace {
	byFreq := make(map[float64][]float64)
	for _, s := range samples {
		byFreq[s.Frequency] = append(byFreq[s.Frequency], s.Intensity)
	}

	freqs := make([]float64, 0, len(byFreq))
	for f := range byFreq {
		freqs = append(freqs, f)
	}
	sort.Float64s(freqs)

	trace := Trace{
		Name:  AverageTrace,
		Color: averageColor,
		X:     freqs,
		Y:     make([]float64, len(freqs)),
	}
	for i, f := range freqs {
		trace.Y[i] = stat.Mean(byFreq[f], nil)
	}
	return trace
}
