package scopeplot

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/colornames"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotOptions describes how a capture is drawn. Unit scales are applied to
// the plotted points only.
type PlotOptions struct {
	// Defaults to DisplayName.
	Title string

	// Name used for the title and legend. Defaults to the capture source.
	DisplayName string

	XLabel string
	YLabel string

	// One-letter code (k, r, g, b, c, m, y, w), a CSS colour name or #rrggbb.
	// Defaults to black.
	TraceColor string

	// In points. Defaults to 1.
	LineWidth float64

	// Multipliers for time and amplitude, e.g. 1e6 for microseconds and 1e3
	// for millivolts. Zero means 1.
	TimeUnitScale      float64
	AmplitudeUnitScale float64

	Grid bool

	// Fixed Y tick positions. When nil, gonum picks the ticks.
	GridTicks *TickGrid

	// Defaults to 16x10 cm.
	Width  vg.Length
	Height vg.Length
}

func DefaultPlotOptions() PlotOptions {
	return PlotOptions{
		XLabel:             "Time [s]",
		YLabel:             "Voltage [V]",
		TraceColor:         "k",
		LineWidth:          1,
		TimeUnitScale:      1,
		AmplitudeUnitScale: 1,
		Grid:               true,
		Width:              16 * vg.Centimeter,
		Height:             10 * vg.Centimeter,
	}
}

func (o PlotOptions) withDefaults(capture *WaveformCapture) PlotOptions {
	if o.DisplayName == "" {
		o.DisplayName = capture.Source()
	}
	if o.Title == "" {
		o.Title = o.DisplayName
	}
	if o.TraceColor == "" {
		o.TraceColor = "k"
	}
	if o.LineWidth <= 0 {
		o.LineWidth = 1
	}
	if o.TimeUnitScale == 0 {
		o.TimeUnitScale = 1
	}
	if o.AmplitudeUnitScale == 0 {
		o.AmplitudeUnitScale = 1
	}
	if o.Width <= 0 {
		o.Width = 16 * vg.Centimeter
	}
	if o.Height <= 0 {
		o.Height = 10 * vg.Centimeter
	}
	return o
}

// TickGrid places Count evenly spaced Y ticks from Min to Max inclusive, like
// numpy.linspace. Only every LabelEvery-th tick is labelled; zero picks a
// spacing that gives about ten labels.
type TickGrid struct {
	Min        float64
	Max        float64
	Count      int
	LabelEvery int
}

// Ticks implements plot.Ticker.
func (g TickGrid) Ticks(min, max float64) []plot.Tick {
	if g.Count < 2 {
		return plot.DefaultTicks{}.Ticks(min, max)
	}

	labelEvery := g.LabelEvery
	if labelEvery <= 0 {
		labelEvery = Max(1, g.Count/10)
	}

	values := floats.Span(make([]float64, g.Count), g.Min, g.Max)

	ticks := make([]plot.Tick, 0, len(values))
	for i, v := range values {
		if v < min || v > max {
			continue
		}

		tick := plot.Tick{Value: v}
		if i%labelEvery == 0 || i == len(values)-1 {
			tick.Label = strconv.FormatFloat(v, 'g', 4, 64)
		}
		ticks = append(ticks, tick)
	}

	return ticks
}

var shortColors = map[string]color.Color{
	"b": color.RGBA{R: 0, G: 0, B: 255, A: 255},
	"g": color.RGBA{R: 0, G: 128, B: 0, A: 255},
	"r": color.RGBA{R: 255, G: 0, B: 0, A: 255},
	"c": color.RGBA{R: 0, G: 191, B: 191, A: 255},
	"m": color.RGBA{R: 191, G: 0, B: 191, A: 255},
	"y": color.RGBA{R: 191, G: 191, B: 0, A: 255},
	"k": color.Black,
	"w": color.White,
}

// ParseColor understands one-letter codes, CSS colour names and #rrggbb.
func ParseColor(value string) (color.Color, error) {
	value = strings.ToLower(strings.TrimSpace(value))

	if c, ok := shortColors[value]; ok {
		return c, nil
	}

	if c, ok := colornames.Map[value]; ok {
		return c, nil
	}

	if strings.HasPrefix(value, "#") && len(value) == 7 {
		v, err := strconv.ParseUint(value[1:], 16, 32)
		if err == nil {
			return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
		}
	}

	return nil, fmt.Errorf("unknown color %q", value)
}

// NewPlot draws the capture as a single line series. Samples with a NaN or
// infinite coordinate leave a gap in the trace.
func NewPlot(capture *WaveformCapture, opts PlotOptions) (*plot.Plot, error) {
	opts = opts.withDefaults(capture)

	lines, skipped, err := newTrace(capture, opts)
	if err != nil {
		return nil, err
	}

	if skipped > 0 {
		logrus.WithFields(logrus.Fields{
			"tag":     "Plotter",
			"source":  capture.Source(),
			"skipped": skipped,
		}).Warn("non-finite samples left out of the trace")
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = opts.XLabel
	p.Y.Label.Text = opts.YLabel

	if opts.GridTicks != nil {
		p.Y.Tick.Marker = *opts.GridTicks
	}

	if opts.Grid {
		p.Add(newGrid())
	}

	for _, line := range lines {
		p.Add(line)
	}

	if len(lines) > 0 {
		p.Legend.Top = true
		p.Legend.Add(opts.DisplayName, lines[0])
	}

	return p, nil
}

// newTrace builds the line series with the unit scales applied. The series
// is split into one line per run of finite points; skipped is the number of
// samples left out.
func newTrace(capture *WaveformCapture, opts PlotOptions) (lines []*plotter.Line, skipped int, err error) {
	traceColor, err := ParseColor(opts.TraceColor)
	if err != nil {
		return nil, 0, err
	}

	xs := Scale(capture.times, opts.TimeUnitScale)
	ys := Scale(capture.amplitudes, opts.AmplitudeUnitScale)

	var segment plotter.XYs
	flush := func() error {
		if len(segment) == 0 {
			return nil
		}

		line, err := plotter.NewLine(segment)
		if err != nil {
			return fmt.Errorf("cannot build line for %s: %w", capture.Source(), err)
		}
		line.Color = traceColor
		line.Width = vg.Points(opts.LineWidth)

		lines = append(lines, line)
		segment = nil
		return nil
	}

	for i := range xs {
		if !isFinite(xs[i]) || !isFinite(ys[i]) {
			skipped++
			if err := flush(); err != nil {
				return nil, 0, err
			}
			continue
		}

		segment = append(segment, plotter.XY{X: xs[i], Y: ys[i]})
	}

	if err := flush(); err != nil {
		return nil, 0, err
	}

	return lines, skipped, nil
}

// Light major gridlines, alpha 0.2.
func newGrid() *plotter.Grid {
	grid := plotter.NewGrid()
	gridColor := color.NRGBA{R: 0, G: 0, B: 0, A: 51}
	grid.Vertical.Color = gridColor
	grid.Horizontal.Color = gridColor
	return grid
}

// SavePlot renders the capture to path. The image format follows the file
// extension (png, svg, pdf, eps, jpg, tif).
func SavePlot(capture *WaveformCapture, opts PlotOptions, path string) error {
	p, err := NewPlot(capture, opts)
	if err != nil {
		return err
	}

	opts = opts.withDefaults(capture)
	if err := p.Save(opts.Width, opts.Height, path); err != nil {
		return fmt.Errorf("cannot save plot to %s: %w", path, err)
	}

	return nil
}

// WritePlot renders the capture to w in the given format.
func WritePlot(w io.Writer, capture *WaveformCapture, opts PlotOptions, format string) error {
	p, err := NewPlot(capture, opts)
	if err != nil {
		return err
	}

	opts = opts.withDefaults(capture)
	writerTo, err := p.WriterTo(opts.Width, opts.Height, format)
	if err != nil {
		return fmt.Errorf("cannot render %s plot: %w", format, err)
	}

	_, err = writerTo.WriteTo(w)
	return err
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
