package scopeplot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LoadOptions controls how a capture file is read.
type LoadOptions struct {
	// Split rows on commas or runs of whitespace instead of strict CSV.
	Relaxed bool

	// Log every header row with its fields. Header rows are logged at Info
	// so they show up at the default logger level.
	Debug bool

	// Defaults to the package logger tagged WaveformLoader.
	Logger logrus.FieldLogger
}

func (o LoadOptions) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}

	return logrus.WithField("tag", "WaveformLoader")
}

func (o LoadOptions) newStringReader(r io.Reader) StringReader {
	if o.Relaxed {
		return NewRelaxedStringReader(r)
	}

	return NewCsvStringReader(r)
}

// WaveformCapture is a parsed oscilloscope capture. It is built once by Load
// or LoadReader and never changes afterwards; accessors hand out copies.
type WaveformCapture struct {
	source         string
	header         [][]string
	times          []float64
	amplitudes     []float64
	duration       float64
	samplePeriod   float64
	filledFieldCnt int
}

// Source identifies the input the capture was read from.
func (c *WaveformCapture) Source() string {
	return c.source
}

// HeaderRowCount is the number of leading rows whose first field is not a
// number.
func (c *WaveformCapture) HeaderRowCount() int {
	return len(c.header)
}

// Header returns the raw header rows.
func (c *WaveformCapture) Header() [][]string {
	header := make([][]string, len(c.header))
	for i, row := range c.header {
		header[i] = slices.Clone(row)
	}

	return header
}

// HeaderFields extracts "key: value" pairs from the header rows, the way
// the acquisition software writes its settings (e.g.
// "sampling rate [Sa/s]: 200000000"). Rows without a colon are skipped.
func (c *WaveformCapture) HeaderFields() map[string]string {
	fields := make(map[string]string)
	for _, row := range c.header {
		line := strings.Join(row, ",")
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}

		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		fields[key] = strings.TrimSpace(value)
	}

	return fields
}

func (c *WaveformCapture) Times() []float64 {
	return slices.Clone(c.times)
}

func (c *WaveformCapture) Amplitudes() []float64 {
	return slices.Clone(c.amplitudes)
}

// Len is the number of data rows.
func (c *WaveformCapture) Len() int {
	return len(c.times)
}

// At returns the time and amplitude of data row i.
func (c *WaveformCapture) At(i int) (float64, float64) {
	return c.times[i], c.amplitudes[i]
}

// Duration is the last time minus the first time.
func (c *WaveformCapture) Duration() float64 {
	return c.duration
}

// SamplePeriod is Duration divided by the number of sample intervals.
func (c *WaveformCapture) SamplePeriod() float64 {
	return c.samplePeriod
}

// SampleFrequency is the reciprocal of SamplePeriod. It is +Inf when all
// rows share the same time.
func (c *WaveformCapture) SampleFrequency() float64 {
	return 1 / c.samplePeriod
}

// FilledFieldCount is the number of data fields that were missing or not
// numeric and were replaced with zero.
func (c *WaveformCapture) FilledFieldCount() int {
	return c.filledFieldCnt
}

type AmplitudeStats struct {
	Min        float64
	Max        float64
	PeakToPeak float64
	Mean       float64
	StdDev     float64
	RMS        float64
}

func (c *WaveformCapture) AmplitudeStats() AmplitudeStats {
	s := AmplitudeStats{
		Min: floats.Min(c.amplitudes),
		Max: floats.Max(c.amplitudes),
	}
	s.PeakToPeak = s.Max - s.Min
	s.Mean, s.StdDev = stat.MeanStdDev(c.amplitudes, nil)
	s.RMS = math.Sqrt(floats.Dot(c.amplitudes, c.amplitudes) / float64(len(c.amplitudes)))

	return s
}

// DetectHeaderLength counts the leading rows of the file at path whose first
// field does not parse as a float. The first numeric row ends the scan.
// A header row that happens to start with a number is taken as data.
func DetectHeaderLength(ctx context.Context, path string, opts LoadOptions) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, &FileAccessError{Path: path, Err: err}
	}
	defer f.Close()

	header, _, err := scanHeader(ctx, path, opts.newStringReader(f), opts)
	if err != nil {
		return 0, err
	}

	return len(header), nil
}

// Load reads the capture at path. The file is closed before Load returns.
func Load(ctx context.Context, path string, opts LoadOptions) (*WaveformCapture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	defer f.Close()

	return LoadReader(ctx, path, f, opts)
}

// LoadReader reads a capture from r in a single pass. source is only used to
// identify the capture.
func LoadReader(ctx context.Context, source string, r io.Reader, opts LoadOptions) (*WaveformCapture, error) {
	logger := opts.logger().WithField("source", source)
	reader := opts.newStringReader(r)

	header, first, err := scanHeader(ctx, source, reader, opts)
	if err != nil {
		return nil, err
	}

	capture := &WaveformCapture{
		source: source,
		header: header,
	}

	rowNum := len(header)
	addRow := func(fields []string) {
		sample, filled := parseSample(fields)
		if filled > 0 {
			logger.WithFields(logrus.Fields{
				"row":    rowNum,
				"fields": fields,
				"filled": filled,
			}).Debug("malformed data field replaced with zero")
			capture.filledFieldCnt += filled
		}

		capture.times = append(capture.times, sample.Time)
		capture.amplitudes = append(capture.amplitudes, sample.Amplitude)
		rowNum++
	}

	addRow(first)

	for {
		fields, err := reader.Read(ctx)
		if err == errIgnoreThisRow {
			logger.WithField("row", rowNum).Warn("skipping unreadable data row")
			rowNum++
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			return nil, wrapReadError(source, err)
		}

		if len(fields) == 0 {
			rowNum++
			continue
		}

		addRow(fields)
	}

	n := len(capture.times)
	if n < 2 {
		return nil, fmt.Errorf("%s: %w (got %d)", source, ErrInsufficientData, n)
	}

	capture.duration = capture.times[n-1] - capture.times[0]
	capture.samplePeriod = capture.duration / float64(n-1)

	logger.WithFields(logrus.Fields{
		"headerRows":   len(header),
		"samples":      n,
		"duration":     capture.duration,
		"samplePeriod": capture.samplePeriod,
		"filledFields": capture.filledFieldCnt,
	}).Debug("capture loaded")

	return capture, nil
}

// scanHeader reads rows until one starts with a number. It returns the header
// rows and the fields of the first data row. Blank lines and rows the reader
// cannot split count as header rows.
func scanHeader(ctx context.Context, source string, reader StringReader, opts LoadOptions) ([][]string, []string, error) {
	logger := opts.logger().WithField("source", source)

	if opts.Debug {
		logger.Info("reading header")
	}

	header := make([][]string, 0)
	for {
		fields, err := reader.Read(ctx)
		if err == errIgnoreThisRow {
			if fields == nil {
				fields = []string{}
			}
		} else if err == io.EOF {
			return nil, nil, fmt.Errorf("%s: %w after %d header rows", source, ErrNoDataFound, len(header))
		} else if err != nil {
			return nil, nil, wrapReadError(source, err)
		} else if isDataRow(fields) {
			return header, fields, nil
		}

		if opts.Debug {
			logger.WithFields(logrus.Fields{
				"row":    len(header),
				"fields": fields,
			}).Info("header row")
		}

		header = append(header, fields)
	}
}

func wrapReadError(source string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &FileAccessError{Path: source, Err: err}
}
