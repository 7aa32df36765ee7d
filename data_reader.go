package scopeplot

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// A capture file is read row by row through a StringReader (strict CSV or
// the relaxed splitter). The loader first scans rows for the header, then
// turns every remaining row into a Sample.

var errIgnoreThisRow = errors.New("ignore this row")

// When Read is called, return an array of strings which are the columns.
// A blank line is returned as an empty row. A row that cannot be split is
// returned as errIgnoreThisRow, together with whatever fields were recovered.
type StringReader interface {
	Read(context.Context) ([]string, error)
}

// Sample is one data row of a capture: column 0 is time, column 1 is
// amplitude.
type Sample struct {
	Time      float64
	Amplitude float64
}

type csvRow struct {
	fields []string
	err    error
}

// This implements a StringReader and reads an io.Reader using the Golang csv
// module. Rows may have different field counts (capture headers usually have
// fewer columns than the data) and stray quotes are tolerated.
//
// encoding/csv drops blank lines, so the reader works them back out from the
// line numbers of consecutive records.
type CsvStringReader struct {
	input     io.Reader
	csvReader *csv.Reader

	lineCount int

	// Last input line consumed by the csv reader.
	lastLine     int
	pendingBlank int
	pending      *csvRow
}

func NewCsvStringReader(input io.Reader) *CsvStringReader {
	csvReader := csv.NewReader(input)
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	return &CsvStringReader{
		input:     input,
		csvReader: csvReader,
		lineCount: 0,
	}
}

func (r *CsvStringReader) Read(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.pendingBlank > 0 {
		r.pendingBlank--
		r.lineCount++
		return []string{}, nil
	}

	if r.pending != nil {
		row := r.pending
		r.pending = nil
		r.lineCount++
		return row.fields, row.err
	}

	line, err := r.csvReader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}

	var startLine, endLine int
	if err != nil {
		var parseErr *csv.ParseError
		if !errors.As(err, &parseErr) {
			logrus.WithFields(logrus.Fields{
				"tag":     "CsvString",
				"lineNum": r.lastLine + 1,
			}).WithError(err).Error("unable to read CSV")
			return nil, err
		}

		logrus.WithFields(logrus.Fields{
			"tag":     "CsvString",
			"line":    line,
			"lineNum": parseErr.StartLine,
		}).WithError(err).Debug("unable to parse CSV, ignoring...")

		if line == nil {
			line = []string{}
		}
		startLine, endLine = parseErr.StartLine, parseErr.Line
		err = errIgnoreThisRow
	} else {
		last := len(line) - 1
		startLine, _ = r.csvReader.FieldPos(0)
		endLine, _ = r.csvReader.FieldPos(last)
		// A quoted field may span lines.
		endLine += strings.Count(line[last], "\n")
	}

	blank := startLine - r.lastLine - 1
	r.lastLine = endLine
	r.lineCount++

	if blank > 0 {
		r.pendingBlank = blank - 1
		r.pending = &csvRow{fields: line, err: err}
		return []string{}, nil
	}

	return line, err
}

// This is a more relaxed reader that can split on spaces or commas. However,
// it does not follow CSV quoting rules.
type RelaxedStringReader struct {
	input   io.Reader
	scanner *bufio.Scanner

	lineCount int
}

func NewRelaxedStringReader(input io.Reader) *RelaxedStringReader {
	return &RelaxedStringReader{
		input:   input,
		scanner: bufio.NewScanner(input),

		lineCount: 0,
	}
}

// Split on either comma or any number of spaces or tabs
var relaxedSplitter = regexp.MustCompile("[ \t]+|,")

func (r *RelaxedStringReader) Read(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			logrus.WithField("tag", "RelaxedString").WithError(err).Error("unable to read line")
			return nil, err
		}
		return nil, io.EOF
	}

	r.lineCount++

	return Filter(relaxedSplitter.Split(strings.TrimSpace(r.scanner.Text()), -1), func(value string) bool {
		return len(value) > 0
	}), nil
}

// TryParseFloat parses token as a float64 after trimming surrounding
// whitespace. ok is false when the token is not a number.
func TryParseFloat(token string) (value float64, ok bool) {
	value, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
	if err != nil {
		return 0, false
	}

	return value, true
}

// isDataRow reports whether the first field of a row is numeric.
func isDataRow(fields []string) bool {
	if len(fields) == 0 {
		return false
	}

	_, ok := TryParseFloat(fields[0])
	return ok
}

// parseSample converts a data row into a Sample. Missing or unparsable
// fields become zero and are reported in the returned count. Columns past
// the amplitude are ignored.
func parseSample(fields []string) (Sample, int) {
	var values [2]float64
	filled := 0

	for i := range values {
		if i >= len(fields) {
			filled++
			continue
		}

		v, ok := TryParseFloat(fields[i])
		if !ok {
			filled++
			continue
		}

		values[i] = v
	}

	return Sample{Time: values[0], Amplitude: values[1]}, filled
}
