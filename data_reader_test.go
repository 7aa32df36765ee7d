package scopeplot

import (
	"context"
	"errors"
	"io"
	"math"
	"reflect"
	"strings"
	"testing"
)

// errReader simulates an io.Reader that returns an error on Read.
type errReader struct{ err error }

func (e *errReader) Read(p []byte) (int, error) { return 0, e.err }

func readAll(t *testing.T, r StringReader) [][]string {
	t.Helper()

	var rows [][]string
	for {
		row, err := r.Read(context.Background())
		if err == io.EOF {
			return rows
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rows = append(rows, row)
	}
}

func TestCsvStringReader(t *testing.T) {
	t.Run("Read_VaryingFieldCounts", func(t *testing.T) {
		r := NewCsvStringReader(strings.NewReader("a,b\n1,2,3\n4,5,6\n"))
		got := readAll(t, r)
		want := [][]string{{"a", "b"}, {"1", "2", "3"}, {"4", "5", "6"}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("unexpected rows: got %v want %v", got, want)
		}
		if r.lineCount != 3 {
			t.Fatalf("lineCount = %d, want 3", r.lineCount)
		}
	})

	t.Run("Read_BlankLinesAreEmptyRows", func(t *testing.T) {
		r := NewCsvStringReader(strings.NewReader("\n1,2\n\n\r\n3,4\n\n"))
		got := readAll(t, r)
		want := [][]string{{}, {"1", "2"}, {}, {}, {"3", "4"}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("unexpected rows: got %v want %v", got, want)
		}
	})

	t.Run("Read_MultilineQuotedField", func(t *testing.T) {
		r := NewCsvStringReader(strings.NewReader("\"a\nb\",c\n\n1,2\n"))
		got := readAll(t, r)
		want := [][]string{{"a\nb", "c"}, {}, {"1", "2"}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("unexpected rows: got %v want %v", got, want)
		}
	})

	t.Run("Read_LazyQuotes", func(t *testing.T) {
		r := NewCsvStringReader(strings.NewReader("range \"V\",x\n1,2\n"))
		got := readAll(t, r)
		if len(got) != 2 {
			t.Fatalf("expected 2 rows, got %v", got)
		}
	})

	t.Run("Read_EOF", func(t *testing.T) {
		r := NewCsvStringReader(strings.NewReader(""))
		_, err := r.Read(context.Background())
		if err != io.EOF {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	})

	t.Run("Read_UnderlyingError", func(t *testing.T) {
		underlying := errors.New("boom")
		r := NewCsvStringReader(&errReader{err: underlying})
		_, err := r.Read(context.Background())
		if !errors.Is(err, underlying) {
			t.Fatalf("expected underlying error %v, got %v", underlying, err)
		}
	})

	t.Run("Read_Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := NewCsvStringReader(strings.NewReader("1,2\n"))
		_, err := r.Read(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRelaxedStringReader(t *testing.T) {
	t.Run("SpacesTabsAndCommas", func(t *testing.T) {
		r := NewRelaxedStringReader(strings.NewReader("1  \t\t  2    3\n10,20\t30\n"))
		got := readAll(t, r)
		want := [][]string{{"1", "2", "3"}, {"10", "20", "30"}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("unexpected split: got %v want %v", got, want)
		}
	})

	t.Run("BlankLinesAreEmptyRows", func(t *testing.T) {
		r := NewRelaxedStringReader(strings.NewReader("\n   \n1 2\n\t\n"))
		got := readAll(t, r)
		want := [][]string{{}, {}, {"1", "2"}, {}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("unexpected rows: got %v want %v", got, want)
		}
		if r.lineCount != 4 {
			t.Fatalf("lineCount = %d, want 4", r.lineCount)
		}
	})

	t.Run("TrailingWhitespace", func(t *testing.T) {
		r := NewRelaxedStringReader(strings.NewReader("  1.5e-9,2.0 \n"))
		got := readAll(t, r)
		want := [][]string{{"1.5e-9", "2.0"}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("unexpected rows: got %v want %v", got, want)
		}
	})
}

func TestTryParseFloat(t *testing.T) {
	tests := []struct {
		token  string
		want   float64
		wantOK bool
	}{
		{"1", 1, true},
		{" 2.5 ", 2.5, true},
		{"-3e-2", -0.03, true},
		{"+4", 4, true},
		{"1.00000000e-02 ", 0.01, true},
		{"", 0, false},
		{"a", 0, false},
		{"Time", 0, false},
		{"NaN_token", 0, false},
		{"sampling rate [Sa/s]: 200000000", 0, false},
		{"1,2", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, ok := TryParseFloat(tt.token)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("TryParseFloat(%q) = (%v, %v), want (%v, %v)", tt.token, got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if v, ok := TryParseFloat("nan"); !ok || !math.IsNaN(v) {
		t.Fatalf("TryParseFloat(nan) = (%v, %v), want (NaN, true)", v, ok)
	}
	if v, ok := TryParseFloat("-inf"); !ok || !math.IsInf(v, -1) {
		t.Fatalf("TryParseFloat(-inf) = (%v, %v), want (-Inf, true)", v, ok)
	}
}

func TestParseSample(t *testing.T) {
	tests := []struct {
		name       string
		fields     []string
		want       Sample
		wantFilled int
	}{
		{"complete", []string{"1", "2"}, Sample{1, 2}, 0},
		{"extra columns", []string{"1", "2", "x", "4"}, Sample{1, 2}, 0},
		{"bad amplitude", []string{"2", "NaN_token"}, Sample{2, 0}, 1},
		{"missing amplitude", []string{"3"}, Sample{3, 0}, 1},
		{"bad time", []string{"", "4"}, Sample{0, 4}, 1},
		{"empty row", []string{}, Sample{0, 0}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, filled := parseSample(tt.fields)
			if got != tt.want || filled != tt.wantFilled {
				t.Fatalf("parseSample(%v) = (%v, %d), want (%v, %d)", tt.fields, got, filled, tt.want, tt.wantFilled)
			}
		})
	}
}
