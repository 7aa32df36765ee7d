package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"

	"github.com/cactusdynamics/scopeplot"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot/vg"
)

type GlobalOptions struct {
	Debug   bool `short:"d" long:"debug" description:"Print header rows and other diagnostics"`
	Relaxed bool `long:"relaxed" description:"Split rows on commas or whitespace instead of strict CSV"`
}

type SourceArg struct {
	Source string `positional-arg-name:"SOURCE" required:"yes" description:"Oscilloscope CSV capture"`
}

type PlotFlags struct {
	Name           string  `short:"n" long:"name" description:"Display name (defaults to the source path)"`
	Color          string  `short:"c" long:"color" default:"k" description:"Trace color: one-letter code, color name or #rrggbb"`
	Title          string  `short:"t" long:"title" description:"Chart title (defaults to the display name)"`
	XLabel         string  `long:"xlabel" default:"Time [s]" description:"X axis label"`
	YLabel         string  `long:"ylabel" default:"Voltage [V]" description:"Y axis label"`
	TimeScale      float64 `long:"time-scale" default:"1" description:"Multiplier applied to times when drawing, e.g. 1e6 for microseconds"`
	AmplitudeScale float64 `long:"amplitude-scale" default:"1" description:"Multiplier applied to amplitudes when drawing, e.g. 1e3 for millivolts"`
	NoGrid         bool    `long:"no-grid" description:"Do not draw gridlines"`
	YTicks         string  `long:"y-ticks" value-name:"MIN:MAX:COUNT" description:"Evenly spaced Y ticks, e.g. --y-ticks=-0.4:0.3998046875:4096"`
	LineWidth      float64 `long:"line-width" default:"1" description:"Trace width in points"`
	Width          float64 `long:"width" default:"16" description:"Figure width in cm"`
	Height         float64 `long:"height" default:"10" description:"Figure height in cm"`
}

func (f PlotFlags) plotOptions() (scopeplot.PlotOptions, error) {
	opts := scopeplot.PlotOptions{
		Title:              f.Title,
		DisplayName:        f.Name,
		XLabel:             f.XLabel,
		YLabel:             f.YLabel,
		TraceColor:         f.Color,
		LineWidth:          f.LineWidth,
		TimeUnitScale:      f.TimeScale,
		AmplitudeUnitScale: f.AmplitudeScale,
		Grid:               !f.NoGrid,
		Width:              vg.Length(f.Width) * vg.Centimeter,
		Height:             vg.Length(f.Height) * vg.Centimeter,
	}

	if _, err := scopeplot.ParseColor(f.Color); err != nil {
		return opts, err
	}

	if f.YTicks != "" {
		grid, err := parseTickGrid(f.YTicks)
		if err != nil {
			return opts, err
		}
		opts.GridTicks = &grid
	}

	return opts, nil
}

func parseTickGrid(value string) (scopeplot.TickGrid, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return scopeplot.TickGrid{}, fmt.Errorf("invalid --y-ticks %q: want MIN:MAX:COUNT", value)
	}

	min, okMin := scopeplot.TryParseFloat(parts[0])
	max, okMax := scopeplot.TryParseFloat(parts[1])
	count, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if !okMin || !okMax || err != nil || count < 2 || min >= max {
		return scopeplot.TickGrid{}, fmt.Errorf("invalid --y-ticks %q: want MIN:MAX:COUNT with MIN < MAX and COUNT >= 2", value)
	}

	return scopeplot.TickGrid{Min: min, Max: max, Count: count}, nil
}

// cli holds state shared by the commands.
type cli struct {
	global GlobalOptions
	out    io.Writer
}

func (c *cli) loadOptions() scopeplot.LoadOptions {
	return scopeplot.LoadOptions{
		Relaxed: c.global.Relaxed,
		Debug:   c.global.Debug,
	}
}

type HeaderCommand struct {
	Args SourceArg `positional-args:"yes"`

	cli *cli
}

func (cmd *HeaderCommand) Execute(args []string) error {
	n, err := scopeplot.DetectHeaderLength(context.Background(), cmd.Args.Source, cmd.cli.loadOptions())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.cli.out, n)
	return nil
}

type InfoCommand struct {
	Args SourceArg `positional-args:"yes"`

	cli *cli
}

func (cmd *InfoCommand) Execute(args []string) error {
	capture, err := scopeplot.Load(context.Background(), cmd.Args.Source, cmd.cli.loadOptions())
	if err != nil {
		return err
	}

	out := cmd.cli.out
	stats := capture.AmplitudeStats()

	fmt.Fprintf(out, "source:            %s\n", capture.Source())
	fmt.Fprintf(out, "header rows:       %d\n", capture.HeaderRowCount())
	fmt.Fprintf(out, "samples:           %d\n", capture.Len())
	fmt.Fprintf(out, "duration:          %g s\n", capture.Duration())
	fmt.Fprintf(out, "sample period:     %g s\n", capture.SamplePeriod())
	fmt.Fprintf(out, "sample frequency:  %g Hz\n", capture.SampleFrequency())
	fmt.Fprintf(out, "filled fields:     %d\n", capture.FilledFieldCount())
	fmt.Fprintf(out, "amplitude min/max: %g / %g\n", stats.Min, stats.Max)
	fmt.Fprintf(out, "amplitude mean:    %g\n", stats.Mean)
	fmt.Fprintf(out, "amplitude std:     %g\n", stats.StdDev)
	fmt.Fprintf(out, "amplitude rms:     %g\n", stats.RMS)

	fields := capture.HeaderFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(out, "header %s: %s\n", k, fields[k])
	}

	return nil
}

type PlotCommand struct {
	PlotFlags
	Output string `short:"o" long:"output" default:"waveform.png" description:"Output file; the extension selects the format (png, svg, pdf, ...)"`
	Args   SourceArg `positional-args:"yes"`

	cli *cli
}

func (cmd *PlotCommand) Execute(args []string) error {
	opts, err := cmd.plotOptions()
	if err != nil {
		return err
	}

	capture, err := scopeplot.Load(context.Background(), cmd.Args.Source, cmd.cli.loadOptions())
	if err != nil {
		return err
	}

	if err := scopeplot.SavePlot(capture, opts, cmd.Output); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"source":  capture.Source(),
		"samples": capture.Len(),
		"output":  cmd.Output,
	}).Info("plot saved")
	return nil
}

type ServeCommand struct {
	PlotFlags
	Host        string `long:"host" default:"127.0.0.1" description:"Address to listen on"`
	Port        uint16 `short:"p" long:"port" default:"5274" description:"Port to listen on"`
	OpenBrowser bool   `long:"open" description:"Open the chart in a browser"`
	Args        SourceArg `positional-args:"yes"`

	cli *cli
}

func (cmd *ServeCommand) Execute(args []string) error {
	opts, err := cmd.plotOptions()
	if err != nil {
		return err
	}

	capture, err := scopeplot.Load(context.Background(), cmd.Args.Source, cmd.cli.loadOptions())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	server := scopeplot.NewHttpServer(capture, opts, cmd.Host, cmd.Port)
	server.OpenBrowser = cmd.OpenBrowser
	return server.Run(ctx)
}

func newParser(out io.Writer) (*flags.Parser, *cli) {
	c := &cli{out: out}

	parser := flags.NewParser(&c.global, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "scopeplot"
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		configureLogging(c.global.Debug)
		return command.Execute(args)
	}

	parser.AddCommand("header", "Print the header length",
		"Counts the leading rows whose first field is not a number.",
		&HeaderCommand{cli: c})
	parser.AddCommand("info", "Summarize a capture",
		"Prints sampling metadata, amplitude statistics and the capture header settings.",
		&InfoCommand{cli: c})
	parser.AddCommand("plot", "Render a capture to an image",
		"Draws the capture as a line chart and saves it; the output extension selects the format.",
		&PlotCommand{cli: c})
	parser.AddCommand("serve", "Show a capture in the browser",
		"Serves the chart, the capture metadata and a websocket sample stream.",
		&ServeCommand{cli: c})

	return parser, c
}

func configureLogging(debug bool) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func run(args []string, out io.Writer) int {
	parser, _ := newParser(out)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(out, flagsErr.Message)
			return 0
		}

		logrus.WithError(err).Error("scopeplot failed")
		return 1
	}

	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}
