package scopeplot

type PlotLabels struct {
	Title              string
	DisplayName        string
	XLabel             string
	YLabel             string
	TraceColor         string
	TimeUnitScale      float64
	AmplitudeUnitScale float64
}

type Metadata struct {
	Source           string
	HeaderRowCount   int
	HeaderFields     map[string]string `json:",omitempty"`
	NumSamples       int
	Duration         float64
	SamplePeriod     float64
	SampleFrequency  float64
	FilledFieldCount int
	Amplitude        AmplitudeStats
	PlotLabels       PlotLabels
}

// NewMetadata summarizes a capture together with the labels it is drawn with.
// JSON cannot carry NaN or Inf, so non-finite numbers are reported as 0.
func NewMetadata(capture *WaveformCapture, opts PlotOptions) Metadata {
	opts = opts.withDefaults(capture)

	stats := capture.AmplitudeStats()
	stats = AmplitudeStats{
		Min:        finite(stats.Min),
		Max:        finite(stats.Max),
		PeakToPeak: finite(stats.PeakToPeak),
		Mean:       finite(stats.Mean),
		StdDev:     finite(stats.StdDev),
		RMS:        finite(stats.RMS),
	}

	headerFields := capture.HeaderFields()
	if len(headerFields) == 0 {
		headerFields = nil
	}

	return Metadata{
		Source:           capture.Source(),
		HeaderRowCount:   capture.HeaderRowCount(),
		HeaderFields:     headerFields,
		NumSamples:       capture.Len(),
		Duration:         finite(capture.Duration()),
		SamplePeriod:     finite(capture.SamplePeriod()),
		SampleFrequency:  finite(capture.SampleFrequency()),
		FilledFieldCount: capture.FilledFieldCount(),
		Amplitude:        stats,
		PlotLabels: PlotLabels{
			Title:              opts.Title,
			DisplayName:        opts.DisplayName,
			XLabel:             opts.XLabel,
			YLabel:             opts.YLabel,
			TraceColor:         opts.TraceColor,
			TimeUnitScale:      opts.TimeUnitScale,
			AmplitudeUnitScale: opts.AmplitudeUnitScale,
		},
	}
}

func finite(v float64) float64 {
	if !isFinite(v) {
		return 0
	}
	return v
}
