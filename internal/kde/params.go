package kde

import (
	"fmt"

	"github.com/banshee-data/bgsub/internal/monitoring"
)

// Default values for Params. They match config/tuning.defaults.json.
const (
	DefaultSampleSize       = 50
	DefaultTimeWindowSize   = 100
	DefaultThreshold        = 1e-8
	DefaultColorAlpha       = 0.3
	DefaultColorBeta        = 1.0
	DefaultColorBetaU       = 100.0
	DefaultKernelHalfWidth  = 255
	DefaultMinBandwidth     = 0.5
	DefaultMaxBandwidth     = 36.5
	DefaultBandwidthBins    = 80
	DefaultBandwidth        = 1.0
	DefaultHistogramBins    = 32
	DefaultHistogramWidth   = 1
	DefaultMedianCorrection = 1.04
	DefaultResetMaskTh      = 100
)

// Params configures a Model. Use DefaultParams and override fields.
type Params struct {
	SampleSize     int // reservoir depth per pixel, e.g. 50
	TimeWindowSize int // frames covered by the reservoir, e.g. 100
	FramesToLearn  int // frames ingested before estimation; 0 means SampleSize

	EstimateBandwidth bool // per-pixel bandwidths from the difference histogram
	UseColorRatios    bool // brightness/chromaticity space for 3-channel frames

	Threshold  float64 // density at or below which a pixel is foreground, e.g. 1e-8
	ColorAlpha float64 // brightness ratio window, e.g. 0.3
	ColorBeta  float64 // lower brightness offset slack
	ColorBetaU float64 // upper brightness offset cap

	KernelHalfWidth int     // kernel support is [-KernelHalfWidth, KernelHalfWidth]
	MinBandwidth    float64 // e.g. 0.5
	MaxBandwidth    float64 // e.g. 36.5
	BandwidthBins   int     // e.g. 80
	// DefaultBandwidth is assigned to every pixel when EstimateBandwidth is
	// false.
	DefaultBandwidth float64

	HistogramBins     int     // last bin absorbs larger differences, e.g. 32
	HistogramBinWidth int     // intensity units per bin, e.g. 1
	MedianCorrection  float64 // discretisation bias correction, e.g. 1.04

	UpdateEnabled bool
	// ResetMaskTh is the number of consecutive foreground frames after which
	// a pixel is treated as background for reservoir updates. 0 disables it.
	ResetMaskTh int
	// BandwidthRefreshInterval re-runs the median over the maintained
	// histogram every N update cycles. 0 disables it.
	BandwidthRefreshInterval int
	// HistogramRebuildInterval recounts every histogram from the reservoir
	// every N update cycles. 0 disables it.
	HistogramRebuildInterval int

	// ExhaustiveDensity sums every reservoir sample instead of stopping once
	// the threshold is exceeded. The decision is identical; only the
	// reported density differs.
	ExhaustiveDensity bool

	// Workers bounds the row partitions used by Classify and Update.
	// 0 means runtime.GOMAXPROCS(0).
	Workers int
	// MaxModelBytes caps the memory the model may allocate. 0 is unlimited.
	MaxModelBytes int64

	Logger monitoring.Logger
}

// DefaultParams returns the standard configuration.
func DefaultParams() Params {
	return Params{
		SampleSize:        DefaultSampleSize,
		TimeWindowSize:    DefaultTimeWindowSize,
		EstimateBandwidth: true,
		UseColorRatios:    true,
		Threshold:         DefaultThreshold,
		ColorAlpha:        DefaultColorAlpha,
		ColorBeta:         DefaultColorBeta,
		ColorBetaU:        DefaultColorBetaU,
		KernelHalfWidth:   DefaultKernelHalfWidth,
		MinBandwidth:      DefaultMinBandwidth,
		MaxBandwidth:      DefaultMaxBandwidth,
		BandwidthBins:     DefaultBandwidthBins,
		DefaultBandwidth:  DefaultBandwidth,
		HistogramBins:     DefaultHistogramBins,
		HistogramBinWidth: DefaultHistogramWidth,
		MedianCorrection:  DefaultMedianCorrection,
		UpdateEnabled:     true,
		ResetMaskTh:       DefaultResetMaskTh,
	}
}

// framesToLearn resolves the FramesToLearn default.
func (p Params) framesToLearn() int {
	if p.FramesToLearn == 0 {
		return p.SampleSize
	}
	return p.FramesToLearn
}

// UpdateRate is the temporal buffer length and the number of frames between
// reservoir replacement cycles: max(2, TimeWindowSize/SampleSize).
func (p Params) UpdateRate() int {
	if p.SampleSize <= 0 {
		return 2
	}
	r := p.TimeWindowSize / p.SampleSize
	if r < 2 {
		return 2
	}
	return r
}

// Validate checks every field and returns an error wrapping ErrInvalidConfig
// for the first problem found.
func (p Params) Validate() error {
	switch {
	case p.SampleSize < 2:
		return fmt.Errorf("%w: sample_size must be at least 2, got %d", ErrInvalidConfig, p.SampleSize)
	case p.SampleSize > 65535:
		return fmt.Errorf("%w: sample_size must be at most 65535, got %d", ErrInvalidConfig, p.SampleSize)
	case p.TimeWindowSize <= 0:
		return fmt.Errorf("%w: time_window_size must be positive, got %d", ErrInvalidConfig, p.TimeWindowSize)
	case p.FramesToLearn < 0:
		return fmt.Errorf("%w: frames_to_learn must be non-negative, got %d", ErrInvalidConfig, p.FramesToLearn)
	case p.framesToLearn() < p.SampleSize:
		return fmt.Errorf("%w: frames_to_learn (%d) must be at least sample_size (%d)", ErrInvalidConfig, p.framesToLearn(), p.SampleSize)
	}
	if err := validateThresholds(p.Threshold, p.ColorAlpha); err != nil {
		return err
	}
	switch {
	case p.ColorBeta < 0:
		return fmt.Errorf("%w: color_beta must be non-negative, got %g", ErrInvalidConfig, p.ColorBeta)
	case p.ColorBetaU < 0:
		return fmt.Errorf("%w: color_beta_u must be non-negative, got %g", ErrInvalidConfig, p.ColorBetaU)
	case p.KernelHalfWidth <= 0 || p.KernelHalfWidth > 255:
		return fmt.Errorf("%w: kernel_half_width must be in [1,255], got %d", ErrInvalidConfig, p.KernelHalfWidth)
	case p.MinBandwidth <= 0:
		return fmt.Errorf("%w: min_bandwidth must be positive, got %g", ErrInvalidConfig, p.MinBandwidth)
	case p.MaxBandwidth <= p.MinBandwidth:
		return fmt.Errorf("%w: max_bandwidth (%g) must exceed min_bandwidth (%g)", ErrInvalidConfig, p.MaxBandwidth, p.MinBandwidth)
	case p.BandwidthBins <= 0 || p.BandwidthBins > 255:
		return fmt.Errorf("%w: bandwidth_bins must be in [1,255], got %d", ErrInvalidConfig, p.BandwidthBins)
	case p.DefaultBandwidth <= 0:
		return fmt.Errorf("%w: default_bandwidth must be positive, got %g", ErrInvalidConfig, p.DefaultBandwidth)
	case p.HistogramBins < 2:
		return fmt.Errorf("%w: histogram_bins must be at least 2, got %d", ErrInvalidConfig, p.HistogramBins)
	case p.HistogramBinWidth <= 0:
		return fmt.Errorf("%w: histogram_bin_width must be positive, got %d", ErrInvalidConfig, p.HistogramBinWidth)
	case p.MedianCorrection <= 0:
		return fmt.Errorf("%w: median_correction must be positive, got %g", ErrInvalidConfig, p.MedianCorrection)
	case p.ResetMaskTh < 0:
		return fmt.Errorf("%w: reset_mask_th must be non-negative, got %d", ErrInvalidConfig, p.ResetMaskTh)
	case p.BandwidthRefreshInterval < 0:
		return fmt.Errorf("%w: bandwidth_refresh_interval must be non-negative, got %d", ErrInvalidConfig, p.BandwidthRefreshInterval)
	case p.HistogramRebuildInterval < 0:
		return fmt.Errorf("%w: histogram_rebuild_interval must be non-negative, got %d", ErrInvalidConfig, p.HistogramRebuildInterval)
	case p.Workers < 0:
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidConfig, p.Workers)
	case p.MaxModelBytes < 0:
		return fmt.Errorf("%w: max_model_bytes must be non-negative, got %d", ErrInvalidConfig, p.MaxModelBytes)
	}
	return nil
}

func validateThresholds(th, alpha float64) error {
	if !(th > 0) {
		return fmt.Errorf("%w: threshold must be positive, got %g", ErrInvalidConfig, th)
	}
	if !(alpha > 0) || alpha > 1 {
		return fmt.Errorf("%w: color_alpha must be in (0,1], got %g", ErrInvalidConfig, alpha)
	}
	return nil
}
