// Package config loads tuning parameters for the background model and the
// processing pipeline from JSON or YAML.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/bgsub/internal/kde"
	"github.com/banshee-data/bgsub/internal/pipeline"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; the Get* methods fall back to the kde package
// defaults for anything not set.
type TuningConfig struct {
	// Reservoir and learning
	SampleSize     *int `json:"sample_size,omitempty" yaml:"sample_size,omitempty"`
	TimeWindowSize *int `json:"time_window_size,omitempty" yaml:"time_window_size,omitempty"`
	FramesToLearn  *int `json:"frames_to_learn,omitempty" yaml:"frames_to_learn,omitempty"`

	// Classifier
	EstimateBandwidth *bool    `json:"estimate_bandwidth,omitempty" yaml:"estimate_bandwidth,omitempty"`
	UseColorRatios    *bool    `json:"use_color_ratios,omitempty" yaml:"use_color_ratios,omitempty"`
	Threshold         *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	ColorAlpha        *float64 `json:"color_alpha,omitempty" yaml:"color_alpha,omitempty"`
	ColorBeta         *float64 `json:"color_beta,omitempty" yaml:"color_beta,omitempty"`
	ColorBetaU        *float64 `json:"color_beta_u,omitempty" yaml:"color_beta_u,omitempty"`
	ExhaustiveDensity *bool    `json:"exhaustive_density,omitempty" yaml:"exhaustive_density,omitempty"`

	// Kernel table and bandwidth estimation
	KernelHalfWidth   *int     `json:"kernel_half_width,omitempty" yaml:"kernel_half_width,omitempty"`
	MinBandwidth      *float64 `json:"min_bandwidth,omitempty" yaml:"min_bandwidth,omitempty"`
	MaxBandwidth      *float64 `json:"max_bandwidth,omitempty" yaml:"max_bandwidth,omitempty"`
	BandwidthBins     *int     `json:"bandwidth_bins,omitempty" yaml:"bandwidth_bins,omitempty"`
	DefaultBandwidth  *float64 `json:"default_bandwidth,omitempty" yaml:"default_bandwidth,omitempty"`
	HistogramBins     *int     `json:"histogram_bins,omitempty" yaml:"histogram_bins,omitempty"`
	HistogramBinWidth *int     `json:"histogram_bin_width,omitempty" yaml:"histogram_bin_width,omitempty"`
	MedianCorrection  *float64 `json:"median_correction,omitempty" yaml:"median_correction,omitempty"`

	// Update policy
	UpdateEnabled            *bool `json:"update_enabled,omitempty" yaml:"update_enabled,omitempty"`
	ResetMaskTh              *int  `json:"reset_mask_th,omitempty" yaml:"reset_mask_th,omitempty"`
	BandwidthRefreshInterval *int  `json:"bandwidth_refresh_interval,omitempty" yaml:"bandwidth_refresh_interval,omitempty"`
	HistogramRebuildInterval *int  `json:"histogram_rebuild_interval,omitempty" yaml:"histogram_rebuild_interval,omitempty"`

	// Resources
	Workers       *int   `json:"workers,omitempty" yaml:"workers,omitempty"`
	MaxModelBytes *int64 `json:"max_model_bytes,omitempty" yaml:"max_model_bytes,omitempty"`

	// Pipeline
	Morphology          *string  `json:"morphology,omitempty" yaml:"morphology,omitempty"` // none, expand-shrink or hysteresis
	HysteresisThreshold *float64 `json:"hysteresis_threshold,omitempty" yaml:"hysteresis_threshold,omitempty"`
	SnapshotEvery       *int     `json:"snapshot_every,omitempty" yaml:"snapshot_every,omitempty"`
	ProgressInterval    *string  `json:"progress_interval,omitempty" yaml:"progress_interval,omitempty"` // duration string like "10s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON or YAML file.
// The file is validated to ensure it has a .json, .yaml or .yml extension
// and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/kde-report/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Range checks
// for model parameters are delegated to kde.Params.Validate so the two can
// never disagree.
func (c *TuningConfig) Validate() error {
	if c.Morphology != nil {
		if _, err := pipeline.ParseMorphMode(*c.Morphology); err != nil {
			return err
		}
	}

	if c.ProgressInterval != nil && *c.ProgressInterval != "" {
		if _, err := time.ParseDuration(*c.ProgressInterval); err != nil {
			return fmt.Errorf("invalid progress_interval '%s': %w", *c.ProgressInterval, err)
		}
	}

	if c.HysteresisThreshold != nil && *c.HysteresisThreshold <= 0 {
		return fmt.Errorf("hysteresis_threshold must be positive, got %g", *c.HysteresisThreshold)
	}

	if c.SnapshotEvery != nil && *c.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot_every must be non-negative, got %d", *c.SnapshotEvery)
	}

	return c.KDEParams().Validate()
}

// KDEParams converts the configuration to model parameters. Logger is left
// nil for the caller to set.
func (c *TuningConfig) KDEParams() kde.Params {
	return kde.Params{
		SampleSize:               c.GetSampleSize(),
		TimeWindowSize:           c.GetTimeWindowSize(),
		FramesToLearn:            c.GetFramesToLearn(),
		EstimateBandwidth:        c.GetEstimateBandwidth(),
		UseColorRatios:           c.GetUseColorRatios(),
		Threshold:                c.GetThreshold(),
		ColorAlpha:               c.GetColorAlpha(),
		ColorBeta:                c.GetColorBeta(),
		ColorBetaU:               c.GetColorBetaU(),
		KernelHalfWidth:          c.GetKernelHalfWidth(),
		MinBandwidth:             c.GetMinBandwidth(),
		MaxBandwidth:             c.GetMaxBandwidth(),
		BandwidthBins:            c.GetBandwidthBins(),
		DefaultBandwidth:         c.GetDefaultBandwidth(),
		HistogramBins:            c.GetHistogramBins(),
		HistogramBinWidth:        c.GetHistogramBinWidth(),
		MedianCorrection:         c.GetMedianCorrection(),
		UpdateEnabled:            c.GetUpdateEnabled(),
		ResetMaskTh:              c.GetResetMaskTh(),
		BandwidthRefreshInterval: c.GetBandwidthRefreshInterval(),
		HistogramRebuildInterval: c.GetHistogramRebuildInterval(),
		ExhaustiveDensity:        c.GetExhaustiveDensity(),
		Workers:                  c.GetWorkers(),
		MaxModelBytes:            c.GetMaxModelBytes(),
	}
}

// PipelineOptions converts the pipeline section. Clock and Logger are left
// for the caller.
func (c *TuningConfig) PipelineOptions() pipeline.Options {
	mode, err := pipeline.ParseMorphMode(c.GetMorphology())
	if err != nil {
		mode = pipeline.MorphNone
	}
	return pipeline.Options{
		Morph:               mode,
		HysteresisThreshold: c.GetHysteresisThreshold(),
		SnapshotEvery:       c.GetSnapshotEvery(),
	}
}

// GetSampleSize returns the sample_size value or the default.
func (c *TuningConfig) GetSampleSize() int {
	if c.SampleSize == nil {
		return kde.DefaultSampleSize
	}
	return *c.SampleSize
}

// GetTimeWindowSize returns the time_window_size value or the default.
func (c *TuningConfig) GetTimeWindowSize() int {
	if c.TimeWindowSize == nil {
		return kde.DefaultTimeWindowSize
	}
	return *c.TimeWindowSize
}

// GetFramesToLearn returns the frames_to_learn value, 0 meaning sample_size.
func (c *TuningConfig) GetFramesToLearn() int {
	if c.FramesToLearn == nil {
		return 0
	}
	return *c.FramesToLearn
}

// GetEstimateBandwidth returns the estimate_bandwidth value or the default.
func (c *TuningConfig) GetEstimateBandwidth() bool {
	if c.EstimateBandwidth == nil {
		return true
	}
	return *c.EstimateBandwidth
}

// GetUseColorRatios returns the use_color_ratios value or the default.
func (c *TuningConfig) GetUseColorRatios() bool {
	if c.UseColorRatios == nil {
		return true
	}
	return *c.UseColorRatios
}

// GetThreshold returns the threshold value or the default.
func (c *TuningConfig) GetThreshold() float64 {
	if c.Threshold == nil {
		return kde.DefaultThreshold
	}
	return *c.Threshold
}

// GetColorAlpha returns the color_alpha value or the default.
func (c *TuningConfig) GetColorAlpha() float64 {
	if c.ColorAlpha == nil {
		return kde.DefaultColorAlpha
	}
	return *c.ColorAlpha
}

// GetColorBeta returns the color_beta value or the default.
func (c *TuningConfig) GetColorBeta() float64 {
	if c.ColorBeta == nil {
		return kde.DefaultColorBeta
	}
	return *c.ColorBeta
}

// GetColorBetaU returns the color_beta_u value or the default.
func (c *TuningConfig) GetColorBetaU() float64 {
	if c.ColorBetaU == nil {
		return kde.DefaultColorBetaU
	}
	return *c.ColorBetaU
}

// GetExhaustiveDensity returns the exhaustive_density value or the default.
func (c *TuningConfig) GetExhaustiveDensity() bool {
	if c.ExhaustiveDensity == nil {
		return false
	}
	return *c.ExhaustiveDensity
}

// GetKernelHalfWidth returns the kernel_half_width value or the default.
func (c *TuningConfig) GetKernelHalfWidth() int {
	if c.KernelHalfWidth == nil {
		return kde.DefaultKernelHalfWidth
	}
	return *c.KernelHalfWidth
}

// GetMinBandwidth returns the min_bandwidth value or the default.
func (c *TuningConfig) GetMinBandwidth() float64 {
	if c.MinBandwidth == nil {
		return kde.DefaultMinBandwidth
	}
	return *c.MinBandwidth
}

// GetMaxBandwidth returns the max_bandwidth value or the default.
func (c *TuningConfig) GetMaxBandwidth() float64 {
	if c.MaxBandwidth == nil {
		return kde.DefaultMaxBandwidth
	}
	return *c.MaxBandwidth
}

// GetBandwidthBins returns the bandwidth_bins value or the default.
func (c *TuningConfig) GetBandwidthBins() int {
	if c.BandwidthBins == nil {
		return kde.DefaultBandwidthBins
	}
	return *c.BandwidthBins
}

// GetDefaultBandwidth returns the default_bandwidth value or the default.
func (c *TuningConfig) GetDefaultBandwidth() float64 {
	if c.DefaultBandwidth == nil {
		return kde.DefaultBandwidth
	}
	return *c.DefaultBandwidth
}

// GetHistogramBins returns the histogram_bins value or the default.
func (c *TuningConfig) GetHistogramBins() int {
	if c.HistogramBins == nil {
		return kde.DefaultHistogramBins
	}
	return *c.HistogramBins
}

// GetHistogramBinWidth returns the histogram_bin_width value or the default.
func (c *TuningConfig) GetHistogramBinWidth() int {
	if c.HistogramBinWidth == nil {
		return kde.DefaultHistogramWidth
	}
	return *c.HistogramBinWidth
}

// GetMedianCorrection returns the median_correction value or the default.
func (c *TuningConfig) GetMedianCorrection() float64 {
	if c.MedianCorrection == nil {
		return kde.DefaultMedianCorrection
	}
	return *c.MedianCorrection
}

// GetUpdateEnabled returns the update_enabled value or the default.
func (c *TuningConfig) GetUpdateEnabled() bool {
	if c.UpdateEnabled == nil {
		return true
	}
	return *c.UpdateEnabled
}

// GetResetMaskTh returns the reset_mask_th value or the default.
func (c *TuningConfig) GetResetMaskTh() int {
	if c.ResetMaskTh == nil {
		return kde.DefaultResetMaskTh
	}
	return *c.ResetMaskTh
}

// GetBandwidthRefreshInterval returns the bandwidth_refresh_interval value or the default.
func (c *TuningConfig) GetBandwidthRefreshInterval() int {
	if c.BandwidthRefreshInterval == nil {
		return 0 // disabled
	}
	return *c.BandwidthRefreshInterval
}

// GetHistogramRebuildInterval returns the histogram_rebuild_interval value or the default.
func (c *TuningConfig) GetHistogramRebuildInterval() int {
	if c.HistogramRebuildInterval == nil {
		return 0 // disabled
	}
	return *c.HistogramRebuildInterval
}

// GetWorkers returns the workers value or the default.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0 // GOMAXPROCS
	}
	return *c.Workers
}

// GetMaxModelBytes returns the max_model_bytes value or the default.
func (c *TuningConfig) GetMaxModelBytes() int64 {
	if c.MaxModelBytes == nil {
		return 0 // unlimited
	}
	return *c.MaxModelBytes
}

// GetMorphology returns the morphology value or the default.
func (c *TuningConfig) GetMorphology() string {
	if c.Morphology == nil {
		return string(pipeline.MorphNone)
	}
	return *c.Morphology
}

// GetHysteresisThreshold returns the hysteresis_threshold value or the default.
func (c *TuningConfig) GetHysteresisThreshold() float64 {
	if c.HysteresisThreshold == nil {
		return pipeline.DefaultHysteresisThreshold
	}
	return *c.HysteresisThreshold
}

// GetSnapshotEvery returns the snapshot_every value or the default.
func (c *TuningConfig) GetSnapshotEvery() int {
	if c.SnapshotEvery == nil {
		return 0
	}
	return *c.SnapshotEvery
}

// GetProgressInterval parses and returns the ProgressInterval as a time.Duration.
func (c *TuningConfig) GetProgressInterval() time.Duration {
	if c.ProgressInterval == nil || *c.ProgressInterval == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.ProgressInterval)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}
