package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Report is a snapshot of recorded statistics ready for rendering.
type Report struct {
	Title         string
	Samples       []Sample
	Bandwidths    []float64 // latest per-pixel-channel bandwidths, may be empty
	SnapshotFrame int
}

// RollingWindow is the number of frames averaged by the smoothed
// foreground line.
const RollingWindow = 25

// HistogramBins is the bin count of the bandwidth histograms.
const HistogramBins = 40

// Summary holds the headline numbers shown on plots and dashboards.
type Summary struct {
	Frames             int
	SteadyFrames       int
	MeanForeground     float64
	MaxForeground      float64
	MeanFrameDuration  float64 // milliseconds, steady frames only
	BandwidthMean      float64
	BandwidthStdDev    float64
	FinalUpdateCycles  int
	SnapshotFrameIndex int
}

// Summarize computes the report headline numbers.
func (r *Report) Summarize() Summary {
	s := Summary{Frames: len(r.Samples), SnapshotFrameIndex: r.SnapshotFrame}
	var fg, dur []float64
	for _, smp := range r.Samples {
		if smp.Learning {
			continue
		}
		fg = append(fg, smp.ForegroundFraction)
		dur = append(dur, float64(smp.Duration)/1e6)
		if smp.ForegroundFraction > s.MaxForeground {
			s.MaxForeground = smp.ForegroundFraction
		}
		s.FinalUpdateCycles = smp.UpdateCycles
	}
	s.SteadyFrames = len(fg)
	if len(fg) > 0 {
		s.MeanForeground = stat.Mean(fg, nil)
		s.MeanFrameDuration = stat.Mean(dur, nil)
	}
	if len(r.Bandwidths) > 0 {
		s.BandwidthMean, s.BandwidthStdDev = stat.MeanStdDev(r.Bandwidths, nil)
	}
	return s
}

// rollingMean averages each point with up to window-1 predecessors.
func rollingMean(v []float64, window int) []float64 {
	out := make([]float64, len(v))
	sum := 0.0
	for i, x := range v {
		sum += x
		if i >= window {
			sum -= v[i-window]
		}
		n := i + 1
		if n > window {
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out
}

// SavePlots writes foreground.png, frame_time.png and, when bandwidths are
// present, bandwidth_hist.png into dir. It returns the written paths.
func (r *Report) SavePlots(dir string) ([]string, error) {
	if len(r.Samples) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var steady []Sample
	for _, s := range r.Samples {
		if !s.Learning {
			steady = append(steady, s)
		}
	}
	colors := generateColors(2)
	var written []string

	if len(steady) > 0 {
		fgPts := make(plotter.XYs, len(steady))
		durPts := make(plotter.XYs, len(steady))
		fractions := make([]float64, len(steady))
		for i, s := range steady {
			fgPts[i] = plotter.XY{X: float64(s.Index), Y: s.ForegroundFraction}
			durPts[i] = plotter.XY{X: float64(s.Index), Y: float64(s.Duration) / 1e6}
			fractions[i] = s.ForegroundFraction
		}
		smooth := rollingMean(fractions, RollingWindow)
		smoothPts := make(plotter.XYs, len(steady))
		for i, s := range steady {
			smoothPts[i] = plotter.XY{X: float64(s.Index), Y: smooth[i]}
		}

		pFg := plot.New()
		pFg.Title.Text = fmt.Sprintf("%s - Foreground Fraction", r.Title)
		pFg.X.Label.Text = "Frame"
		pFg.Y.Label.Text = "Fraction of pixels"
		pFg.Y.Min = 0
		if err := addLine(pFg, "per frame", fgPts, colors[0]); err != nil {
			return written, err
		}
		if err := addLine(pFg, fmt.Sprintf("rolling mean (%d)", RollingWindow), smoothPts, colors[1]); err != nil {
			return written, err
		}
		configureLegend(pFg)
		path := filepath.Join(dir, "foreground.png")
		if err := pFg.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return written, fmt.Errorf("save foreground plot: %w", err)
		}
		written = append(written, path)

		pDur := plot.New()
		pDur.Title.Text = fmt.Sprintf("%s - Frame Processing Time", r.Title)
		pDur.X.Label.Text = "Frame"
		pDur.Y.Label.Text = "Milliseconds"
		if err := addLine(pDur, "duration", durPts, colors[0]); err != nil {
			return written, err
		}
		path = filepath.Join(dir, "frame_time.png")
		if err := pDur.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return written, fmt.Errorf("save frame time plot: %w", err)
		}
		written = append(written, path)
	}

	if len(r.Bandwidths) > 0 {
		pBw := plot.New()
		pBw.Title.Text = fmt.Sprintf("%s - Kernel Bandwidth (frame %d)", r.Title, r.SnapshotFrame)
		pBw.X.Label.Text = "Bandwidth (intensity levels)"
		pBw.Y.Label.Text = "Pixel channels"
		hist, err := plotter.NewHist(plotter.Values(r.Bandwidths), HistogramBins)
		if err != nil {
			return written, fmt.Errorf("bandwidth histogram: %w", err)
		}
		hist.FillColor = colors[0]
		pBw.Add(hist)
		path := filepath.Join(dir, "bandwidth_hist.png")
		if err := pBw.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
			return written, fmt.Errorf("save bandwidth plot: %w", err)
		}
		written = append(written, path)
	}
	return written, nil
}

func addLine(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func configureLegend(p *plot.Plot) {
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
}

// generateColors creates a palette of n distinct colors.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
