package monitor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bgsub/internal/httputil"
)

// EchartsAssetsHost is where rendered pages load the echarts scripts from.
var EchartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RenderDashboard writes a self-contained HTML page with the foreground
// line chart, the frame time chart and the bandwidth histogram.
func (r *Report) RenderDashboard(w io.Writer) error {
	sum := r.Summarize()
	page := components.NewPage()
	page.SetAssetsHost(EchartsAssetsHost)
	page.SetPageTitle(r.Title)

	x := make([]string, 0, len(r.Samples))
	fg := make([]opts.LineData, 0, len(r.Samples))
	dur := make([]opts.LineData, 0, len(r.Samples))
	var fractions []float64
	for _, s := range r.Samples {
		if s.Learning {
			continue
		}
		x = append(x, strconv.Itoa(s.Index))
		fg = append(fg, opts.LineData{Value: s.ForegroundFraction})
		dur = append(dur, opts.LineData{Value: float64(s.Duration) / 1e6})
		fractions = append(fractions, s.ForegroundFraction)
	}
	smooth := rollingMean(fractions, RollingWindow)
	smoothData := make([]opts.LineData, len(smooth))
	for i, v := range smooth {
		smoothData[i] = opts.LineData{Value: v}
	}

	fgLine := charts.NewLine()
	fgLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: EchartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Foreground fraction",
			Subtitle: fmt.Sprintf("%d steady frames, mean %.4f, max %.4f", sum.SteadyFrames, sum.MeanForeground, sum.MaxForeground),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Name: "fraction"}),
	)
	fgLine.SetXAxis(x).
		AddSeries("per frame", fg).
		AddSeries(fmt.Sprintf("rolling mean (%d)", RollingWindow), smoothData)

	durLine := charts.NewLine()
	durLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px", AssetsHost: EchartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Frame processing time",
			Subtitle: fmt.Sprintf("mean %.2f ms, %d update cycles", sum.MeanFrameDuration, sum.FinalUpdateCycles),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	durLine.SetXAxis(x).AddSeries("duration", dur)
	page.AddCharts(fgLine, durLine)

	if len(r.Bandwidths) > 0 {
		labels, counts := histogram(r.Bandwidths, HistogramBins)
		bars := make([]opts.BarData, len(counts))
		for i, c := range counts {
			bars[i] = opts.BarData{Value: c}
		}
		bwBar := charts.NewBar()
		bwBar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: EchartsAssetsHost}),
			charts.WithTitleOpts(opts.Title{
				Title:    "Kernel bandwidth",
				Subtitle: fmt.Sprintf("snapshot at frame %d, mean %.3f, sd %.3f", r.SnapshotFrame, sum.BandwidthMean, sum.BandwidthStdDev),
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		bwBar.SetXAxis(labels).AddSeries("pixel channels", bars)
		page.AddCharts(bwBar)
	}

	return page.Render(w)
}

// histogram counts v into n equal-width bins spanning its range and labels
// each bin by its centre. The edges match plotter.NewHist, so the PNG and
// HTML views agree; the maximum lands in the last bin.
func histogram(v []float64, n int) ([]string, []int) {
	x := slices.Clone(v)
	sort.Float64s(x)
	lo, hi := x[0], x[len(x)-1]
	if hi == lo {
		return []string{strconv.FormatFloat(lo, 'f', 2, 64)}, []int{len(x)}
	}
	dividers := floats.Span(make([]float64, n+1), lo, hi)
	dividers[n] = math.Nextafter(hi, math.Inf(1))
	weights := stat.Histogram(nil, dividers, x, nil)

	labels := make([]string, n)
	counts := make([]int, n)
	for i, w := range weights {
		counts[i] = int(w)
		labels[i] = strconv.FormatFloat((dividers[i]+dividers[i+1])/2, 'f', 2, 64)
	}
	return labels, counts
}

// DashboardHandler serves the live dashboard for r.
func (r *Recorder) DashboardHandler(title string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !httputil.RequireMethod(w, req, http.MethodGet) {
			return
		}
		var buf bytes.Buffer
		if err := r.Report(title).RenderDashboard(&buf); err != nil {
			httputil.Error(w, http.StatusInternalServerError, "render error: %v", err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}
