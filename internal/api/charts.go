package api

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/lightswarm/internal/httputil"
	"github.com/banshee-data/lightswarm/internal/sensor"
	"github.com/banshee-data/lightswarm/internal/store"
)

// echartsAssetsPrefix serves the echarts JS from the public CDN.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// seriesByID groups readings per swarm id as (seconds since first, reading)
// points. The returned ids are sorted.
func seriesByID(readings []store.Reading) ([]int, map[int]plotter.XYs) {
	series := make(map[int]plotter.XYs)
	if len(readings) == 0 {
		return nil, series
	}
	start := readings[0].At
	for _, r := range readings {
		series[r.SwarmID] = append(series[r.SwarmID], plotter.XY{
			X: r.At.Sub(start).Seconds(),
			Y: float64(r.Reading),
		})
	}
	ids := make([]int, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, series
}

func (s *Server) chartReadings(w http.ResponseWriter, r *http.Request) ([]store.Reading, bool) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return nil, false
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	readings, err := s.history.Readings(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return nil, false
	}
	return readings, true
}

// readingsChart renders the leader readings of the current history as an
// interactive scatter chart, one series per swarm id.
func (s *Server) readingsChart(w http.ResponseWriter, r *http.Request) {
	readings, ok := s.chartReadings(w, r)
	if !ok {
		return
	}
	ids, series := seriesByID(readings)

	st := s.col.Status()
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Light swarm", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Leader readings", Subtitle: fmt.Sprintf("session=%s readings=%d", st.Session, len(readings))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "seconds", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "reading", Min: 0, Max: sensor.MaxReading}),
	)
	for _, id := range ids {
		data := make([]opts.ScatterData, 0, len(series[id]))
		for _, p := range series[id] {
			data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
		}
		scatter.AddSeries(fmt.Sprintf("node %d", id), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// readingsPNG renders the same data as a static PNG.
func (s *Server) readingsPNG(w http.ResponseWriter, r *http.Request) {
	readings, ok := s.chartReadings(w, r)
	if !ok {
		return
	}
	ids, series := seriesByID(readings)

	p := plot.New()
	p.Title.Text = "Leader readings"
	p.X.Label.Text = "seconds"
	p.Y.Label.Text = "reading"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, sensor.MaxReading
	p.Add(plotter.NewGrid())

	for i, id := range ids {
		sc, err := plotter.NewScatter(series[id])
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build series: %v", err))
			return
		}
		sc.GlyphStyle.Color = plotutil.Color(i)
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("node %d", id), sc)
	}

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
