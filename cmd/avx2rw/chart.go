package main

import (
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/avx2rw/decode"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// censusChart draws the EVEX opcode counts as a bar chart.
func censusChart(c decode.Census, title string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: c.String(),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 45}}),
	)
	ops := c.Ops()
	data := make([]opts.BarData, 0, len(ops))
	for _, op := range ops {
		data = append(data, opts.BarData{Name: op, Value: c.ByOp[op]})
	}
	bar.SetXAxis(ops).AddSeries("instructions", data)
	return bar
}

func writeChart(path string, c decode.Census, title string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := renderChart(f, c, title); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func renderChart(w io.Writer, c decode.Census, title string) error {
	if err := censusChart(c, title).Render(w); err != nil {
		return fmt.Errorf("chart: %w", err)
	}
	return nil
}
