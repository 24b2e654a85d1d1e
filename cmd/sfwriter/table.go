package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// reportColumn is one column of a control-plane report. Numeric columns are
// right-aligned so counters line up.
type reportColumn struct {
	name    string
	numeric bool
}

// reportTable renders a titled control-plane reply such as the statistics or
// the parameter listing. Short rows are padded with empty cells.
type reportTable struct {
	title   string
	caption string
	columns []reportColumn
	rows    [][]string
}

func newReportTable(title string, columns ...reportColumn) *reportTable {
	return &reportTable{title: title, columns: columns}
}

func (r *reportTable) add(cells ...string) {
	r.rows = append(r.rows, cells)
}

func (r *reportTable) render() string {
	if len(r.columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if r.title != "" {
		tw.SetTitle(r.title)
	}
	if r.caption != "" {
		tw.SetCaption(r.caption)
	}

	header := make(table.Row, len(r.columns))
	configs := make([]table.ColumnConfig, len(r.columns))
	for i, col := range r.columns {
		header[i] = col.name
		align := text.AlignLeft
		if col.numeric {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, cells := range r.rows {
		row := make(table.Row, len(r.columns))
		for i := range row {
			row[i] = ""
			if i < len(cells) {
				row[i] = cells[i]
			}
		}
		tw.AppendRow(row)
	}
	return tw.Render()
}
