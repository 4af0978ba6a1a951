package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// tableLayout describes one CLI table. Rows shorter than Headers are padded.
type tableLayout struct {
	Headers []string
	Aligns  []columnAlignment
	// Footer is printed in the first column under the rows.
	Footer string
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	return tableLayout{Headers: headers, Aligns: aligns}.render(rows)
}

func (l tableLayout) render(rows [][]string) string {
	columns := len(l.Headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(l.row(l.Headers))
	for _, row := range rows {
		tw.AppendRow(l.row(row))
	}
	if l.Footer != "" {
		footer := l.row(nil)
		footer[0] = l.Footer
		tw.AppendFooter(footer)
		tw.Style().Format.Footer = text.FormatDefault
	}

	configs := make([]table.ColumnConfig, columns)
	for i := range configs {
		align := text.AlignLeft
		if i < len(l.Aligns) && l.Aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func (l tableLayout) row(values []string) table.Row {
	row := make(table.Row, len(l.Headers))
	for i := range row {
		row[i] = ""
		if i < len(values) {
			row[i] = values[i]
		}
	}
	return row
}
