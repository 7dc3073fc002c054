package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const (
	titleWidth = 40
	logWidth   = 48
)

// column describes one table column. Cells wider than maxWidth are cut and
// end in an ellipsis; zero leaves them alone.
type column struct {
	header   string
	align    text.Align
	maxWidth int
}

func leftCol(header string) column  { return column{header: header, align: text.AlignLeft} }
func rightCol(header string) column { return column{header: header, align: text.AlignRight} }

func (c column) trimTo(width int) column {
	c.maxWidth = width
	return c
}

func renderTable(columns []column, rows [][]string) string {
	tw := newTableWriter(columns, rows)
	if tw == nil {
		return ""
	}
	return tw.Render() + "\n"
}

// renderCountTable renders status/count rows with a total footer.
func renderCountTable(rows [][]string) string {
	tw := newTableWriter([]column{leftCol("Status"), rightCol("Count")}, rows)
	if tw == nil {
		return ""
	}
	total := 0
	for _, row := range rows {
		if len(row) > 1 {
			n, _ := strconv.Atoi(row[1])
			total += n
		}
	}
	tw.AppendFooter(table.Row{"Total", total})
	return tw.Render() + "\n"
}

func newTableWriter(columns []column, rows [][]string) table.Writer {
	if len(columns) == 0 {
		return nil
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, c := range columns {
		header[i] = c.header
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       c.align,
			AlignHeader: text.AlignLeft,
			AlignFooter: c.align,
		}
		if c.maxWidth > 0 {
			configs[i].WidthMax = c.maxWidth
			configs[i].WidthMaxEnforcer = trimCell
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	// Short rows are padded so every line has one cell per column.
	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw
}

func trimCell(cell string, width int) string {
	if width < 2 || text.RuneWidthWithoutEscSequences(cell) <= width {
		return text.Trim(cell, width)
	}
	return text.Trim(cell, width-1) + "…"
}
