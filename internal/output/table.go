package output

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func renderTable(v View, markdown bool) string {
	if len(v.Rows) == 0 && v.Empty != "" {
		if markdown {
			return "_" + v.Empty + "_"
		}
		return v.Empty
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	if v.Title != "" {
		t.SetTitle(v.Title)
	}
	t.AppendHeader(v.Header)
	t.AppendRows(v.Rows)
	if len(v.Footer) > 0 {
		t.AppendFooter(v.Footer)
	}
	t.SetColumnConfigs(numericColumns(v))

	if markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

// numericColumns right-aligns columns whose first row holds a number.
func numericColumns(v View) []table.ColumnConfig {
	if len(v.Rows) == 0 {
		return nil
	}
	var configs []table.ColumnConfig
	for i, cell := range v.Rows[0] {
		switch cell.(type) {
		case int, int64, float64:
			configs = append(configs, table.ColumnConfig{
				Number:      i + 1,
				Align:       text.AlignRight,
				AlignFooter: text.AlignRight,
			})
		}
	}
	return configs
}
