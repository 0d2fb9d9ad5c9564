package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Extension is the file extension used when writing format to a file.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// View is a tabular rendering of a value. Data is what JSON output encodes;
// the rows are for humans.
type View struct {
	Title  string
	Header table.Row
	Rows   []table.Row
	Footer table.Row
	Empty  string
	Data   any
}

// Render writes v to w in format.
func Render(w io.Writer, format Format, v View) error {
	var (
		rendered string
		err      error
	)
	switch format {
	case FormatJSON:
		rendered, err = renderJSON(v.Data, true)
	case FormatMarkdown:
		rendered = renderTable(v, true)
	default:
		rendered = renderTable(v, false)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, rendered)
	return err
}
