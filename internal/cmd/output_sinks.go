package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/novelcondense/novelcondense/internal/output"
)

type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

// openSink opens path for writing, creating parent directories. Empty or
// "-" means stdout.
func openSink(path string) (*outputSink, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "-" {
		return &outputSink{writer: os.Stdout, close: func() error { return nil }, path: "-"}, nil
	}

	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(trimmed)
	if err != nil {
		return nil, err
	}
	return &outputSink{writer: file, close: file.Close, path: trimmed}, nil
}

// addOutputFlags registers --output-format and --out on a listing command.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
}

// renderView writes v using the command's --output-format and --out flags.
func renderView(cmd *cobra.Command, v output.View) error {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(value)
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()
	return output.Render(sink.writer, format, v)
}
