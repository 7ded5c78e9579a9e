// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/grab/internal/capture"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter renders a run summary to an output.
type Reporter interface {
	Write(summary Summary) error
	// Close releases the output. Stdout is never closed.
	Close() error
}

type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("text" or "json") writing to
// outputPath, or stdout when the path is empty or "stdout".
func New(format, outputPath string) (Reporter, error) {
	switch format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "json" {
		return &jsonReporter{w: writer}, nil
	}
	return &textReporter{w: writer}, nil
}

// NewWriter wraps an existing writer. Close is a no-op.
func NewWriter(format string, w io.Writer) (Reporter, error) {
	switch format {
	case "text":
		return &textReporter{w: &nopWriteCloser{w}}, nil
	case "json":
		return &jsonReporter{w: &nopWriteCloser{w}}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

type textReporter struct {
	w io.WriteCloser
}

func (r *textReporter) Write(s Summary) error {
	rule := strings.Repeat("=", 60)
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\n", rule)
	if s.Interrupted {
		fmt.Fprintln(&b, "[summary] Collection interrupted")
	} else {
		fmt.Fprintln(&b, "[summary] Collection complete")
	}
	fmt.Fprintf(&b, "  Target:      %s\n", s.Target)
	fmt.Fprintf(&b, "  Total files: %d\n", s.TotalFiles)
	fmt.Fprintf(&b, "  Total size:  %s\n", capture.FormatBytes(s.TotalBytes))
	fmt.Fprintf(&b, "  Actions:     %d\n", s.Actions)
	if s.FailedFetch > 0 {
		fmt.Fprintf(&b, "  Failed:      %d\n", s.FailedFetch)
	}
	if s.ManifestPath != "" {
		fmt.Fprintf(&b, "  Manifest:    %s\n", s.ManifestPath)
	}

	if len(s.Largest) > 0 {
		fmt.Fprintf(&b, "\n  Top %d largest files:\n", len(s.Largest))
		for i, f := range s.Largest {
			fmt.Fprintf(&b, "    %d. %10s - %s\n", i+1, capture.FormatBytes(f.ByteSize), f.StoragePath)
		}
	}
	fmt.Fprintf(&b, "%s\n", rule)

	if _, err := io.WriteString(r.w, b.String()); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func (r *textReporter) Close() error { return r.w.Close() }

type jsonReporter struct {
	w io.WriteCloser
}

func (r *jsonReporter) Write(s Summary) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

func (r *jsonReporter) Close() error { return r.w.Close() }
