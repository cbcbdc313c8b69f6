// Package export renders tabular datasets into downloadable formats.
package export

import (
	"fmt"
	"strings"
)

// Format names a supported export encoding.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
	FormatPDF    Format = "pdf"
)

// ParseFormat normalises user input into a Format. Aliases follow the table/records naming used by clients.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv", "table":
		return FormatCSV, nil
	case "ndjson", "jsonl", "records":
		return FormatNDJSON, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatNDJSON:
		return "application/x-ndjson"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Extension returns the file extension without a dot.
func (f Format) Extension() string {
	return string(f)
}

// Dataset defines tabular export content. Records, when set, hold the typed
// row values used by record-oriented encoders; Rows hold the flattened cells.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
	Records []interface{}
}

// Renderer encodes a dataset.
type Renderer interface {
	Render(data Dataset) ([]byte, error)
}

// RendererFor returns the renderer for a format.
func RendererFor(f Format) Renderer {
	switch f {
	case FormatNDJSON:
		return NewNDJSONExporter()
	case FormatPDF:
		return NewPDFExporter()
	default:
		return NewCSVExporter()
	}
}
