package export

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NDJSONExporter writes one JSON document per line.
type NDJSONExporter struct{}

// NewNDJSONExporter builds an NDJSON exporter.
func NewNDJSONExporter() *NDJSONExporter {
	return &NDJSONExporter{}
}

// Render encodes Records when present, falling back to the flattened Rows.
func (e *NDJSONExporter) Render(data Dataset) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if len(data.Records) > 0 {
		for i, rec := range data.Records {
			if err := enc.Encode(rec); err != nil {
				return nil, fmt.Errorf("encode ndjson record %d: %w", i, err)
			}
		}
		return buf.Bytes(), nil
	}
	for i, row := range data.Rows {
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("encode ndjson row %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
