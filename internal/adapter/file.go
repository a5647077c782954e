package adapter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/rat-data/rat/platform/internal/domain"
)

// FileAdapter reads an uploaded CSV or JSON byte stream (spec.md §4.B).
// Grounded on original_source/pipeline/ingestion/adapters/file_adapter.py's
// filename-suffix dispatch, strengthened per spec.md to require the
// declared format to actually match the extension.
type FileAdapter struct {
	cfg domain.FileSourceConfig
}

// NewFileAdapter builds a FileAdapter for cfg.
func NewFileAdapter(cfg domain.FileSourceConfig) *FileAdapter {
	return &FileAdapter{cfg: cfg}
}

func (a *FileAdapter) Fetch(_ context.Context) ([]domain.AdapterRecord, error) {
	ext := extensionOf(a.cfg.DeclaredFilename)
	switch ext {
	case "csv":
		if a.cfg.DeclaredFormat != domain.FileFormatCSV {
			return nil, domain.NewConfigError("declared_format does not match .csv extension")
		}
		return a.fetchCSV()
	case "json":
		if a.cfg.DeclaredFormat != domain.FileFormatJSON {
			return nil, domain.NewConfigError("declared_format does not match .json extension")
		}
		return a.fetchJSON()
	default:
		return nil, domain.NewConfigError("unsupported file extension: " + ext)
	}
}

func extensionOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// fetchCSV parses a CSV with a header row; each subsequent row becomes one
// record keyed by the header columns, in order.
func (a *FileAdapter) fetchCSV() ([]domain.AdapterRecord, error) {
	r := csv.NewReader(bytes.NewReader(a.cfg.UploadBytes))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, domain.NewAdapterError(a.cfg.DeclaredFilename, "failed to read CSV header", err)
	}

	var records []domain.AdapterRecord
	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, domain.NewAdapterError(a.cfg.DeclaredFilename, "failed to read CSV row", err)
		}
		data := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i < len(row) {
				data[col] = row[i]
			} else {
				data[col] = ""
			}
		}
		records = append(records, domain.AdapterRecord{Source: a.cfg.DeclaredFilename, Data: data})
	}
	return records, nil
}

// fetchJSON parses the upload as a single JSON object (one record) or an
// array of objects (one record per element).
func (a *FileAdapter) fetchJSON() ([]domain.AdapterRecord, error) {
	trimmed := bytes.TrimSpace(a.cfg.UploadBytes)
	if len(trimmed) == 0 {
		return nil, domain.NewAdapterError(a.cfg.DeclaredFilename, "empty JSON upload", nil)
	}

	if trimmed[0] == '[' {
		var arr []map[string]interface{}
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, domain.NewAdapterError(a.cfg.DeclaredFilename, "failed to parse JSON array", err)
		}
		records := make([]domain.AdapterRecord, 0, len(arr))
		for _, item := range arr {
			records = append(records, domain.AdapterRecord{Source: a.cfg.DeclaredFilename, Data: item})
		}
		return records, nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, domain.NewAdapterError(a.cfg.DeclaredFilename, "failed to parse JSON object", err)
	}
	return []domain.AdapterRecord{{Source: a.cfg.DeclaredFilename, Data: obj}}, nil
}
