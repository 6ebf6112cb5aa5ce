package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"abstat/domain/experiment"
	"abstat/internal/errors"
)

// FileReader loads experiment records from JSON or CSV files
type FileReader struct {
	filePath string
	fileType string // "json" or "csv"
}

// NewFileReader creates a reader that picks the format from the extension
func NewFileReader(filePath string) (*FileReader, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	var fileType string
	switch ext {
	case ".json":
		fileType = "json"
	case ".csv":
		fileType = "csv"
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported dataset extension %q, want .json or .csv", ext))
	}
	return &FileReader{filePath: filePath, fileType: fileType}, nil
}

// ReadObservations loads all records from the file
func (r *FileReader) ReadObservations(ctx context.Context) ([]experiment.Observation, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.DatasetError(fmt.Sprintf("opening %s", r.filePath), err)
	}
	defer file.Close()

	switch r.fileType {
	case "json":
		return DecodeJSON(file)
	default:
		return DecodeCSV(file)
	}
}

// DecodeJSON reads records from a JSON array of observation objects. Streams
// element by element so large uploads do not need a second full copy.
func DecodeJSON(src io.Reader) ([]experiment.Observation, error) {
	dec := json.NewDecoder(src)
	if _, err := dec.Token(); err != nil {
		return nil, errors.DatasetError("expected a JSON array of observations", err)
	}

	var records []experiment.Observation
	for dec.More() {
		var record experiment.Observation
		if err := dec.Decode(&record); err != nil {
			return nil, errors.DatasetError(fmt.Sprintf("decoding observation %d", len(records)+1), err)
		}
		if record.SubjectID == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("observation %d has no subject_id", len(records)+1))
		}
		records = append(records, record)
	}
	return records, nil
}

// DecodeCSV reads records from headered CSV data
func DecodeCSV(src io.Reader) ([]experiment.Observation, error) {
	reader := csv.NewReader(src)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.DatasetError("reading CSV data", err)
	}
	if len(rows) < 2 {
		return nil, errors.InvalidInput("CSV data must have a header row and at least one data row")
	}

	records, err := ParseRows(rows[0], rows[1:])
	if err != nil {
		return nil, errors.DatasetError("parsing CSV rows", err)
	}
	return records, nil
}
