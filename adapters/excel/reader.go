package excel

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"

	"abstat/adapters/dataset"
	"abstat/domain/experiment"
	"abstat/internal/errors"
)

// DefaultSheet is read when no sheet name is configured
const DefaultSheet = "Sheet1"

// Reader loads experiment records from an Excel workbook
type Reader struct {
	filePath string
	sheet    string
}

// NewReader creates an Excel reader over one sheet of a workbook
func NewReader(filePath, sheet string) *Reader {
	if sheet == "" {
		sheet = DefaultSheet
	}
	return &Reader{filePath: filePath, sheet: sheet}
}

// ReadObservations reads the sheet into observations. The first row must be
// a header row; column resolution follows the same rules as CSV input.
func (r *Reader) ReadObservations(ctx context.Context) ([]experiment.Observation, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.NotFound(fmt.Sprintf("Excel file %s", r.filePath))
	}

	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.DatasetError(fmt.Sprintf("opening %s", r.filePath), err)
	}
	defer f.Close()

	return decodeSheet(f, r.sheet)
}

// DecodeWorkbook reads observations from workbook bytes, for uploads that
// never touch disk.
func DecodeWorkbook(src io.Reader, sheet string) ([]experiment.Observation, error) {
	if sheet == "" {
		sheet = DefaultSheet
	}
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, errors.DatasetError("opening workbook", err)
	}
	defer f.Close()

	return decodeSheet(f, sheet)
}

func decodeSheet(f *excelize.File, sheet string) ([]experiment.Observation, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.DatasetError(fmt.Sprintf("reading sheet %s", sheet), err)
	}
	if len(rows) < 2 {
		return nil, errors.InvalidInput("sheet must have a header row and at least one data row")
	}

	records, err := dataset.ParseRows(rows[0], rows[1:])
	if err != nil {
		return nil, errors.DatasetError(fmt.Sprintf("parsing sheet %s", sheet), err)
	}
	return records, nil
}
