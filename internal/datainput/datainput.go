// Package datainput parses uploaded CSV files and manually entered rows into datasets.
package datainput

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rewired-gh/forecastlens/internal/models"
)

const (
	MsgNotCSV     = "Please upload a CSV file"
	MsgNoNumeric  = "No numeric data found in CSV"
	MsgEmptyEntry = "Please enter data"
	MsgNonNumeric = "Data contains non-numeric values"
)

// CheckFilename rejects uploads whose name does not end in .csv.
func CheckFilename(name string) error {
	if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		return models.NewValidationError(MsgNotCSV)
	}
	return nil
}

// ParseCSV reads comma-separated rows. Leading rows are skipped until the first
// row whose every field is numeric; after that, rows with any non-numeric field
// are dropped.
func ParseCSV(r io.Reader) (models.Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	var data models.Dataset
	started := false
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}

		row, ok := parseRow(record)
		if !ok {
			continue
		}
		started = true
		data = append(data, row)
	}

	if !started {
		return nil, models.NewValidationError(MsgNoNumeric)
	}
	return data, nil
}

// ParseManual parses one comma-separated row per line. A single non-numeric
// value rejects the whole entry.
func ParseManual(text string) (models.Dataset, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.NewValidationError(MsgEmptyEntry)
	}

	var data models.Dataset
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, ok := parseRow(strings.Split(line, ","))
		if !ok {
			return nil, models.NewValidationError(MsgNonNumeric)
		}
		data = append(data, row)
	}
	return data, nil
}

func parseRow(fields []string) (models.DataPoint, bool) {
	row := make(models.DataPoint, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		row = append(row, v)
	}
	return row, len(row) > 0
}
