// Package dataset loads tabular audit data from CSV and Excel files.
package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Loader implements domain.DatasetProvider for local files.
// The first row of the source is treated as the header.
type Loader struct{}

// NewLoader creates a file-backed dataset loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads a dataset from the given path. The format is chosen by
// file extension: .csv, .xlsx or .xlsm.
func (l *Loader) Load(ctx context.Context, source string) (*domain.Dataset, error) {
	if source == "" {
		return nil, fmt.Errorf("dataset source is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(source))
	switch ext {
	case ".csv":
		return l.loadCSV(source)
	case ".xlsx", ".xlsm":
		return l.loadExcel(source)
	default:
		return nil, fmt.Errorf("unsupported dataset format: %s", ext)
	}
}

func (l *Loader) loadCSV(path string) (*domain.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}

	return buildDataset(path, records)
}

func (l *Loader) loadExcel(path string) (*domain.Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	return buildDataset(path, records)
}

func buildDataset(path string, records [][]string) (*domain.Dataset, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset is empty: %s", path)
	}

	header := records[0]
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	rows := make([]domain.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(domain.Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = coerceCell(record[i])
			} else {
				row[col] = nil
			}
		}
		rows = append(rows, row)
	}

	slog.Debug("dataset loaded",
		"source", path,
		"columns", len(columns),
		"rows", len(rows),
	)

	return domain.NewDataset(columns, rows), nil
}

// coerceCell converts a raw cell string to the closest typed value.
// Empty cells become nil so downstream classification can skip them.
func coerceCell(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	switch strings.ToUpper(s) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}

	return s
}
