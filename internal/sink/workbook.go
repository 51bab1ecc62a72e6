package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/nmslite/ifstats/internal/extractor"
	"github.com/nmslite/ifstats/internal/model"
)

const (
	maxSheetNameLength = 31
	invalidSheetChars  = `:\/?*[]`
	defaultSheet       = "Sheet1"
)

// Workbook appends one row per interface to a tab named by the host key.
// The file is opened, updated and saved on every write; concurrent writers of
// the same file are not detected.
type Workbook struct {
	path   string
	logger *slog.Logger
}

func NewWorkbook(path string, logger *slog.Logger) *Workbook {
	return &Workbook{
		path:   path,
		logger: logger.With("component", "workbook", "path", path),
	}
}

func (w *Workbook) Name() string { return "workbook" }

// Write appends records below the existing rows of the key's tab. The header
// is written only when the tab is created.
func (w *Workbook) Write(_ context.Context, key string, schema extractor.Schema, records []model.InterfaceCounterRecord) error {
	if err := ValidateSheetName(key); err != nil {
		return err
	}

	f, created, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	header := schema.Header()
	sheet, next, err := w.prepareSheet(f, key, header)
	if err != nil {
		return err
	}

	if created && sheet != defaultSheet {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return fmt.Errorf("failed to remove default sheet: %w", err)
		}
	}

	for _, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, next)
		if err != nil {
			return err
		}
		row := rowValues(r)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", next, sheet, err)
		}
		next++
	}

	last, err := excelize.CoordinatesToCellName(len(header), max(next-1, 1))
	if err != nil {
		return err
	}
	if err := f.AutoFilter(sheet, "A1:"+last, nil); err != nil {
		w.logger.Warn("Failed to set auto filter", "sheet", sheet, "error", err)
	}

	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWorkbookUnwritable, w.path, err)
	}

	w.logger.Debug("Rows appended", "sheet", sheet, "rows", len(records), "created", created)
	return nil
}

// open loads the workbook, creating an empty one when the file is absent. A
// file that cannot be read for lack of permission is unwritable, not corrupt.
func (w *Workbook) open() (*excelize.File, bool, error) {
	f, err := excelize.OpenFile(w.path)
	if err == nil {
		return f, false, nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return excelize.NewFile(), true, nil
	case errors.Is(err, fs.ErrPermission):
		return nil, false, fmt.Errorf("%w: %s: %v", ErrWorkbookUnwritable, w.path, err)
	default:
		return nil, false, fmt.Errorf("%w: %w: %s: %v", ErrFatal, ErrWorkbookCorrupt, w.path, err)
	}
}

// prepareSheet ensures the tab exists and returns its name and the first free
// row. Sheet names compare case-insensitively, so a key differing from an
// existing tab only by case shares that tab.
func (w *Workbook) prepareSheet(f *excelize.File, key string, header []string) (string, int, error) {
	idx, err := f.GetSheetIndex(key)
	if err != nil {
		return "", 0, fmt.Errorf("failed to look up sheet %s: %w", key, err)
	}

	sheet := key
	if idx != -1 {
		sheet = f.GetSheetName(idx)
		if sheet != key {
			w.logger.Warn("Host key shares a tab that differs only by case", "host", key, "sheet", sheet)
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", 0, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if len(rows) > 0 {
			return sheet, len(rows) + 1, nil
		}
	} else {
		idx, err = f.NewSheet(sheet)
		if err != nil {
			return "", 0, fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
		f.SetActiveSheet(idx)
	}

	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return "", 0, fmt.Errorf("failed to write header of %s: %w", sheet, err)
	}
	return sheet, 2, nil
}

// rowValues renders a record as timestamp, interface and counter cells.
// Integer counters are stored as numbers; sentinels stay text.
func rowValues(r model.InterfaceCounterRecord) []interface{} {
	row := make([]interface{}, 0, len(r.Counters)+2)
	row = append(row, r.Timestamp.Format(TimestampLayout), r.Interface)
	for _, v := range r.Values() {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			row = append(row, n)
			continue
		}
		row = append(row, v)
	}
	return row
}

// ValidateSheetName reports whether name can be used as a worksheet name.
func ValidateSheetName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidSheetName)
	case utf8.RuneCountInString(name) > maxSheetNameLength:
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidSheetName, name, maxSheetNameLength)
	case strings.ContainsAny(name, invalidSheetChars):
		return fmt.Errorf("%w: %q contains one of %s", ErrInvalidSheetName, name, invalidSheetChars)
	case strings.HasPrefix(name, "'") || strings.HasSuffix(name, "'"):
		return fmt.Errorf("%w: %q starts or ends with an apostrophe", ErrInvalidSheetName, name)
	}
	return nil
}
