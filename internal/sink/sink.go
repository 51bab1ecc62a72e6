// Package sink records extracted interface counters.
package sink

import (
	"context"
	"errors"

	"github.com/nmslite/ifstats/internal/extractor"
	"github.com/nmslite/ifstats/internal/model"
)

var (
	// ErrFatal marks a sink error after which the run must stop.
	ErrFatal = errors.New("fatal sink error")

	ErrWorkbookCorrupt    = errors.New("workbook is unreadable")
	ErrWorkbookUnwritable = errors.New("workbook could not be saved")
	ErrInvalidSheetName   = errors.New("invalid sheet name")
)

// Sink persists or displays the records of one host.
type Sink interface {
	Name() string
	Write(ctx context.Context, key string, schema extractor.Schema, records []model.InterfaceCounterRecord) error
}

// TimestampLayout formats record timestamps in tabular output.
const TimestampLayout = "2006-01-02 15:04:05"
