package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/xuri/excelize/v2"

	"github.com/nmslite/ifstats/internal/extractor"
	"github.com/nmslite/ifstats/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func packetsSchema(t *testing.T) extractor.Schema {
	t.Helper()
	s, err := extractor.SchemaFor(model.VariantPackets)
	if err != nil {
		t.Fatalf("SchemaFor() error = %v", err)
	}
	return s
}

// records builds n records whose counters are all "7" except the last, which
// is missing.
func records(schema extractor.Schema, n int) []model.InterfaceCounterRecord {
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	out := make([]model.InterfaceCounterRecord, n)
	for i := range out {
		counters := make([]model.Counter, len(schema.Fields))
		for j, f := range schema.Fields {
			counters[j] = model.Counter{Name: f.Name, Label: f.Label, Value: "7", Present: true}
		}
		counters[len(counters)-1].Value = model.SentinelNoValue
		counters[len(counters)-1].Present = false
		out[i] = model.InterfaceCounterRecord{
			Interface: "ge-0/0/" + string(rune('0'+i)),
			Timestamp: ts,
			Counters:  counters,
		}
	}
	return out
}

func readRows(t *testing.T, path, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatalf("GetRows(%q) error = %v", sheet, err)
	}
	return rows
}

func TestWorkbook_NewSheetHasHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.xlsx")
	schema := packetsSchema(t)
	wb := NewWorkbook(path, discardLogger())

	if err := wb.Write(context.Background(), "r1.lab", schema, records(schema, 3)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	sheets := f.GetSheetList()
	f.Close()
	if len(sheets) != 1 || sheets[0] != "r1.lab" {
		t.Errorf("sheets = %v, want [r1.lab]", sheets)
	}

	rows := readRows(t, path, "r1.lab")
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if strings.Join(rows[0], "|") != strings.Join(schema.Header(), "|") {
		t.Errorf("header = %v, want %v", rows[0], schema.Header())
	}
	first := rows[1]
	if first[0] != "2024-05-01 09:30:00" || first[1] != "ge-0/0/0" {
		t.Errorf("row prefix = %v", first[:2])
	}
	if first[2] != "7" {
		t.Errorf("first counter = %q, want 7", first[2])
	}
	if last := first[len(first)-1]; last != model.SentinelNoValue {
		t.Errorf("missing counter = %q, want %q", last, model.SentinelNoValue)
	}
}

func TestWorkbook_RerunAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.xlsx")
	schema := packetsSchema(t)
	wb := NewWorkbook(path, discardLogger())

	for range 2 {
		if err := wb.Write(context.Background(), "10.0.0.1", schema, records(schema, 2)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := wb.Write(context.Background(), "r2", schema, records(schema, 1)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	rows := readRows(t, path, "10.0.0.1")
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want header + 4", len(rows))
	}
	for i, row := range rows[1:] {
		if row[0] == "Timestamp" {
			t.Errorf("row %d repeats the header", i+1)
		}
	}
	if got := len(readRows(t, path, "r2")); got != 2 {
		t.Errorf("r2 has %d rows, want 2", got)
	}
}

func TestWorkbook_CorruptFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.xlsx")
	if err := os.WriteFile(path, []byte("definitely not a zip archive"), 0o644); err != nil {
		t.Fatal(err)
	}
	schema := packetsSchema(t)

	err := NewWorkbook(path, discardLogger()).Write(context.Background(), "r1", schema, records(schema, 1))
	if !errors.Is(err, ErrFatal) || !errors.Is(err, ErrWorkbookCorrupt) {
		t.Fatalf("Write() error = %v, want fatal corrupt workbook", err)
	}
}

func TestWorkbook_UnwritablePathIsNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "output.xlsx")
	schema := packetsSchema(t)

	err := NewWorkbook(path, discardLogger()).Write(context.Background(), "r1", schema, records(schema, 1))
	if !errors.Is(err, ErrWorkbookUnwritable) {
		t.Fatalf("Write() error = %v, want ErrWorkbookUnwritable", err)
	}
	if errors.Is(err, ErrFatal) {
		t.Error("unwritable workbook must not be fatal")
	}
}

func TestWorkbook_ReadDeniedIsNotFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	path := filepath.Join(t.TempDir(), "output.xlsx")
	schema := packetsSchema(t)
	wb := NewWorkbook(path, discardLogger())

	if err := wb.Write(context.Background(), "r1", schema, records(schema, 1)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := os.Chmod(path, 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(path, 0o600) })

	err := wb.Write(context.Background(), "r2", schema, records(schema, 1))
	if !errors.Is(err, ErrWorkbookUnwritable) {
		t.Fatalf("Write() error = %v, want ErrWorkbookUnwritable", err)
	}
	if errors.Is(err, ErrFatal) || errors.Is(err, ErrWorkbookCorrupt) {
		t.Errorf("read-denied workbook reported as fatal: %v", err)
	}
}

func TestWorkbook_KeysDifferingByCaseShareTab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.xlsx")
	schema := packetsSchema(t)
	var logs bytes.Buffer
	wb := NewWorkbook(path, slog.New(slog.NewTextHandler(&logs, nil)))

	if err := wb.Write(context.Background(), "R1", schema, records(schema, 2)); err != nil {
		t.Fatalf("Write(R1) error = %v", err)
	}
	if err := wb.Write(context.Background(), "r1", schema, records(schema, 1)); err != nil {
		t.Fatalf("Write(r1) error = %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sheets := f.GetSheetList()
	f.Close()
	if len(sheets) != 1 || sheets[0] != "R1" {
		t.Fatalf("sheets = %v, want [R1]", sheets)
	}
	if got := len(readRows(t, path, "R1")); got != 4 {
		t.Errorf("R1 has %d rows, want header + 3", got)
	}
	if !strings.Contains(logs.String(), "differs only by case") {
		t.Errorf("no warning logged: %s", logs.String())
	}
}

func TestWorkbook_DefaultSheetKeyKeepsTab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.xlsx")
	schema := packetsSchema(t)

	if err := NewWorkbook(path, discardLogger()).Write(context.Background(), "sheet1", schema, records(schema, 1)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := len(readRows(t, path, "Sheet1")); got != 2 {
		t.Errorf("Sheet1 has %d rows, want header + 1", got)
	}
}

func TestValidateSheetName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"r1.lab", false},
		{"10.0.0.1", false},
		{"", true},
		{strings.Repeat("a", 31), false},
		{strings.Repeat("a", 32), true},
		{"fe80::1", true},
		{"site/r1", true},
		{"r1[0]", true},
		{"'quoted'", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSheetName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSheetName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSheetName) {
				t.Errorf("error %v does not wrap ErrInvalidSheetName", err)
			}
		})
	}
}

func TestConsole_Write(t *testing.T) {
	var buf bytes.Buffer
	schema := packetsSchema(t)

	if err := NewConsole(&buf).Write(context.Background(), "r1", schema, records(schema, 1)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Host: r1\n",
		"Interface: ge-0/0/0\n",
		"  input packets: 7\n",
		"  output multicast packets: None\n",
		strings.Repeat("-", 50) + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

type fakeCopier struct {
	table   pgx.Identifier
	columns []string
	rows    [][]interface{}
	err     error
}

func (c *fakeCopier) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.table = table
	c.columns = columns
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		c.rows = append(c.rows, values)
	}
	return int64(len(c.rows)), src.Err()
}

func TestPostgres_Write(t *testing.T) {
	db := &fakeCopier{}
	runID := uuid.New()
	schema := packetsSchema(t)

	if err := NewPostgres(db, runID, discardLogger()).Write(context.Background(), "r1", schema, records(schema, 2)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if db.table.Sanitize() != `"interface_counters"` {
		t.Errorf("table = %v", db.table)
	}
	if len(db.rows) != 2 {
		t.Fatalf("copied %d rows, want 2", len(db.rows))
	}
	row := db.rows[0]
	if row[0] != runID || row[1] != "r1" || row[2] != "packets" || row[3] != "ge-0/0/0" {
		t.Errorf("row = %v", row[:4])
	}

	var counters map[string]string
	if err := json.Unmarshal(row[5].([]byte), &counters); err != nil {
		t.Fatalf("counters are not JSON: %v", err)
	}
	if counters["input_packets"] != "7" || counters["output_multicast_packets"] != model.SentinelNoValue {
		t.Errorf("counters = %v", counters)
	}
}

func TestPostgres_EmptyAndFailure(t *testing.T) {
	schema := packetsSchema(t)

	db := &fakeCopier{}
	if err := NewPostgres(db, uuid.New(), discardLogger()).Write(context.Background(), "r1", schema, nil); err != nil {
		t.Errorf("Write(nil) error = %v", err)
	}
	if db.rows != nil {
		t.Error("no rows expected for an empty record set")
	}

	db = &fakeCopier{err: errors.New("relation does not exist")}
	err := NewPostgres(db, uuid.New(), discardLogger()).Write(context.Background(), "r1", schema, records(schema, 1))
	if err == nil || errors.Is(err, ErrFatal) {
		t.Errorf("Write() error = %v, want non-fatal failure", err)
	}
}
