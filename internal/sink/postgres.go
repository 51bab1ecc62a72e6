package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nmslite/ifstats/internal/extractor"
	"github.com/nmslite/ifstats/internal/model"
)

var counterColumns = []string{"run_id", "host", "variant", "interface", "collected_at", "counters"}

// Copier is the COPY capability of a pgx pool or connection.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Postgres bulk-loads records into the interface_counters table.
type Postgres struct {
	db     Copier
	runID  uuid.UUID
	logger *slog.Logger
}

func NewPostgres(db Copier, runID uuid.UUID, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		runID:  runID,
		logger: logger.With("component", "postgres"),
	}
}

func (p *Postgres) Name() string { return "postgres" }

// Write copies all records of a host in one COPY statement.
func (p *Postgres) Write(ctx context.Context, key string, schema extractor.Schema, records []model.InterfaceCounterRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(records))
	for i, r := range records {
		counters := make(map[string]string, len(r.Counters))
		for _, c := range r.Counters {
			counters[c.Name] = c.Value
		}
		countersJSON, err := json.Marshal(counters)
		if err != nil {
			return fmt.Errorf("failed to marshal counters of %s: %w", r.Interface, err)
		}
		rows[i] = []interface{}{p.runID, key, string(schema.Variant), r.Interface, r.Timestamp, countersJSON}
	}

	copyCount, err := p.db.CopyFrom(ctx, pgx.Identifier{"interface_counters"}, counterColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("COPY into interface_counters failed for %s: %w", key, err)
	}
	if copyCount != int64(len(rows)) {
		return fmt.Errorf("COPY count mismatch for %s: expected %d, got %d", key, len(rows), copyCount)
	}

	p.logger.Debug("Records copied", "host", key, "rows", copyCount)
	return nil
}
