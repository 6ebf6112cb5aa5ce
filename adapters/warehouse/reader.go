package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"abstat/domain/core"
	"abstat/domain/experiment"
)

// Reader pulls experiment records for one experiment key from a warehouse
// table. The table needs subject_id, group_name, value and observed_at
// columns; group_name may be NULL for subjects awaiting assignment.
type Reader struct {
	db            *sqlx.DB
	table         string
	experimentKey core.ExperimentKey
}

// observationRow mirrors one warehouse row
type observationRow struct {
	SubjectID  string         `db:"subject_id"`
	GroupName  sql.NullString `db:"group_name"`
	Value      float64        `db:"value"`
	ObservedAt sql.NullTime   `db:"observed_at"`
}

// Connect opens a pooled connection to the warehouse
func Connect(dsn string, maxConns int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to warehouse: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// NewReader creates a reader scoped to one experiment key
func NewReader(db *sqlx.DB, table string, key core.ExperimentKey) *Reader {
	return &Reader{db: db, table: table, experimentKey: key}
}

// ReadObservations loads every record for the experiment, oldest first so
// sequential looks see data in arrival order.
func (r *Reader) ReadObservations(ctx context.Context) ([]experiment.Observation, error) {
	query := fmt.Sprintf(`SELECT
		subject_id, group_name, value, observed_at
	FROM %s
	WHERE experiment_key = $1
	ORDER BY observed_at ASC NULLS LAST, subject_id ASC`, pq.QuoteIdentifier(r.table))

	var rows []observationRow
	if err := r.db.SelectContext(ctx, &rows, query, r.experimentKey.String()); err != nil {
		return nil, fmt.Errorf("querying %s: %w", r.table, err)
	}

	records := make([]experiment.Observation, 0, len(rows))
	for _, row := range rows {
		record := experiment.Observation{
			SubjectID: core.SubjectID(row.SubjectID),
			Value:     row.Value,
		}
		if row.GroupName.Valid {
			record.Group = experiment.Group(row.GroupName.String)
		}
		if row.ObservedAt.Valid {
			record.At = core.Timestamp(row.ObservedAt.Time)
		}
		records = append(records, record)
	}
	return records, nil
}
