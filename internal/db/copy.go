package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of rows sent per COPY.
const DefaultBatchSize = 50000

// Column is a column name with its PostgreSQL type.
type Column struct {
	Name string
	Type string
}

// TableSpec names a schema-qualified table and its columns.
type TableSpec struct {
	Schema  string
	Name    string
	Columns []Column
}

func (s TableSpec) identifier() pgx.Identifier {
	if s.Schema == "" {
		return pgx.Identifier{s.Name}
	}
	return pgx.Identifier{s.Schema, s.Name}
}

func (s TableSpec) columnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// String returns the dotted table name for logs and errors.
func (s TableSpec) String() string {
	if s.Schema == "" {
		return s.Name
	}
	return s.Schema + "." + s.Name
}

// CopyFrom bulk-inserts rows into a table using PostgreSQL COPY protocol in
// batches of batchSize rows (0 = DefaultBatchSize).
func CopyFrom(ctx context.Context, pool Pool, table TableSpec, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	log := zap.L().With(
		zap.String("component", "db.copy"),
		zap.String("table", table.String()),
		zap.Int("total_rows", len(rows)),
	)

	var total int64
	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))
		n, err := pool.CopyFrom(ctx, table.identifier(), table.columnNames(), pgx.CopyFromRows(rows[i:end]))
		if err != nil {
			return total, eris.Wrapf(err, "db: COPY INTO %s (batch %d-%d)", table, i, end)
		}
		total += n
		log.Debug("batch loaded", zap.Int("batch_start", i), zap.Int("batch_end", end), zap.Int64("batch_rows", n))
	}
	return total, nil
}

// ReplaceTable drops and recreates table, then COPYs rows into it, all in
// one transaction. The schema is created when missing and geometry columns
// get a GIST index.
func ReplaceTable(ctx context.Context, pool Pool, table TableSpec, rows [][]any) (int64, error) {
	if len(table.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", table.identifier().Sanitize()),
		createSQL(table),
	}
	if table.Schema != "" {
		stmts = append([]string{"CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{table.Schema}.Sanitize()}, stmts...)
	}
	for _, sql := range stmts {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return 0, eris.Wrapf(err, "db: replace %s", table)
		}
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, table.identifier(), table.columnNames(), pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
		}
	}

	for _, c := range table.Columns {
		if !strings.HasPrefix(strings.ToLower(c.Type), "geometry") {
			continue
		}
		sql := fmt.Sprintf("CREATE INDEX ON %s USING GIST (%s)", table.identifier().Sanitize(), pgx.Identifier{c.Name}.Sanitize())
		if _, err := tx.Exec(ctx, sql); err != nil {
			return 0, eris.Wrapf(err, "db: index %s", table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return n, nil
}

func createSQL(table TableSpec) string {
	defs := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		defs[i] = pgx.Identifier{c.Name}.Sanitize() + " " + c.Type
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", table.identifier().Sanitize(), strings.Join(defs, ", "))
}
