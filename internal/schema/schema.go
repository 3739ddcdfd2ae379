// Package schema idempotently provisions the stockroom tables and seed
// accounts on any store that has a Dialect.
//
// Provisioning runs on every process start. Tables use "create if not
// exists", columns introduced after the first release are added when
// missing, and the items auto-increment counter is realigned with the
// highest stored key. There is no migration version number: the presence
// of each table and column is the version.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/maloquacious/stockroom/internal/logger"
)

const (
	TableUsers     = "users"
	TableItems     = "items"
	TablePurchases = "purchases"
)

// DBTX is the subset of *sql.DB, *sql.Conn and *sql.Tx used for provisioning.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Table is a required table and the statements that create it.
type Table struct {
	Name    string
	Create  string   // must be "CREATE TABLE IF NOT EXISTS ..."
	Indexes []string // run after Create
}

// Column is a column added after the table was first released.
type Column struct {
	Table      string
	Name       string
	Definition string // type and constraints, e.g. "REAL NOT NULL DEFAULT 0"
}

// Dialect supplies the store-specific DDL and catalog queries.
type Dialect interface {
	Name() string
	Tables() []Table
	Columns() []Column
	HasTable(ctx context.Context, db DBTX, table string) (bool, error)
	HasColumn(ctx context.Context, db DBTX, table, column string) (bool, error)
	// ResetAutoIncrement makes next the key assigned to the next row
	// inserted into table without an explicit key.
	ResetAutoIncrement(ctx context.Context, db DBTX, table string, next int64) error
}

// EnsureSchema creates missing tables and columns and repairs the items
// auto-increment counter. It is safe to call any number of times.
//
// A failing statement is logged and provisioning continues with the next
// one; the failures are returned together as a *SchemaError. Failures that
// only say the object already exists are not failures.
func EnsureSchema(ctx context.Context, db DBTX, d Dialect, log logger.Logger) error {
	log = logger.OrDefault(log)
	var failures []error

	exec := func(stmt string) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if ie := AsIdempotent(stmt, err); ie != nil {
				log.Debug("schema: %v", ie)
				return
			}
			log.Warn("schema: %s: %v", firstLine(stmt), err)
			failures = append(failures, fmt.Errorf("%s: %w", firstLine(stmt), err))
		}
	}

	for _, table := range d.Tables() {
		exec(table.Create)
		for _, index := range table.Indexes {
			exec(index)
		}
	}

	for _, col := range d.Columns() {
		has, err := d.HasColumn(ctx, db, col.Table, col.Name)
		if err != nil {
			log.Warn("schema: inspect %s.%s: %v", col.Table, col.Name, err)
		}
		if has {
			continue
		}
		exec(AddColumnStatement(col))
	}

	if err := RepairAutoIncrement(ctx, db, d, TableItems); err != nil {
		log.Warn("schema: %v", err)
	}

	if ctx.Err() != nil {
		failures = append(failures, ctx.Err())
	}
	if len(failures) > 0 {
		return &SchemaError{Dialect: d.Name(), Failures: failures}
	}
	log.Debug("schema: %s schema is up to date", d.Name())
	return nil
}

// AddColumnStatement returns the ALTER TABLE statement adding col.
func AddColumnStatement(col Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.Table, col.Name, col.Definition)
}

// RepairAutoIncrement realigns table's auto-increment counter with its
// highest id. Rows inserted with explicit ids by outside tools can leave the
// counter behind, so the next generated id would collide.
func RepairAutoIncrement(ctx context.Context, db DBTX, d Dialect, table string) error {
	var maxID int64
	row := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", table))
	if err := row.Scan(&maxID); err != nil {
		return fmt.Errorf("read max id of %s: %w", table, err)
	}
	if maxID <= 0 {
		return nil
	}
	if err := d.ResetAutoIncrement(ctx, db, table, maxID+1); err != nil {
		return fmt.Errorf("reset auto increment of %s to %d: %w", table, maxID+1, err)
	}
	return nil
}

// Report lists the schema objects Verify could not find.
type Report struct {
	Dialect        string   `json:"dialect"`
	MissingTables  []string `json:"missingTables,omitempty"`
	MissingColumns []string `json:"missingColumns,omitempty"`
}

// OK reports whether nothing is missing.
func (r Report) OK() bool {
	return len(r.MissingTables) == 0 && len(r.MissingColumns) == 0
}

// Verify inspects the store without changing it.
func Verify(ctx context.Context, db DBTX, d Dialect) (Report, error) {
	report := Report{Dialect: d.Name()}
	present := map[string]bool{}
	for _, table := range d.Tables() {
		ok, err := d.HasTable(ctx, db, table.Name)
		if err != nil {
			return report, fmt.Errorf("inspect table %s: %w", table.Name, err)
		}
		present[table.Name] = ok
		if !ok {
			report.MissingTables = append(report.MissingTables, table.Name)
		}
	}
	for _, col := range d.Columns() {
		if !present[col.Table] {
			continue
		}
		ok, err := d.HasColumn(ctx, db, col.Table, col.Name)
		if err != nil {
			return report, fmt.Errorf("inspect column %s.%s: %w", col.Table, col.Name, err)
		}
		if !ok {
			report.MissingColumns = append(report.MissingColumns, col.Table+"."+col.Name)
		}
	}
	return report, nil
}

// TableNames returns the names of the tables d provisions, in creation order.
func TableNames(d Dialect) []string {
	tables := d.Tables()
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexAny(stmt, "(\n"); i >= 0 {
		stmt = strings.TrimSpace(stmt[:i])
	}
	return stmt
}
