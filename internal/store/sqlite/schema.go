package sqlite

import (
	"context"
	"fmt"

	"github.com/maloquacious/stockroom/internal/schema"
)

// tables is the first-release schema. Statements must stay idempotent.
var tables = []schema.Table{
	{
		Name: schema.TableUsers,
		Create: `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('admin', 'supplier', 'consumer')),
    created_at INTEGER NOT NULL
);
`,
	},
	{
		Name: schema.TableItems,
		Create: `
CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    purchase_price REAL NOT NULL DEFAULT 0,
    quantity INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT 0
);
`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_items_name ON items (name)`,
		},
	},
	{
		Name: schema.TablePurchases,
		Create: `
CREATE TABLE IF NOT EXISTS purchases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id INTEGER NOT NULL REFERENCES items (id),
    user_id INTEGER REFERENCES users (id),
    quantity INTEGER NOT NULL,
    unit_price REAL NOT NULL,
    purchased_at INTEGER NOT NULL
);
`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_purchases_item ON purchases (item_id)`,
		},
	},
}

// columns were added after the first release; older files gain them in place.
var columns = []schema.Column{
	{Table: schema.TableItems, Name: "sale_price", Definition: "REAL NOT NULL DEFAULT 0"},
	{Table: schema.TableItems, Name: "supplier_id", Definition: "INTEGER REFERENCES users (id)"},
	{Table: schema.TableItems, Name: "updated_at", Definition: "INTEGER NOT NULL DEFAULT 0"},
	{Table: schema.TableUsers, Name: "display_name", Definition: "TEXT NOT NULL DEFAULT ''"},
	{Table: schema.TableUsers, Name: "disabled", Definition: "INTEGER NOT NULL DEFAULT 0"},
}

func (d *Driver) Name() string { return "sqlite" }

func (d *Driver) Tables() []schema.Table { return tables }

func (d *Driver) Columns() []schema.Column { return columns }

func (d *Driver) HasTable(ctx context.Context, db schema.DBTX, table string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return count > 0, nil
}

func (d *Driver) HasColumn(ctx context.Context, db schema.DBTX, table, column string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}

// ResetAutoIncrement stores next-1 in sqlite_sequence, which holds the last
// key handed out for an AUTOINCREMENT table.
func (d *Driver) ResetAutoIncrement(ctx context.Context, db schema.DBTX, table string, next int64) error {
	res, err := db.ExecContext(ctx, `UPDATE sqlite_sequence SET seq = ? WHERE name = ?`, next-1, table)
	if err != nil {
		return fmt.Errorf("failed to update sqlite_sequence: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)`, table, next-1); err != nil {
		return fmt.Errorf("failed to insert sqlite_sequence: %w", err)
	}
	return nil
}

var _ schema.Dialect = (*Driver)(nil)
