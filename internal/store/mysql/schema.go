package mysql

import (
	"context"
	"fmt"

	"github.com/maloquacious/stockroom/internal/schema"
)

// tables mirrors the sqlite schema with MySQL types.
var tables = []schema.Table{
	{
		Name: schema.TableUsers,
		Create: `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    username VARCHAR(64) NOT NULL UNIQUE,
    password_hash VARCHAR(255) NOT NULL,
    role VARCHAR(16) NOT NULL,
    created_at BIGINT NOT NULL
) ENGINE=InnoDB
`,
	},
	{
		Name: schema.TableItems,
		Create: `
CREATE TABLE IF NOT EXISTS items (
    id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    purchase_price DECIMAL(12,2) NOT NULL DEFAULT 0,
    quantity INT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL DEFAULT 0
) ENGINE=InnoDB
`,
		Indexes: []string{
			// MySQL has no CREATE INDEX IF NOT EXISTS; a duplicate key name is idempotent.
			`CREATE INDEX idx_items_name ON items (name)`,
		},
	},
	{
		Name: schema.TablePurchases,
		Create: `
CREATE TABLE IF NOT EXISTS purchases (
    id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    item_id BIGINT NOT NULL,
    user_id BIGINT NULL,
    quantity INT NOT NULL,
    unit_price DECIMAL(12,2) NOT NULL,
    purchased_at BIGINT NOT NULL,
    INDEX idx_purchases_item (item_id),
    FOREIGN KEY (item_id) REFERENCES items (id),
    FOREIGN KEY (user_id) REFERENCES users (id)
) ENGINE=InnoDB
`,
	},
}

var columns = []schema.Column{
	{Table: schema.TableItems, Name: "sale_price", Definition: "DECIMAL(12,2) NOT NULL DEFAULT 0"},
	{Table: schema.TableItems, Name: "supplier_id", Definition: "BIGINT NULL"},
	{Table: schema.TableItems, Name: "updated_at", Definition: "BIGINT NOT NULL DEFAULT 0"},
	{Table: schema.TableUsers, Name: "display_name", Definition: "VARCHAR(255) NOT NULL DEFAULT ''"},
	{Table: schema.TableUsers, Name: "disabled", Definition: "TINYINT(1) NOT NULL DEFAULT 0"},
}

func (d *Driver) Name() string { return "mysql" }

func (d *Driver) Tables() []schema.Table { return tables }

func (d *Driver) Columns() []schema.Column { return columns }

func (d *Driver) HasTable(ctx context.Context, db schema.DBTX, table string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`,
		table,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return count > 0, nil
}

func (d *Driver) HasColumn(ctx context.Context, db schema.DBTX, table, column string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}

// ResetAutoIncrement cannot use a placeholder; next is an integer so
// formatting it into the statement is safe.
func (d *Driver) ResetAutoIncrement(ctx context.Context, db schema.DBTX, table string, next int64) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = %d", table, next)); err != nil {
		return fmt.Errorf("failed to alter auto increment: %w", err)
	}
	return nil
}

var _ schema.Dialect = (*Driver)(nil)
