package dbmanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/maloquacious/stockroom/internal/schema"
)

// TableRows counts the rows of each provisioned table on the active target.
// Tables that do not exist are left out.
func (m *Manager) TableRows(ctx context.Context) (map[string]int64, error) {
	conn, d, err := m.acquireWithDialect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows := map[string]int64{}
	for _, name := range schema.TableNames(d) {
		ok, err := d.HasTable(ctx, conn, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var n int64
		if err := conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", name)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		rows[name] = n
	}
	return rows, nil
}

// VerifySchema reports tables and columns missing on the active target.
func (m *Manager) VerifySchema(ctx context.Context) (schema.Report, error) {
	conn, d, err := m.acquireWithDialect(ctx)
	if err != nil {
		return schema.Report{}, err
	}
	defer conn.Close()
	return schema.Verify(ctx, conn, d)
}

// EnsureSchema provisions the active target again. Provisioning is
// idempotent, so this is how an operator upgrades a store in place.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	conn, d, err := m.acquireWithDialect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := schema.EnsureSchema(ctx, conn, d, m.log); err != nil {
		return err
	}
	return schema.EnsureSeedUsers(ctx, conn, m.log)
}

// acquireWithDialect returns a connection together with the dialect of the
// target that served it.
func (m *Manager) acquireWithDialect(ctx context.Context) (*sql.Conn, schema.Dialect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, err := m.connector.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	d, err := m.connector.Dialect(m.resolver.Select())
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, d, nil
}
