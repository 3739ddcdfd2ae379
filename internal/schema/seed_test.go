package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/maloquacious/stockroom/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSeedUsersOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	db, d := openStore(t)
	require.NoError(t, schema.EnsureSchema(ctx, db, d, logger.Nop))

	require.NoError(t, schema.EnsureSeedUsers(ctx, db, logger.Nop))
	require.NoError(t, schema.EnsureSeedUsers(ctx, db, logger.Nop))

	rows, err := db.QueryContext(ctx, `SELECT username, role, password_hash FROM users ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	roles := map[string]string{}
	for rows.Next() {
		var username, role, hash string
		require.NoError(t, rows.Scan(&username, &role, &hash))
		roles[username] = role
		assert.NotEqual(t, username, hash, "passwords are stored hashed")
		assert.True(t, schema.CheckPassword(hash, username), "default password for %s", username)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, map[string]string{
		"admin":    string(schema.RoleAdmin),
		"supplier": string(schema.RoleSupplier),
		"consumer": string(schema.RoleConsumer),
	}, roles)
}

func TestEnsureSeedUsersLeavesExistingUsers(t *testing.T) {
	ctx := context.Background()
	db, d := openStore(t)
	require.NoError(t, schema.EnsureSchema(ctx, db, d, logger.Nop))

	_, err := db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, created_at) VALUES ('someone', 'x', 'consumer', 0)`)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, schema.EnsureSeedUsers(ctx, db, logger.Nop))
	}

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestEnsureSeedUsersWithoutSchema(t *testing.T) {
	db, _ := openStore(t)
	err := schema.EnsureSeedUsers(context.Background(), db, logger.Nop)
	var schemaErr *schema.SchemaError
	assert.True(t, errors.As(err, &schemaErr), "got %v", err)
}
