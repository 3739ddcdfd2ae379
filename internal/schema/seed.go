package schema

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maloquacious/stockroom/internal/logger"
	"golang.org/x/crypto/bcrypt"
)

// Role tags an account with what it may do in the application.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSupplier Role = "supplier"
	RoleConsumer Role = "consumer"
)

// SeedUser is a baseline account created on an empty store.
type SeedUser struct {
	Username    string
	Password    string
	Role        Role
	DisplayName string
}

// DefaultSeedUsers are inserted by EnsureSeedUsers.
var DefaultSeedUsers = []SeedUser{
	{Username: "admin", Password: "admin", Role: RoleAdmin, DisplayName: "Administrator"},
	{Username: "supplier", Password: "supplier", Role: RoleSupplier, DisplayName: "Default Supplier"},
	{Username: "consumer", Password: "consumer", Role: RoleConsumer, DisplayName: "Default Consumer"},
}

// Conn is a DBTX that can start transactions, such as *sql.DB or *sql.Conn.
type Conn interface {
	DBTX
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// EnsureSeedUsers inserts DefaultSeedUsers when the users table is empty.
// If any user exists, whoever it is, nothing is written.
func EnsureSeedUsers(ctx context.Context, db Conn, log logger.Logger) error {
	log = logger.OrDefault(log)

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+TableUsers).Scan(&count); err != nil {
		return &SchemaError{Dialect: "seed", Failures: []error{fmt.Errorf("count users: %w", err)}}
	}
	if count > 0 {
		log.Debug("seed: %d user(s) present, skipping", count)
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &SchemaError{Dialect: "seed", Failures: []error{fmt.Errorf("begin transaction: %w", err)}}
	}
	defer tx.Rollback()

	now := time.Now().UTC().UnixMilli()
	for _, u := range DefaultSeedUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return &SchemaError{Dialect: "seed", Failures: []error{fmt.Errorf("hash password for %s: %w", u.Username, err)}}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (username, password_hash, role, display_name, created_at) VALUES (?, ?, ?, ?, ?)`,
			u.Username, string(hash), string(u.Role), u.DisplayName, now,
		)
		if err != nil {
			return &SchemaError{Dialect: "seed", Failures: []error{fmt.Errorf("insert user %s: %w", u.Username, err)}}
		}
	}

	if err := tx.Commit(); err != nil {
		return &SchemaError{Dialect: "seed", Failures: []error{fmt.Errorf("commit seed users: %w", err)}}
	}
	log.Info("seed: created %d baseline accounts", len(DefaultSeedUsers))
	return nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
