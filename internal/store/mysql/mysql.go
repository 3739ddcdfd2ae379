// Package mysql opens networked stockroom stores over the MySQL wire
// protocol with github.com/go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/maloquacious/stockroom/internal/store"
)

// MySQL server error numbers reported as busy.
const (
	errLockWaitTimeout = 1205
	errLockDeadlock    = 1213
)

// DefaultDialTimeout bounds how long Open waits for the server to accept a
// connection.
const DefaultDialTimeout = 5 * time.Second

// Driver implements store.Driver and schema.Dialect for mysql targets.
type Driver struct {
	dialTimeout time.Duration
	log         logger.Logger
}

// New creates a Driver. A zero dialTimeout uses DefaultDialTimeout.
func New(dialTimeout time.Duration, log logger.Logger) *Driver {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Driver{dialTimeout: dialTimeout, log: logger.OrDefault(log)}
}

// Config converts a "mysql://host:port/database" target into a driver config.
func (d *Driver) Config(t store.Target) (*driver.Config, error) {
	rest, ok := strings.CutPrefix(t.URI, store.SchemeMySQL)
	if !ok {
		return nil, fmt.Errorf("not a mysql target: %q", t.URI)
	}
	if i := strings.IndexAny(rest, "?;"); i >= 0 {
		rest = rest[:i]
	}
	addr, dbName, _ := strings.Cut(rest, "/")
	if addr == "" {
		return nil, fmt.Errorf("mysql target %q has no host", t.URI)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "3306")
	}
	if dbName == "" {
		return nil, fmt.Errorf("mysql target %q has no database", t.URI)
	}

	cfg := driver.NewConfig()
	cfg.User = t.Username
	cfg.Passwd = t.Password
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = dbName
	cfg.ParseTime = true
	cfg.Timeout = d.dialTimeout
	cfg.ReadTimeout = 10 * time.Second
	cfg.WriteTimeout = 10 * time.Second
	return cfg, nil
}

// Open connects and pings the server behind t.
func (d *Driver) Open(ctx context.Context, t store.Target) (*store.Handle, error) {
	cfg, err := d.Config(t)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach mysql server %s: %w", cfg.Addr, err)
	}
	d.log.Debug("mysql: connected to %s/%s", cfg.Addr, cfg.DBName)
	return store.NewHandle(db, nil), nil
}

// Classify reports lock waits and deadlocks as busy and dial failures as
// unreachable.
func (d *Driver) Classify(err error) store.Failure {
	if err == nil {
		return store.FailureOther
	}
	var mysqlErr *driver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case errLockWaitTimeout, errLockDeadlock:
			return store.FailureBusy
		}
		return store.FailureOther
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, driver.ErrInvalidConn) {
		return store.FailureUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return store.FailureUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return store.FailureUnreachable
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "i/o timeout") {
		return store.FailureUnreachable
	}
	return store.FailureOther
}

var _ store.Driver = (*Driver)(nil)
