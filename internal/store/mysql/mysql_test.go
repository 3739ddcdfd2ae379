package mysql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/maloquacious/stockroom/internal/schema"
	"github.com/maloquacious/stockroom/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	d := New(2*time.Second, logger.Nop)

	tests := []struct {
		name    string
		uri     string
		addr    string
		dbName  string
		wantErr bool
	}{
		{name: "host and port", uri: "mysql://db.internal:3307/stockroom", addr: "db.internal:3307", dbName: "stockroom"},
		{name: "default port", uri: "mysql://db.internal/stockroom", addr: "db.internal:3306", dbName: "stockroom"},
		{name: "trailing params", uri: "mysql://127.0.0.1:3306/stockroom;TRACE=1", addr: "127.0.0.1:3306", dbName: "stockroom"},
		{name: "no database", uri: "mysql://127.0.0.1:3306/", wantErr: true},
		{name: "no host", uri: "mysql:///stockroom", wantErr: true},
		{name: "wrong scheme", uri: "sqlite:./data/stockroom", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := d.Config(store.Target{Kind: store.Networked, URI: tt.uri, Username: "sa"})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "tcp", cfg.Net)
			assert.Equal(t, tt.addr, cfg.Addr)
			assert.Equal(t, tt.dbName, cfg.DBName)
			assert.Equal(t, "sa", cfg.User)
			assert.Equal(t, "", cfg.Passwd)
			assert.Equal(t, 2*time.Second, cfg.Timeout)
		})
	}
}

func TestClassify(t *testing.T) {
	d := New(0, logger.Nop)
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

	tests := []struct {
		name string
		err  error
		want store.Failure
	}{
		{name: "nil", err: nil, want: store.FailureOther},
		{name: "lock wait timeout", err: &driver.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, want: store.FailureBusy},
		{name: "deadlock", err: fmt.Errorf("ping: %w", &driver.MySQLError{Number: 1213}), want: store.FailureBusy},
		{name: "access denied", err: &driver.MySQLError{Number: 1045, Message: "Access denied"}, want: store.FailureOther},
		{name: "connection refused", err: fmt.Errorf("failed to reach: %w", refused), want: store.FailureUnreachable},
		{name: "invalid connection", err: driver.ErrInvalidConn, want: store.FailureUnreachable},
		{name: "refused message", err: errors.New("dial tcp 127.0.0.1:3306: connect: connection refused"), want: store.FailureUnreachable},
		{name: "other", err: errors.New("unknown database"), want: store.FailureOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Classify(tt.err))
		})
	}
}

func TestOpenUnreachable(t *testing.T) {
	// Reserve a port and close it again so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d := New(time.Second, logger.Nop)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = d.Open(ctx, store.Target{Kind: store.Networked, URI: "mysql://" + addr + "/stockroom", Username: "sa"})
	require.Error(t, err)
	assert.Equal(t, store.FailureUnreachable, d.Classify(err))
}

func TestDialectCoversSchema(t *testing.T) {
	d := New(0, logger.Nop)
	assert.Equal(t, []string{schema.TableUsers, schema.TableItems, schema.TablePurchases}, schema.TableNames(d))
	for _, tbl := range d.Tables() {
		assert.Contains(t, tbl.Create, "CREATE TABLE IF NOT EXISTS "+tbl.Name)
	}
	for _, col := range d.Columns() {
		assert.Contains(t, schema.AddColumnStatement(col), "ALTER TABLE "+col.Table+" ADD COLUMN "+col.Name)
	}
}
