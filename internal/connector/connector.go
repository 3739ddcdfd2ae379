// Package connector acquires working connections to the active store
// target, retrying busy targets and falling back through the resolver's
// priority order.
//
// A Connector is not safe for concurrent use. The dbmanager package
// serializes calls to it.
package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/maloquacious/stockroom/internal/schema"
	"github.com/maloquacious/stockroom/internal/store"
	"github.com/maloquacious/stockroom/internal/store/lock"
)

// Backend opens one URI scheme and knows its schema dialect.
type Backend interface {
	store.Driver
	schema.Dialect
}

// RetryPolicy controls how often a busy target is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy makes 3 attempts, 500ms then 1s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// BackOff returns the schedule for one target: Delay(1), Delay(2), ... and
// Stop once MaxAttempts attempts have been made.
func (p RetryPolicy) BackOff() backoff.BackOff {
	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithMaxRetries(&linearBackOff{policy: p}, uint64(retries))
}

// linearBackOff grows the wait by BaseDelay after every failed attempt.
type linearBackOff struct {
	policy  RetryPolicy
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.policy.Delay(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// Options configures a Connector. Resolver and Backends are required.
type Options struct {
	Resolver *store.Resolver
	Backends map[string]Backend // keyed by store.Target.Scheme()
	Policy   RetryPolicy
	Logger   logger.Logger
	Metrics  *Metrics

	// Timer drives the waits between busy attempts. Nil uses a real timer.
	Timer backoff.Timer
	// Cleanup removes a stale lock marker. It defaults to lock.Cleanup.
	Cleanup func(t store.Target, log logger.Logger) bool
}

// Connector implements the acquisition algorithm over a Resolver.
type Connector struct {
	resolver *store.Resolver
	backends map[string]Backend
	policy   RetryPolicy
	log      logger.Logger
	metrics  *Metrics
	timer    backoff.Timer
	cleanup  func(t store.Target, log logger.Logger) bool
	handles  map[string]*store.Handle
}

// New validates opts and creates a Connector.
func New(opts Options) (*Connector, error) {
	if opts.Resolver == nil {
		return nil, errors.New("connector: resolver is required")
	}
	if len(opts.Backends) == 0 {
		return nil, errors.New("connector: at least one backend is required")
	}
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if opts.Policy.BaseDelay < 0 {
		opts.Policy.BaseDelay = 0
	}
	if opts.Cleanup == nil {
		opts.Cleanup = lock.Cleanup
	}
	return &Connector{
		resolver: opts.Resolver,
		backends: opts.Backends,
		policy:   opts.Policy,
		log:      logger.OrDefault(opts.Logger),
		metrics:  opts.Metrics,
		timer:    opts.Timer,
		cleanup:  opts.Cleanup,
		handles:  map[string]*store.Handle{},
	}, nil
}

// Acquire returns a live connection to the active target, falling back to
// lower-priority targets as needed. The caller must close the connection.
//
// The first connection to each target provisions its schema and seed
// accounts before it is returned. When every target fails the error is a
// *store.ConnectionError.
func (c *Connector) Acquire(ctx context.Context) (*sql.Conn, error) {
	total := 0
	for {
		target := c.resolver.Select()
		conn, attempts, err := c.tryTarget(ctx, target)
		total += attempts
		if err == nil {
			return c.finish(ctx, target, conn), nil
		}
		if ctx.Err() != nil {
			return nil, &store.ConnectionError{Target: target, Attempts: total, LockPath: lock.Path(target), Cause: err}
		}
		if !c.resolver.Fallback() {
			c.log.Warn("connector: %s failed: %v", target.Description(), err)
			break
		}
		next := c.resolver.Select()
		c.log.Warn("connector: %s failed, falling back to %s: %v", target.Description(), next.Description(), err)
		c.metrics.fallback(target.Kind, next.Kind)
	}

	local := c.resolver.LocalEmbedded()
	c.log.Warn("connector: no targets left, last attempt on %s", local.Description())
	conn, err := c.openOnce(ctx, local)
	total++
	if err == nil {
		return c.finish(ctx, local, conn), nil
	}
	c.log.Error("connector: unable to connect: %v", err)
	return nil, &store.ConnectionError{Target: local, Attempts: total, LockPath: lock.Path(local), Cause: err}
}

// tryTarget runs the retry policy against one target and returns the number
// of attempts it made. Only busy failures are retried.
func (c *Connector) tryTarget(ctx context.Context, t store.Target) (*sql.Conn, int, error) {
	backend, err := c.backend(t)
	if err != nil {
		return nil, 0, err
	}

	var conn *sql.Conn
	attempts := 0
	open := func() error {
		attempts++
		var err error
		if conn, err = c.openOnce(ctx, t); err == nil {
			return nil
		}
		if failure := backend.Classify(err); failure != store.FailureBusy {
			c.log.Debug("connector: %s attempt %d: %s: %v", t.Description(), attempts, failure, err)
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		c.log.Info("connector: %s is busy (attempt %d/%d), retrying in %s", t.Description(), attempts, c.policy.MaxAttempts, delay)
	}

	err = backoff.RetryNotifyWithTimer(open, backoff.WithContext(c.policy.BackOff(), ctx), notify, c.timer)
	if err == nil {
		return conn, attempts, nil
	}
	if ctx.Err() != nil || backend.Classify(err) != store.FailureBusy {
		return nil, attempts, err
	}

	// Busy on every attempt. Removing the marker is only attempted when
	// nobody holds it, and that can change right after the check.
	removed := c.cleanup(t, c.log)
	c.metrics.cleanup(removed)
	if !removed {
		return nil, attempts, err
	}
	conn, err = c.openOnce(ctx, t)
	attempts++
	if err != nil {
		return nil, attempts, err
	}
	return conn, attempts, nil
}

// openOnce makes a single attempt: it opens the target's handle if needed,
// checks out a connection and pings it. Any failure evicts the handle.
func (c *Connector) openOnce(ctx context.Context, t store.Target) (*sql.Conn, error) {
	backend, err := c.backend(t)
	if err != nil {
		c.metrics.attempt(t.Kind, store.FailureOther.String())
		return nil, err
	}

	h, ok := c.handles[t.URI]
	if !ok {
		h, err = backend.Open(ctx, t)
		if err != nil {
			c.metrics.attempt(t.Kind, backend.Classify(err).String())
			return nil, err
		}
		c.handles[t.URI] = h
	}

	conn, err := h.DB.Conn(ctx)
	if err == nil {
		if err = conn.PingContext(ctx); err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		c.metrics.attempt(t.Kind, backend.Classify(err).String())
		c.evict(t)
		return nil, err
	}
	c.metrics.attempt(t.Kind, "ok")
	return conn, nil
}

func (c *Connector) finish(ctx context.Context, t store.Target, conn *sql.Conn) *sql.Conn {
	c.metrics.active(t.Kind)
	if c.resolver.Provisioned(t) {
		return conn
	}
	// Marked before running: a partial provisioning is not retried in this process.
	c.resolver.MarkProvisioned(t)

	backend, err := c.backend(t)
	if err != nil {
		return conn
	}
	result := "ok"
	if err := schema.EnsureSchema(ctx, conn, backend, c.log); err != nil {
		c.log.Warn("connector: provisioning %s: %v", t.Description(), err)
		result = "partial"
	}
	if err := schema.EnsureSeedUsers(ctx, conn, c.log); err != nil {
		c.log.Warn("connector: seeding %s: %v", t.Description(), err)
		result = "partial"
	}
	c.metrics.provisioned(result)
	c.log.Info("connector: connected to %s", t.Description())
	return conn
}

func (c *Connector) backend(t store.Target) (Backend, error) {
	backend, ok := c.backends[t.Scheme()]
	if !ok {
		return nil, fmt.Errorf("no driver for target %q", t.URI)
	}
	return backend, nil
}

func (c *Connector) evict(t store.Target) {
	h, ok := c.handles[t.URI]
	if !ok {
		return
	}
	delete(c.handles, t.URI)
	if err := h.Close(); err != nil {
		c.log.Warn("connector: close %s: %v", t.Description(), err)
	}
}

// Dialect returns the schema dialect of t's backend.
func (c *Connector) Dialect(t store.Target) (schema.Dialect, error) {
	return c.backend(t)
}

// Close releases every cached store handle.
func (c *Connector) Close() error {
	var errs []error
	for uri, h := range c.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", uri, err))
		}
		delete(c.handles, uri)
	}
	return errors.Join(errs...)
}
