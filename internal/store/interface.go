package store

import (
	"context"
	"database/sql"
	"errors"
)

// Kind identifies a connection target's place in the priority order.
type Kind int

const (
	PreferredExternal Kind = iota // Shared store in the user's home, tried first when enabled
	Networked                     // Store served over the network
	LocalEmbedded                 // Store file next to the application, the last resort
)

func (k Kind) String() string {
	switch k {
	case PreferredExternal:
		return "preferred-external"
	case Networked:
		return "networked"
	case LocalEmbedded:
		return "local-embedded"
	default:
		return "unknown"
	}
}

// Failure classifies why opening a target failed.
type Failure int

const (
	FailureOther       Failure = iota // Terminal for the target, e.g. malformed URI or bad credentials
	FailureBusy                       // Another process holds the store; recoverable by waiting
	FailureUnreachable                // Nothing is listening; terminal for the target
)

func (f Failure) String() string {
	switch f {
	case FailureBusy:
		return "busy"
	case FailureUnreachable:
		return "unreachable"
	default:
		return "other"
	}
}

// ErrLocked is returned by drivers when the store's lock marker is held
// by another process.
var ErrLocked = errors.New("store is locked by another process")

// ErrNoPath is returned when an embedded target's path cannot be resolved,
// such as a "~" path with no home directory.
var ErrNoPath = errors.New("store path cannot be resolved")

// Driver opens targets of one URI scheme.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Open opens and pings the store behind t.
	Open(ctx context.Context, t Target) (*Handle, error)

	// Classify maps an error from Open or from a connection to a Failure.
	Classify(err error) Failure
}

// Handle is an open store plus whatever the driver must release when it closes.
type Handle struct {
	DB      *sql.DB
	release func() error
}

// NewHandle wraps db. release runs after db is closed and may be nil.
func NewHandle(db *sql.DB, release func() error) *Handle {
	return &Handle{DB: db, release: release}
}

// Close closes the database and then releases the driver's resources.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	var err error
	if h.DB != nil {
		err = h.DB.Close()
	}
	if h.release != nil {
		err = errors.Join(err, h.release())
		h.release = nil
	}
	return err
}
