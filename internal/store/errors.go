package store

import (
	"fmt"
	"strings"
)

// ConnectionError is returned when every target failed.
type ConnectionError struct {
	Target   Target // last target attempted
	Attempts int    // attempts across all targets
	LockPath string // lock marker of the last file-backed target, if any
	Cause    error  // last underlying failure
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "unable to connect to the database after %d attempts (last target %s)", e.Attempts, e.Target.Description())
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	b.WriteString(". Close any other program using the database, wait a moment and try again")
	if e.LockPath != "" {
		fmt.Fprintf(&b, ", or delete the lock file %s manually if no other program is running", e.LockPath)
	}
	return b.String()
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}
