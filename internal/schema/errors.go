package schema

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaError collects the statements that failed during provisioning.
type SchemaError struct {
	Dialect  string
	Failures []error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s schema: %d statement(s) failed: %v", e.Dialect, len(e.Failures), errors.Join(e.Failures...))
}

func (e *SchemaError) Unwrap() []error {
	return e.Failures
}

// IdempotentError marks a DDL failure that only reports the object already
// exists. Callers treat it as success.
type IdempotentError struct {
	Statement string
	Err       error
}

func (e *IdempotentError) Error() string {
	return fmt.Sprintf("already applied: %s: %v", firstLine(e.Statement), e.Err)
}

func (e *IdempotentError) Unwrap() error {
	return e.Err
}

// idempotentMessages are the lower-cased fragments sqlite and mysql use when
// a table, column or index already exists.
var idempotentMessages = []string{
	"already exists",
	"duplicate column name",
	"duplicate key name",
}

// AsIdempotent returns an *IdempotentError when err only reports that stmt's
// object already exists, and nil otherwise.
func AsIdempotent(stmt string, err error) *IdempotentError {
	if err == nil {
		return nil
	}
	var ie *IdempotentError
	if errors.As(err, &ie) {
		return ie
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range idempotentMessages {
		if strings.Contains(msg, fragment) {
			return &IdempotentError{Statement: stmt, Err: err}
		}
	}
	return nil
}
