package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// SchemeSQLite prefixes embedded store URIs, e.g. "sqlite:~/stockroom;AUTO_SERVER=TRUE".
	SchemeSQLite = "sqlite:"
	// SchemeMySQL prefixes networked store URIs, e.g. "mysql://127.0.0.1:3306/stockroom".
	SchemeMySQL = "mysql://"

	// DataFileSuffix is appended to an embedded target's path to name its data file.
	DataFileSuffix = ".db"
	// LockFileSuffix is appended to an embedded target's path to name its lock marker.
	LockFileSuffix = ".lock.db"

	// ParamAutoServer lets several processes share an embedded store.
	ParamAutoServer = "AUTO_SERVER"

	// DefaultUsername is used when no store username is configured.
	DefaultUsername = "sa"
)

// Target is an addressable instance of the backing store. Targets are values;
// the Resolver decides which one is active.
type Target struct {
	Kind     Kind
	URI      string
	Username string
	Password string
}

// Description renders the target for humans. The password is never included.
func (t Target) Description() string {
	if t.URI == "" {
		return t.Kind.String() + " (not configured)"
	}
	return fmt.Sprintf("%s %s", t.Kind, t.URI)
}

// Scheme returns the URI scheme without separators ("sqlite", "mysql"),
// or "" when the URI has no known scheme.
func (t Target) Scheme() string {
	switch {
	case strings.HasPrefix(t.URI, SchemeMySQL):
		return "mysql"
	case strings.HasPrefix(t.URI, SchemeSQLite):
		return "sqlite"
	default:
		return ""
	}
}

// IsFile reports whether the target is backed by local files.
func (t Target) IsFile() bool {
	return t.Scheme() == "sqlite"
}

// Params returns the ";KEY=VALUE" parameters trailing an embedded URI.
// Keys are upper-cased.
func (t Target) Params() map[string]string {
	params := map[string]string{}
	_, rest, found := strings.Cut(t.URI, ";")
	if !found {
		return params
	}
	for _, kv := range strings.Split(rest, ";") {
		k, v, _ := strings.Cut(kv, "=")
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		params[k] = strings.TrimSpace(v)
	}
	return params
}

// AutoServer reports whether the target asks for shared multi-process access.
func (t Target) AutoServer() bool {
	return strings.EqualFold(t.Params()[ParamAutoServer], "TRUE")
}

// BasePath derives the file-system path of an embedded target: the driver
// prefix and any trailing parameters are stripped and a leading "~" is
// replaced with the user's home directory. It returns "" for targets that
// are not file backed, and for "~" paths when the home directory is unknown.
func (t Target) BasePath() string {
	if !t.IsFile() {
		return ""
	}
	path := strings.TrimPrefix(t.URI, SchemeSQLite)
	if i := strings.Index(path, ";"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return ""
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}

// DataFile returns the path of an embedded target's data file.
func (t Target) DataFile() string {
	base := t.BasePath()
	if base == "" {
		return ""
	}
	return base + DataFileSuffix
}

// CheckExists verifies if the data file of an embedded target exists.
// Networked targets always report false.
func CheckExists(t Target) (bool, error) {
	dbPath := t.DataFile()
	if dbPath == "" {
		return false, nil
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check store existence: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("datastore path is a directory, expected file: %s", dbPath)
	}
	return true, nil
}
