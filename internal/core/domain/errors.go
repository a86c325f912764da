package domain

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of a configuration error.
type ErrorKind string

const (
	// ErrorKindInputFormat indicates user input that does not match the
	// expected format. It is recoverable: the user is prompted again.
	ErrorKindInputFormat ErrorKind = "input_format"

	// ErrorKindConfigRead indicates a document that is missing or malformed
	// when the current operation needs it.
	ErrorKindConfigRead ErrorKind = "config_read"

	// ErrorKindBackup indicates an existing document that could not be
	// copied. Nothing has been mutated when this is returned.
	ErrorKindBackup ErrorKind = "backup"

	// ErrorKindWrite indicates a failed temp write, fsync or rename. The
	// original document is left in place.
	ErrorKindWrite ErrorKind = "write"

	// ErrorKindReload indicates a failed reload hook. Config changes that were
	// already applied are not rolled back.
	ErrorKindReload ErrorKind = "reload"
)

// ErrProviderMissing is wrapped by config_read errors raised when the
// provider document does not exist.
var ErrProviderMissing = errors.New("provider config does not exist")

// ConfigError is the error returned by the config updater and reload hooks.
type ConfigError struct {
	Kind ErrorKind

	// Op names the step that failed, e.g. "backup" or "write registry".
	Op string

	// Path is the document the step operated on, if any.
	Path string

	// BackupPath is the provider backup taken before the failure, if any.
	BackupPath string

	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(kind ErrorKind, op, path string, err error) *ConfigError {
	return &ConfigError{Kind: kind, Op: op, Path: path, Err: err}
}

// WithBackup records the provider backup taken before the failure.
func (e *ConfigError) WithBackup(path string) *ConfigError {
	e.BackupPath = path
	return e
}

// KindOf returns the ErrorKind of err, or "" if err is not a ConfigError.
func KindOf(err error) ErrorKind {
	var cerr *ConfigError
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return ""
}

// BackupOf returns the provider backup path recorded on err, if any.
func BackupOf(err error) string {
	var cerr *ConfigError
	if errors.As(err, &cerr) {
		return cerr.BackupPath
	}
	return ""
}

// Chain renders every error in err's wrap chain, outermost first. It is the
// diagnostic detail shown to the operator alongside the message.
func Chain(err error) []string {
	var out []string
	for err != nil {
		out = append(out, fmt.Sprintf("%T: %v", err, err))
		err = errors.Unwrap(err)
	}
	return out
}
