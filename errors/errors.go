package mailhoard_errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for engine entry points.
const (
	ExitOK         = 0
	ExitUserError  = 1
	ExitConcurrent = 2
	ExitFailure    = 3
)

var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrNoCredentials  = errors.New("missing credentials")
	ErrUnknownLayout  = errors.New("unknown layout")
	ErrEmptyFilter    = errors.New("filter config has no terms")
)

// ConfigError covers bad accounts, missing credentials and invalid
// layouts. Nothing is written when one is raised.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func NewConfigError(msg string, err error) *ConfigError {
	return &ConfigError{Msg: msg, Err: err}
}

// ImapError wraps a failed IMAP operation. Transient errors are counted
// per message inside the engine loops; fatal ones abort the run.
type ImapError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *ImapError) Error() string {
	return fmt.Sprintf("imap %s: %v", e.Op, e.Err)
}

func (e *ImapError) Unwrap() error { return e.Err }

func NewImapTransient(op string, err error) *ImapError {
	return &ImapError{Op: op, Err: err, Transient: true}
}

func NewImapFatal(op string, err error) *ImapError {
	return &ImapError{Op: op, Err: err}
}

// WrapImap classifies err by its message. Socket, timeout and
// server-busy classes are retriable; auth and protocol errors are not.
func WrapImap(op string, err error) *ImapError {
	return &ImapError{Op: op, Err: err, Transient: isTransientMessage(err)}
}

func isTransientMessage(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection closed",
		"connection reset",
		"i/o timeout",
		"eof",
		"broken pipe",
		"temporarily unavailable",
		"server busy",
		"try again",
		"too many",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is a retriable IMAP failure.
func IsTransient(err error) bool {
	var ie *ImapError
	return errors.As(err, &ie) && ie.Transient
}

// ParseError marks an unreadable .eml during indexing; the file is
// counted as skipped and the scan continues.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// WriteError aborts the run (disk full, permission denied).
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SchemaError marks a corrupt database; the caller rebuilds from the
// parquet projection or from the .eml files.
type SchemaError struct {
	DB  string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s: %v", e.DB, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ConcurrencyError means another sync holds the working-tree lock.
type ConcurrencyError struct {
	Operation string
	PID       int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("another %s is already running (pid %d)", e.Operation, e.PID)
}

// ExitCode maps an error to the process exit code contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *ConcurrencyError
	if errors.As(err, &ce) {
		return ExitConcurrent
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return ExitUserError
	}
	if errors.Is(err, ErrUnknownAccount) ||
		errors.Is(err, ErrNoCredentials) ||
		errors.Is(err, ErrUnknownLayout) ||
		errors.Is(err, ErrEmptyFilter) {
		return ExitUserError
	}
	return ExitFailure
}
