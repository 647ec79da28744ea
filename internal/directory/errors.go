package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Kind categorizes a directory error.
type Kind int

const (
	// KindProtocol marks an operation the server rejected; the native
	// error text is preserved in ServerMsg.
	KindProtocol Kind = iota
	// KindConfig marks missing or unsupported configuration, such as an
	// absent creation base DN or an unsupported account form.
	KindConfig
	// KindData marks an expected identifier or attribute missing from a
	// record, such as no GUID after object creation.
	KindData
	// KindValidation marks a caller-supplied entity missing a required
	// field, such as an empty username before provisioning.
	KindValidation
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindConfig:
		return "config"
	case KindData:
		return "data"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// ErrNotFound is returned by lookups that yield no matching record.
var ErrNotFound = errors.New("directory: not found")

// Error carries the failure of a directory operation together with the
// server's native diagnostics where available.
type Error struct {
	Kind      Kind
	Op        string // Operation that failed
	Message   string
	ServerMsg string // Server-provided error text, if any
	Code      uint16 // LDAP result code, if any
	cause     error
}

func (e *Error) Error() string {
	var parts []string

	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("directory %s failed (code %d)", e.Op, e.Code))
	} else {
		parts = append(parts, fmt.Sprintf("directory %s failed", e.Op))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewProtocolError wraps a failed protocol call, extracting the LDAP
// result code and server message when the cause is a *ldap.Error.
func NewProtocolError(op string, err error) *Error {
	if err == nil {
		return nil
	}

	e := &Error{
		Kind:  KindProtocol,
		Op:    op,
		cause: err,
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		e.Code = ldapErr.ResultCode
		if ldapErr.Err != nil {
			e.ServerMsg = ldapErr.Err.Error()
		}
	} else {
		e.Message = err.Error()
	}

	return e
}

// NewConfigError reports missing or unsupported configuration.
func NewConfigError(op, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewDataError reports an expected identifier or attribute missing from
// directory data.
func NewDataError(op, format string, args ...any) *Error {
	return &Error{Kind: KindData, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError reports invalid caller-supplied input.
func NewValidationError(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, defaulting to KindProtocol for
// errors raised outside this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProtocol
}

// IsNotFound reports whether err indicates that a requested object does
// not exist, either as the ErrNotFound sentinel or as an LDAP
// noSuchObject result.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject)
}

// IsConflict reports whether err indicates that an entry or attribute
// value already exists.
func IsConflict(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultAttributeOrValueExists)
}

// isRetryable reports whether an operation that produced err may
// succeed when repeated on a fresh or recovered connection.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if ldap.IsErrorWithCode(err, ldap.LDAPResultBusy) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown) ||
		ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"broken pipe",
		"network",
		"timeout",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
