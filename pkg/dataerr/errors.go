// Package dataerr defines the error taxonomy shared by every dataview
// package: a base error embedding an operation and cause, plus one
// struct per error kind so callers can use errors.As to branch on what
// actually went wrong.
package dataerr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the error-handling design's categories an
// error belongs to.
type Kind int

const (
	KindConfig Kind = iota
	KindTransport
	KindProtocol
	KindAuthentication
	KindSQL
	KindState
	KindDeserialization
	KindMemoryLimitExceeded
	KindCircuitOpen
	KindCancelled
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindAuthentication:
		return "authentication"
	case KindSQL:
		return "sql"
	case KindState:
		return "state"
	case KindDeserialization:
		return "deserialization"
	case KindMemoryLimitExceeded:
		return "memory_limit_exceeded"
	case KindCircuitOpen:
		return "circuit_open"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is the base type every dataview error embeds. It carries the
// operation that failed, the underlying cause (if any), and the kind so
// a bare Error value is still classifiable.
type Error struct {
	Op  string
	Kind Kind
	Err error
}

func (e Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e Error) Unwrap() error { return e.Err }

// New builds a plain Error of the given kind.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

type (
	// ConfigError reports a malformed URL, missing field, or invalid
	// configuration value.
	ConfigError struct {
		Error
		Field string
		Value string
	}

	// TransportError reports a connect failure, TLS handshake failure,
	// socket EOF, or other socket I/O error.
	TransportError struct {
		Error
		Address string
	}

	// ProtocolError reports an unexpected backend message, a framing
	// error, or a RowDescription violation.
	ProtocolError struct {
		Error
		MessageType byte
	}

	// AuthenticationError reports a missing password, an unsupported
	// auth method, or a server-reported authentication failure.
	AuthenticationError struct {
		Error
		Method string
	}

	// SQLError surfaces a backend ErrorResponse verbatim.
	SQLError struct {
		Error
		Severity string
		Code     string
		Message  string
	}

	// StateError reports an operation invoked while the connection or
	// resource was in a state that disallows it.
	StateError struct {
		Error
		CurrentState  string
		RequiredState string
	}

	// DeserializationError reports JSON that does not match the target
	// type, preserving the type name for diagnostics.
	DeserializationError struct {
		Error
		TypeName string
	}

	// MemoryLimitExceededError reports a stream exceeding its configured
	// hard memory cap; always terminal for the query it belongs to.
	MemoryLimitExceededError struct {
		Error
		UsedBytes  int64
		LimitBytes int64
	}

	// CircuitOpenError reports a call rejected by a breaker that is Open
	// or in a saturated HalfOpen state.
	CircuitOpenError struct {
		Error
		Endpoint string
	}

	// CancelledError reports the caller dropping a stream or requesting
	// shutdown.
	CancelledError struct {
		Error
	}

	// InternalError reports a poisoned lock or an unreachable invariant
	// — conditions that indicate a bug rather than bad input or
	// environment.
	InternalError struct {
		Error
	}
)

// Is* helpers let callers branch on kind without importing the concrete
// struct.

func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

func IsProtocolError(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}

func IsAuthenticationError(err error) bool {
	var e *AuthenticationError
	return errors.As(err, &e)
}

func IsSQLError(err error) bool {
	var e *SQLError
	return errors.As(err, &e)
}

func IsStateError(err error) bool {
	var e *StateError
	return errors.As(err, &e)
}

func IsDeserializationError(err error) bool {
	var e *DeserializationError
	return errors.As(err, &e)
}

func IsMemoryLimitExceeded(err error) bool {
	var e *MemoryLimitExceededError
	return errors.As(err, &e)
}

func IsCircuitOpen(err error) bool {
	var e *CircuitOpenError
	return errors.As(err, &e)
}

func IsCancelled(err error) bool {
	var e *CancelledError
	return errors.As(err, &e)
}

func IsInternal(err error) bool {
	var e *InternalError
	return errors.As(err, &e)
}

// IsTransient reports whether err is the kind of failure that the job
// queue and observer dispatcher should retry rather than route straight
// to a dead letter. SQL, transport and circuit-open failures are
// retried; everything else (bad config, protocol violations,
// deserialization mismatches, internal bugs) is permanent.
func IsTransient(err error) bool {
	switch {
	case IsTransportError(err), IsSQLError(err), IsCircuitOpen(err):
		return true
	default:
		return false
	}
}
