package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"syscall"
)

// ErrorType is the closed taxonomy of transport failures. Known causes are
// classified distinctly for user-facing diagnostics; everything else falls
// into ErrorUnknown.
type ErrorType int

const (
	ErrorUnknown ErrorType = iota
	ErrorTLS
	ErrorUnresolvedAddress
	ErrorConnectionRefused
	ErrorConnect
	ErrorTimeout
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTLS:
		return "tls"
	case ErrorUnresolvedAddress:
		return "unresolved_address"
	case ErrorConnectionRefused:
		return "connection_refused"
	case ErrorConnect:
		return "connect"
	case ErrorTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure.
type Error struct {
	Type ErrorType
	Err  error
}

func (e *Error) Error() string { return e.Type.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Classify wraps err with its taxonomy type. url.Error and net.OpError
// wrappers are unwrapped via errors.As/Is.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var recordErr tls.RecordHeaderError
	var certErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var dnsErr *net.DNSError

	switch {
	case errors.As(err, &recordErr), errors.As(err, &certErr), errors.As(err, &hostErr):
		return &Error{Type: ErrorTLS, Err: err}
	case errors.As(err, &dnsErr):
		return &Error{Type: ErrorUnresolvedAddress, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Error{Type: ErrorConnectionRefused, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Type: ErrorTimeout, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{Type: ErrorConnect, Err: err}
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return &Error{Type: ErrorTimeout, Err: err}
	}

	return &Error{Type: ErrorUnknown, Err: err}
}
