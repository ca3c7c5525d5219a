package api

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the semantic class of an *Error.
type Kind string

const (
	// KindUser is an application-level failure whose message is meant to be
	// shown to the user verbatim (bad credentials, illegal job transition...).
	KindUser Kind = "user"

	// KindNetwork is a transport failure: the destination was unreachable,
	// reset the connection or timed out. Callers decide whether to back off
	// and retry; nothing inside this module retries on their behalf.
	KindNetwork Kind = "network"

	// KindNotFound is a lookup failure for an entity that does not exist.
	KindNotFound Kind = "not_found"
)

// Error is the classified error returned by every client call.
// Errors that fit none of the kinds are returned unchanged and are not
// wrapped in an *Error.
type Error struct {
	Kind    Kind
	Message string

	// Err is the original failure, if any. For network errors it is the
	// error raised at the transport call site.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the original failure for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// UserError builds a KindUser error.
func UserError(msg string) *Error {
	return &Error{Kind: KindUser, Message: msg}
}

// UserErrorf builds a KindUser error from a format string.
func UserErrorf(format string, args ...any) *Error {
	return UserError(fmt.Sprintf(format, args...))
}

// NetworkError wraps err as a KindNetwork error, keeping err reachable
// through Unwrap so the real failure site stays diagnosable.
func NetworkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
}

// NotFoundError builds a KindNotFound error wrapping cause (which may be nil).
func NotFoundError(msg string, cause error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Err: cause}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

// IsUser reports whether err is a user-facing error.
func IsUser(err error) bool { return IsKind(err, KindUser) }

// IsNetwork reports whether err is a transport error.
func IsNetwork(err error) bool { return IsKind(err, KindNetwork) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// TransportErrors is the table of substrings that identify a transport
// failure. It carries both the errno-style codes reported by most HTTP
// stacks and the spellings used by Go's net package.
var TransportErrors = []string{
	"ECONNRESET",
	"ECONNREFUSED",
	"ETIMEDOUT",
	"ESOCKETTIMEDOUT",
	"EADDRINUSE",
	"EHOSTUNREACH",
	"ENETUNREACH",
	"EPIPE",
	"ENOTFOUND",
	"EAI_AGAIN",
	"socket hang up",
	"connection reset by peer",
	"connection refused",
	"i/o timeout",
	"Client.Timeout exceeded",
	"context deadline exceeded",
	"no such host",
	"broken pipe",
	"address already in use",
	"no route to host",
	"host is unreachable",
	"network is unreachable",
}

// Classify maps a failure onto the error taxonomy. Network errors are
// returned as-is; errors whose message contains an entry of
// TransportErrors become network errors; anything else passes through
// unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == KindNetwork {
		return err
	}
	msg := err.Error()
	for _, code := range TransportErrors {
		if strings.Contains(msg, code) {
			return NetworkError(err)
		}
	}
	return err
}
