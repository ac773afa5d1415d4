package couchdb

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// HTTPError is returned for any response with a status code >= 400.
// It carries the status code and, if CouchDB supplied one, the
// server's own error/reason pair.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	ErrorCode  string
	Reason     string
}

func (e *HTTPError) Error() string {
	if e.ErrorCode == "" {
		return fmt.Sprintf("couchdb: %s %s: %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("couchdb: %s %s: %d (%s): %s", e.Method, e.URL, e.StatusCode, e.ErrorCode, e.Reason)
}

// NotFound reports whether err is an HTTPError with status 404.
func NotFound(err error) bool { return ErrorStatus(err, 404) }

// Conflict reports whether err is an HTTPError with status 409.
func Conflict(err error) bool { return ErrorStatus(err, 409) }

// PreconditionFailed reports whether err is an HTTPError with status 412.
func PreconditionFailed(err error) bool { return ErrorStatus(err, 412) }

// ErrorStatus reports whether err is an HTTPError with the given
// status code.
func ErrorStatus(err error, statusCode int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == statusCode
	}
	return false
}

// BadGateway is synthesised by the request pipeline when a response
// announced as JSON could not be decoded as JSON.
type BadGateway struct {
	URL string
	Err error
}

func (e *BadGateway) Error() string {
	return fmt.Sprintf("couchdb: bad gateway decoding response from %s: %v", e.URL, e.Err)
}

func (e *BadGateway) Unwrap() error { return e.Err }

// InternalServerError is synthesised by the streaming row parser on
// unparseable rows or metadata lines. Unclassifiable transport errors
// are not wrapped in it: they are returned as a TransportError with
// Kind "unknown".
type InternalServerError struct {
	Message string
	Err     error
}

func (e *InternalServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("couchdb: internal error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("couchdb: internal error: %s", e.Message)
}

func (e *InternalServerError) Unwrap() error { return e.Err }

// TransportError classifies a non-HTTP transport failure (connection
// refused, timeout, reset, DNS failure, ...), following the
// classification approach used by go-kivik's chttp driver.
type TransportError struct {
	Kind string // "timeout", "refused", "dns", "reset", "unknown"
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("couchdb: transport error (%s): %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classifyTransportError turns a raw net/http transport error into a
// TransportError, inspecting nested *url.Error/*net.OpError/syscall
// errors the same way chttp.netError/curlStatus do.
func classifyTransportError(err error) *TransportError {
	wrapped := pkgerrors.Wrap(err, "couchdb: transport failure")
	if urlErr, ok := err.(*url.Error); ok {
		if urlErr.Timeout() {
			return &TransportError{Kind: "timeout", Err: wrapped}
		}
		if opErr, ok := urlErr.Err.(*net.OpError); ok {
			if _, ok := opErr.Err.(*net.DNSError); ok {
				return &TransportError{Kind: "dns", Err: wrapped}
			}
			if scErr, ok := opErr.Err.(*os.SyscallError); ok {
				if errno, ok := scErr.Err.(syscall.Errno); ok {
					switch errno {
					case syscall.ECONNREFUSED:
						return &TransportError{Kind: "refused", Err: wrapped}
					case syscall.ECONNRESET:
						return &TransportError{Kind: "reset", Err: wrapped}
					}
				}
			}
		}
	}
	if dnsErr, ok := err.(*net.DNSError); ok {
		_ = dnsErr
		return &TransportError{Kind: "dns", Err: wrapped}
	}
	return &TransportError{Kind: "unknown", Err: wrapped}
}
