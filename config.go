package couchdb

import (
	"fmt"
)

// Logger is the minimal logging surface used for best-effort,
// swallow-on-failure background work (the design-document reaper).
// It defaults to a no-op. couchdaemon.NewLogger adapts a CouchDB
// os_daemon log sink to this interface.
type Logger interface {
	Printf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

// RequestEvent, SuccessEvent and FailureEvent are delivered to the
// Config callbacks (OnRequest/OnSuccess/OnFailure), fired synchronously
// around each dispatched request.
type RequestEvent struct {
	Method  Method
	URL     string
	Options *RequestOptions
}

type SuccessEvent struct {
	URL     string
	Options *RequestOptions
	Status  int
}

type FailureEvent struct {
	URL            string
	Options        *RequestOptions
	Err            error
	NumRetriesLeft int
}

// Config configures a Client. Only URL is required.
type Config struct {
	// URL is a single base URL or a list of base URLs round-robined
	// across calls. Trailing slashes are stripped.
	URL interface{}

	// DesignDocument is installed lazily by QueryDesignDocument.
	DesignDocument *DesignDocument

	// TrustViewETags defaults to true; set to a non-nil false to strip
	// ETags from view responses and from caller-supplied conditional
	// headers.
	TrustViewETags *bool

	NumRetries int
	MaxSockets int

	Cert               CertMaterial
	Key                CertMaterial
	CA                 CertMaterial
	RejectUnauthorized *bool

	// Placeholders is the per-client placeholder scope consulted by the
	// URL template engine. Values may be plain values or
	// PlaceholderFunc. Keys must not collide with a reserved Client
	// method/property name.
	Placeholders map[string]interface{}

	// Auth, when set, is consulted for every outgoing request and may
	// add authentication headers (BasicAuth, ProxyAuth, or a custom
	// implementation).
	Auth Auth

	Logger Logger

	OnRequest func(RequestEvent)
	OnSuccess func(SuccessEvent)
	OnFailure func(FailureEvent)
}

// reservedNames lists the Client surface that a placeholder key must
// not shadow.
var reservedNames = map[string]bool{
	"request":             true,
	"querytemporaryview":  true,
	"querydesigndocument": true,
	"init":                true,
	"quit":                true,
	"url":                 true,
	"db":                  true,
	"context":             true,
}

func checkReservedNames(placeholders map[string]interface{}) error {
	for k := range placeholders {
		if reservedNames[lower(k)] {
			return fmt.Errorf("couchdb: placeholder key %q collides with a reserved Client method/property name", k)
		}
	}
	return nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
