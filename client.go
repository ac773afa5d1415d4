// Package couchdb implements a client library for CouchDB-style
// document databases: URL templating, a retrying HTTP request
// pipeline with TLS support, a streaming view-row JSON parser, and a
// design-document installer with fingerprinting and automatic
// recovery.
//
// Unless otherwise noted, all functions in this package can be called
// from more than one goroutine at the same time.
package couchdb

import (
	"fmt"
	"strings"
	"sync"
)

// Client represents a logical binding to one (or, round-robined, more
// than one) CouchDB-style server.
type Client struct {
	mu     sync.Mutex
	urls   []string
	cursor int

	numRetries     int
	designDoc      *DesignDocument
	fingerprint    string
	trustViewETags bool
	placeholders   map[string]interface{}

	agent     *connectionAgent
	templates *templateCache
	logger    Logger
	auth      Auth

	onRequest func(RequestEvent)
	onSuccess func(SuccessEvent)
	onFailure func(FailureEvent)
}

// NewClient constructs a Client from cfg. Construction fails if URL is
// absent, empty or not a string or []string, or if a placeholder key
// collides with a reserved method/property name. URL syntax is not
// checked here.
func NewClient(cfg Config) (*Client, error) {
	urls, err := normaliseURLs(cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := checkReservedNames(cfg.Placeholders); err != nil {
		return nil, err
	}

	tlsConfig, err := loadTLSConfig(tlsOptions{
		Cert:               cfg.Cert,
		Key:                cfg.Key,
		CA:                 cfg.CA,
		RejectUnauthorized: cfg.RejectUnauthorized,
	})
	if err != nil {
		return nil, err
	}

	trust := true
	if cfg.TrustViewETags != nil {
		trust = *cfg.TrustViewETags
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	var fingerprint string
	if cfg.DesignDocument != nil {
		fingerprint, err = cfg.DesignDocument.Fingerprint()
		if err != nil {
			return nil, fmt.Errorf("couchdb: invalid design document: %w", err)
		}
	}

	c := &Client{
		urls:           urls,
		numRetries:     cfg.NumRetries,
		designDoc:      cfg.DesignDocument,
		fingerprint:    fingerprint,
		trustViewETags: trust,
		placeholders:   cfg.Placeholders,
		agent:          newConnectionAgent(tlsConfig, cfg.MaxSockets),
		templates:      newTemplateCache(),
		logger:         logger,
		auth:           cfg.Auth,
		onRequest:      cfg.OnRequest,
		onSuccess:      cfg.OnSuccess,
		onFailure:      cfg.OnFailure,
	}
	return c, nil
}

func normaliseURLs(v interface{}) ([]string, error) {
	var raw []string
	switch x := v.(type) {
	case nil:
		return nil, fmt.Errorf("couchdb: url is required")
	case string:
		raw = []string{x}
	case []string:
		raw = append(raw, x...)
	default:
		return nil, fmt.Errorf("couchdb: url must be a string or []string, got %T", v)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("couchdb: url is required")
	}
	out := make([]string, len(raw))
	for i, u := range raw {
		trimmed := strings.TrimRight(u, "/")
		if trimmed == "" {
			return nil, fmt.Errorf("couchdb: url is required")
		}
		out[i] = trimmed
	}
	return out, nil
}

// nextBaseURL takes the head of the URL list and rotates it,
// atomically with respect to concurrent callers on this Client.
func (c *Client) nextBaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.urls[c.cursor]
	c.cursor = (c.cursor + 1) % len(c.urls)
	return u
}

// Quit releases the Client's connection agent.
func (c *Client) Quit() {
	if c.agent != nil {
		c.agent.Close()
	}
}

// Init creates the database at the client's base URL, ignoring
// PreconditionFailed (the database already exists).
func (c *Client) Init() error {
	_, err := c.Request(&RequestOptions{Method: "PUT"})
	if err != nil && !PreconditionFailed(err) {
		return err
	}
	return nil
}

// QueryTemporaryView posts an ad-hoc map/reduce function to
// _temp_view. It is never stored on the server.
func (c *Client) QueryTemporaryView(opts *RequestOptions, mapFn, reduceFn string) (*ResponseEnvelope, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	body := map[string]interface{}{
		"language": "javascript",
		"map":      mapFn,
	}
	if reduceFn != "" {
		body["reduce"] = reduceFn
	}
	o := *opts
	o.Method = "POST"
	if opts.Path == "" {
		o.Path = "_temp_view"
	} else {
		o.Path = strings.TrimRight(opts.Path, "/") + "/_temp_view"
	}
	o.Body = JSONBody(body)
	return c.Request(&o)
}

// DB creates a database handle bound to this client. The database's
// actual existence is not verified.
func (c *Client) DB(name string) *DB {
	return &DB{client: c, name: name}
}
