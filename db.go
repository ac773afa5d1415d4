// Package couchdb implements wrappers for the CouchDB HTTP API.
//
// Unless otherwise noted, all functions in this package can be called
// from more than one goroutine at the same time.
package couchdb

import (
	"fmt"
)

// DB represents a database bound to a Client. Every method issues its
// requests through Client.Request/Client.RequestStream.
type DB struct {
	client *Client
	name   string
}

// Name returns the name of the database.
func (db *DB) Name() string { return db.name }

func (db *DB) path(segs ...string) string {
	p := "/" + db.name
	for _, s := range segs {
		p += "/" + s
	}
	return p
}

// Get retrieves a document from the database and unmarshals it into
// doc. Some fields (like _conflicts) are only returned if opts
// requests them - see the CouchDB HTTP API documentation.
func (db *DB) Get(id string, doc interface{}, opts *RequestOptions) error {
	o := cloneOptions(opts)
	o.Path = db.path(id)
	env, err := db.client.Request(o)
	if err != nil {
		return err
	}
	return decodeEnvelope(env, doc)
}

// Rev fetches the current revision of a document via HEAD, which is
// cheaper than Get since no body needs to be parsed.
func (db *DB) Rev(id string) (string, error) {
	env, err := db.client.Request(&RequestOptions{Method: "HEAD", Path: db.path(id)})
	if err != nil {
		return "", err
	}
	return unquoteETag(env.Response.Header.Get("Etag"))
}

// Post stores a new document, letting the server assign its id.
func (db *DB) Post(doc interface{}) (id, rev string, err error) {
	env, err := db.client.Request(&RequestOptions{
		Method: "POST",
		Path:   db.path(),
		Body:   JSONBody(doc),
	})
	if err != nil {
		return "", "", err
	}
	return decodeIDRev(env)
}

// Put stores doc at id. rev must name the current revision unless the
// document does not yet exist.
func (db *DB) Put(id string, doc interface{}, rev string) (newrev string, err error) {
	opts := &RequestOptions{Method: "PUT", Path: db.path(id), Body: JSONBody(doc)}
	if rev != "" {
		opts.Query = revQuery(rev)
	}
	env, err := db.client.Request(opts)
	if err != nil {
		return "", err
	}
	_, newrev, err = decodeIDRev(env)
	return newrev, err
}

// Delete marks a document revision as deleted.
func (db *DB) Delete(id, rev string) (newrev string, err error) {
	env, err := db.client.Request(&RequestOptions{
		Method: "DELETE",
		Path:   db.path(id),
		Query:  revQuery(rev),
	})
	if err != nil {
		return "", err
	}
	_, newrev, err = decodeIDRev(env)
	return newrev, err
}

// Security represents a database security object.
type Security struct {
	Admins  Members `json:"admins"`
	Members Members `json:"members"`
}

// Members represents a member list (names and roles) inside a
// Security object.
type Members struct {
	Names []string `json:"names,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// GetSecurity retrieves the database's security object.
func (db *DB) GetSecurity() (*Security, error) {
	secobj := new(Security)
	env, err := db.client.Request(&RequestOptions{Method: "GET", Path: db.path("_security")})
	if err != nil {
		return nil, err
	}
	if len(env.Body) == 0 {
		// empty reply means defaults
		return secobj, nil
	}
	if err := decodeEnvelope(env, secobj); err != nil {
		return nil, err
	}
	return secobj, nil
}

// PutSecurity sets the database's security object.
func (db *DB) PutSecurity(secobj *Security) error {
	_, err := db.client.Request(&RequestOptions{
		Method: "PUT",
		Path:   db.path("_security"),
		Body:   JSONBody(secobj),
	})
	return err
}

// View invokes a view defined on an ad-hoc design document (one not
// managed by the Client's fingerprinting - see Client.QueryDesignDocument
// for that). ddoc is the design document name, excluding the
// "_design/" prefix.
//
// The output of the query is unmarshalled into result. Its shape
// depends on opts - see the CouchDB HTTP API documentation.
func (db *DB) View(ddoc, view string, result interface{}, opts *RequestOptions) error {
	o := cloneOptions(opts)
	o.Path = db.path("_design", ddoc, "_view", view)
	env, err := db.client.Request(o)
	if err != nil {
		return err
	}
	return decodeEnvelope(env, result)
}

// AllDocs invokes the _all_docs view of the database.
func (db *DB) AllDocs(result interface{}, opts *RequestOptions) error {
	o := cloneOptions(opts)
	o.Path = db.path("_all_docs")
	env, err := db.client.Request(o)
	if err != nil {
		return err
	}
	return decodeEnvelope(env, result)
}

// ViewStream is the streaming counterpart of View.
func (db *DB) ViewStream(ddoc, view string, opts *RequestOptions) *StreamHandle {
	o := cloneOptions(opts)
	o.Path = db.path("_design", ddoc, "_view", view)
	return db.client.RequestStream(o)
}

// AllDocsStream is the streaming counterpart of AllDocs.
func (db *DB) AllDocsStream(opts *RequestOptions) *StreamHandle {
	o := cloneOptions(opts)
	o.Path = db.path("_all_docs")
	return db.client.RequestStream(o)
}

func cloneOptions(opts *RequestOptions) *RequestOptions {
	if opts == nil {
		return &RequestOptions{}
	}
	o := *opts
	return &o
}

func decodeEnvelope(env *ResponseEnvelope, v interface{}) error {
	if env.JSON == nil {
		return fmt.Errorf("couchdb: response was not JSON")
	}
	return remarshal(env.JSON, v)
}

func decodeIDRev(env *ResponseEnvelope) (id, rev string, err error) {
	var result struct {
		ID  string `json:"id"`
		Rev string `json:"rev"`
	}
	if err := decodeEnvelope(env, &result); err != nil {
		return "", "", err
	}
	if result.Rev == "" {
		if rev, rerr := unquoteETag(env.Response.Header.Get("Etag")); rerr == nil {
			result.Rev = rev
		}
	}
	return result.ID, result.Rev, nil
}

func unquoteETag(etag string) (string, error) {
	if etag == "" {
		return "", fmt.Errorf("couchdb: missing Etag header in response")
	}
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1], nil
	}
	return etag, nil
}

// SyncDesign creates or updates a design document on this database,
// fetching the previous revision first so a no-op update (identical
// fingerprint) never bumps the rev.
func (db *DB) SyncDesign(id string, d *DesignDocument) error {
	fp, err := d.Fingerprint()
	if err != nil {
		return err
	}

	var prev struct {
		Rev      string              `json:"_rev"`
		Language string              `json:"language,omitempty"`
		Views    map[string]*ViewDef `json:"views"`
	}
	if getErr := db.Get(id, &prev, nil); getErr != nil && !NotFound(getErr) {
		return getErr
	}
	if prev.Rev != "" {
		existing := &DesignDocument{Language: prev.Language, Views: prev.Views}
		if existingFP, ferr := existing.Fingerprint(); ferr == nil && existingFP == fp {
			return nil
		}
	}
	_, err = db.Put(id, d.body(fp), prev.Rev)
	return err
}
