package couchdb

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ViewDef is a view definition inside a DesignDocument: map/reduce
// function bodies, kept as plain source text rather than parsed or
// compiled.
type ViewDef struct {
	Map    string `json:"map"`
	Reduce string `json:"reduce,omitempty"`
}

// DesignDocument holds the views to be installed lazily by
// QueryDesignDocument.
type DesignDocument struct {
	Language string              `json:"language,omitempty"`
	Views    map[string]*ViewDef `json:"views"`

	fpOnce      sync.Once
	fingerprint string
	fpErr       error
}

// NewDesignDocument creates an empty design document ready to have
// views added via AddView.
func NewDesignDocument() *DesignDocument {
	return &DesignDocument{Language: "javascript", Views: make(map[string]*ViewDef)}
}

// AddView adds or replaces a view definition.
func (d *DesignDocument) AddView(name string, v *ViewDef) *DesignDocument {
	if d.Views == nil {
		d.Views = make(map[string]*ViewDef)
	}
	d.Views[name] = v
	return d
}

// Fingerprint returns the lowercase hex MD5 of the canonical JSON
// encoding of the document. Views are sorted by name first so map
// iteration order never affects the result. The value is computed
// once and cached for the lifetime of the document.
func (d *DesignDocument) Fingerprint() (string, error) {
	d.fpOnce.Do(func() {
		canon, err := d.canonicalJSON()
		if err != nil {
			d.fpErr = err
			return
		}
		sum := md5.Sum(canon)
		d.fingerprint = fmt.Sprintf("%x", sum)
	})
	return d.fingerprint, d.fpErr
}

// canonicalJSON produces a deterministic JSON encoding of the
// document: views are emitted in name-sorted order so that map
// iteration order never affects the fingerprint.
func (d *DesignDocument) canonicalJSON() ([]byte, error) {
	names := make([]string, 0, len(d.Views))
	for name := range d.Views {
		names = append(names, name)
	}
	sort.Strings(names)

	type canonView struct {
		Name   string `json:"name"`
		Map    string `json:"map"`
		Reduce string `json:"reduce,omitempty"`
	}
	ordered := make([]canonView, 0, len(names))
	for _, name := range names {
		v := d.Views[name]
		ordered = append(ordered, canonView{Name: name, Map: v.Map, Reduce: v.Reduce})
	}

	type canonDoc struct {
		Language string      `json:"language,omitempty"`
		Views    []canonView `json:"views"`
	}
	return json.Marshal(canonDoc{Language: d.Language, Views: ordered})
}

// body builds the wire JSON body for installing this document at
// _design/<fingerprint>.
func (d *DesignDocument) body(fingerprint string) map[string]interface{} {
	return map[string]interface{}{
		"_id":      "_design/" + fingerprint,
		"language": d.Language,
		"views":    d.Views,
	}
}

// QueryDesignDocument queries a view on the client's fingerprinted
// design document. If the document hasn't been installed on the
// server yet, the query comes back 404, the document is installed,
// and the query is retried exactly once.
func (c *Client) QueryDesignDocument(viewName string, opts *RequestOptions) (*ResponseEnvelope, error) {
	if c.designDoc == nil {
		return nil, fmt.Errorf("couchdb: client has no design document configured")
	}
	if _, ok := c.designDoc.Views[viewName]; !ok {
		return nil, fmt.Errorf("couchdb: view %q does not exist in the design document", viewName)
	}
	if opts == nil {
		opts = &RequestOptions{}
	}
	o := *opts
	o.Path = fmt.Sprintf("_design/%s/_view/%s", c.fingerprint, viewName)
	if !c.trustViewETags {
		o = stripRequestETag(o)
	}

	env, err := c.Request(&o)
	if err != nil && NotFound(err) {
		if installErr := c.installDesignDocument(); installErr != nil {
			return nil, installErr
		}
		env, err = c.Request(&o)
	}
	if err != nil {
		return nil, err
	}
	if !c.trustViewETags {
		env.CacheInfo.Headers.ETag = ""
	}
	return env, nil
}

// QueryDesignList queries viewName through the named _list function
// on the client's fingerprinted design document, with the same
// install-on-404-then-retry-once behavior as QueryDesignDocument.
func (c *Client) QueryDesignList(listName, viewName string, opts *RequestOptions) (*ResponseEnvelope, error) {
	if c.designDoc == nil {
		return nil, fmt.Errorf("couchdb: client has no design document configured")
	}
	if _, ok := c.designDoc.Views[viewName]; !ok {
		return nil, fmt.Errorf("couchdb: view %q does not exist in the design document", viewName)
	}
	if opts == nil {
		opts = &RequestOptions{}
	}
	o := *opts
	o.Path = fmt.Sprintf("_design/%s/_list/%s/%s", c.fingerprint, listName, viewName)
	if !c.trustViewETags {
		o = stripRequestETag(o)
	}

	env, err := c.Request(&o)
	if err != nil && NotFound(err) {
		if installErr := c.installDesignDocument(); installErr != nil {
			return nil, installErr
		}
		env, err = c.Request(&o)
	}
	if err != nil {
		return nil, err
	}
	if !c.trustViewETags {
		env.CacheInfo.Headers.ETag = ""
	}
	return env, nil
}

// QueryDesignDocumentStream is the streaming counterpart of
// QueryDesignDocument. The returned StreamHandle is created before any
// request is dispatched; an adapter goroutine peeks at the first
// event and, if it is a NotFound error, installs the document and
// silently redispatches into the same handle. Any other first event
// is passed straight through, as is everything after the first event.
func (c *Client) QueryDesignDocumentStream(viewName string, opts *RequestOptions) (*StreamHandle, error) {
	if c.designDoc == nil {
		return nil, fmt.Errorf("couchdb: client has no design document configured")
	}
	if _, ok := c.designDoc.Views[viewName]; !ok {
		return nil, fmt.Errorf("couchdb: view %q does not exist in the design document", viewName)
	}
	if opts == nil {
		opts = &RequestOptions{}
	}
	o := *opts
	o.Path = fmt.Sprintf("_design/%s/_view/%s", c.fingerprint, viewName)
	if !c.trustViewETags {
		o = stripRequestETag(o)
	}

	out := &StreamHandle{events: make(chan StreamEvent, 8)}
	go c.runDesignStream(&o, out, false)
	return out, nil
}

// runDesignStream drives one attempt of the design-document-aware
// streaming query. reinstalled marks whether this is the retry
// following a triggered install, so at most one reinstall ever
// happens per caller invocation.
func (c *Client) runDesignStream(opts *RequestOptions, out *StreamHandle, reinstalled bool) {
	inner := c.RequestStream(opts)
	out.abortFn = inner.Abort

	state := "WaitingFirst"
	for ev := range inner.Events() {
		if state == "WaitingFirst" {
			state = "PassThrough"
			if ev.Kind == EventError && NotFound(ev.Err) && !reinstalled {
				if installErr := c.installDesignDocument(); installErr != nil {
					out.emit(StreamEvent{Kind: EventError, URL: ev.URL, Err: installErr})
					out.closeEvents()
					return
				}
				go c.runDesignStream(opts, out, true)
				return
			}
			state = "Recovered"
		}
		out.emit(ev)
	}
	out.closeEvents()
}

func stripRequestETag(o RequestOptions) RequestOptions {
	if o.Headers == nil {
		return o
	}
	headers := make(map[string]string, len(o.Headers))
	for k, v := range o.Headers {
		if lower(k) == "if-none-match" {
			continue
		}
		headers[k] = v
	}
	o.Headers = headers
	return o
}

// installDesignDocument PUTs the full design document, treating 409
// Conflict as success (a concurrent installer won the race), then
// kicks off a best-effort asynchronous reap of stale fingerprints.
func (c *Client) installDesignDocument() error {
	_, err := c.Request(&RequestOptions{
		Method: "PUT",
		Path:   "_design/" + c.fingerprint,
		Body:   JSONBody(c.designDoc.body(c.fingerprint)),
	})
	if err != nil && !Conflict(err) {
		return err
	}
	go c.reapStaleDesignDocuments()
	return nil
}

// reapStaleDesignDocuments lists _design/* and deletes every one whose
// id differs from the current fingerprint. It runs detached from the
// caller's request; errors are logged, never surfaced.
func (c *Client) reapStaleDesignDocuments() {
	q := NewQuery().Set("startkey", "_design/").Set("endkey", "_design/~")
	env, err := c.Request(&RequestOptions{
		Method: "GET",
		Path:   "_all_docs",
		Query:  q,
	})
	if err != nil {
		c.logger.Printf("couchdb: design-document reap: listing _all_docs failed: %v", err)
		return
	}
	rows, ok := env.JSON.(map[string]interface{})["rows"].([]interface{})
	if !ok {
		return
	}
	current := "_design/" + c.fingerprint
	for _, r := range rows {
		row, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := row["id"].(string)
		if id == "" || id == current {
			continue
		}
		value, _ := row["value"].(map[string]interface{})
		rev, _ := value["rev"].(string)
		if rev == "" {
			continue
		}
		_, err := c.Request(&RequestOptions{
			Method: "DELETE",
			Path:   id,
			Query:  revQuery(rev),
		})
		if err != nil {
			c.logger.Printf("couchdb: design-document reap: deleting %s failed: %v", id, err)
		}
	}
}
