package couchdb

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
)

// Attachment represents a document attachment.
type Attachment struct {
	Name string    // Filename
	Type string    // MIME type of the Body
	MD5  []byte    // MD5 checksum of the Body
	Body io.Reader // The body itself
}

func (db *DB) attPath(docid, name string) string {
	return db.path(docid, name)
}

// AttachmentInfo requests attachment metadata via HEAD. The returned
// Attachment's Body is always nil.
func (db *DB) AttachmentInfo(docid, name, rev string) (*Attachment, error) {
	if docid == "" {
		return nil, fmt.Errorf("couchdb: AttachmentInfo: empty docid")
	}
	if name == "" {
		return nil, fmt.Errorf("couchdb: AttachmentInfo: empty attachment name")
	}

	opts := &RequestOptions{Method: "HEAD", Path: db.attPath(docid, name)}
	if rev != "" {
		opts.Query = revQuery(rev)
	}
	env, err := db.client.Request(opts)
	if err != nil {
		return nil, err
	}
	return attFromHeaders(name, env.Response)
}

// GetAttachment retrieves an attachment. The caller is responsible
// for closing the attachment's Body.
func (db *DB) GetAttachment(docid, name, rev string) (*Attachment, error) {
	if docid == "" {
		return nil, fmt.Errorf("couchdb: GetAttachment: empty docid")
	}
	if name == "" {
		return nil, fmt.Errorf("couchdb: GetAttachment: empty attachment name")
	}

	opts := &RequestOptions{Method: "GET", Path: db.attPath(docid, name)}
	if rev != "" {
		opts.Query = revQuery(rev)
	}
	resp, err := db.client.openStream(opts)
	if err != nil {
		return nil, err
	}
	att, err := attFromHeaders(name, resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	att.Body = resp.Body
	return att, nil
}

// PutAttachment creates or updates an attachment. To create an
// attachment on a non-existing document, pass an empty rev.
func (db *DB) PutAttachment(docid string, att *Attachment, rev string) (newrev string, err error) {
	if docid == "" {
		return rev, fmt.Errorf("couchdb: PutAttachment: empty docid")
	}
	if att.Name == "" {
		return rev, fmt.Errorf("couchdb: PutAttachment: empty attachment name")
	}
	if att.Body == nil {
		return rev, fmt.Errorf("couchdb: PutAttachment: nil attachment body")
	}

	opts := &RequestOptions{
		Method:  "PUT",
		Path:    db.attPath(docid, att.Name),
		Headers: map[string]string{"Content-Type": att.Type},
		Body:    StreamBody(att.Body, -1),
	}
	if rev != "" {
		opts.Query = revQuery(rev)
	}
	env, err := db.client.Request(opts)
	if err != nil {
		return rev, err
	}
	var result struct{ Rev string }
	if err := decodeEnvelope(env, &result); err != nil {
		return rev, fmt.Errorf("couchdb: PutAttachment: couldn't decode rev: %w", err)
	}
	return result.Rev, nil
}

// DeleteAttachment removes an attachment.
func (db *DB) DeleteAttachment(docid, name, rev string) (newrev string, err error) {
	if docid == "" {
		return rev, fmt.Errorf("couchdb: DeleteAttachment: empty docid")
	}
	if name == "" {
		return rev, fmt.Errorf("couchdb: DeleteAttachment: empty name")
	}

	env, err := db.client.Request(&RequestOptions{
		Method: "DELETE",
		Path:   db.attPath(docid, name),
		Query:  revQuery(rev),
	})
	if err != nil {
		return rev, err
	}
	_, newrev, err = decodeIDRev(env)
	return newrev, err
}

func attFromHeaders(name string, resp *http.Response) (*Attachment, error) {
	att := &Attachment{Name: name, Type: resp.Header.Get("Content-Type")}
	md5 := resp.Header.Get("Content-MD5")
	if md5 != "" {
		if len(md5) < 22 || len(md5) > 24 {
			return nil, fmt.Errorf("couchdb: Content-MD5 header has invalid size %d", len(md5))
		}
		sum, err := base64.StdEncoding.DecodeString(md5)
		if err != nil {
			return nil, fmt.Errorf("couchdb: invalid base64 in Content-MD5 header: %w", err)
		}
		att.MD5 = sum
	}
	return att, nil
}
