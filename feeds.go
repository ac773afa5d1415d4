package couchdb

import (
	"encoding/json"
	"fmt"
	"io"
)

// DBUpdatesFeed is an iterator over the _db_updates feed. This feed
// receives an event whenever any database is created, updated or
// deleted. On each call to Next, the event fields are updated for the
// current event:
//
//	feed, err := client.DBUpdates(nil)
//	...
//	for feed.Next() {
//		fmt.Printf("changed: %s %s", feed.Event, feed.DB)
//	}
//	err = feed.Err()
type DBUpdatesFeed struct {
	Event string      `json:"type"`    // "created" | "updated" | "deleted"
	DB    string      `json:"db_name"` // event database name
	Seq   interface{} `json:"seq"`     // db update sequence of the event
	OK    bool        `json:"ok"`      // event operation status (deprecated)

	end  bool
	err  error
	conn io.Closer
	dec  *json.Decoder
}

// DBUpdates opens the _db_updates feed in continuous mode. opts may
// be nil; any query it carries is replaced by feed=continuous, so no
// other query parameters are sent.
func (c *Client) DBUpdates(opts *RequestOptions) (*DBUpdatesFeed, error) {
	o := cloneOptions(opts)
	o.Path = "_db_updates"
	feedQuery := RawQuery("feed=continuous")
	o.Query = &feedQuery

	resp, err := c.openStream(o)
	if err != nil {
		return nil, err
	}
	return &DBUpdatesFeed{conn: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}

// Next decodes the next event in the feed. It returns false once the
// feed has ended or an error has occurred.
func (f *DBUpdatesFeed) Next() bool {
	if f.end {
		return false
	}
	f.Event, f.DB, f.Seq, f.OK = "", "", nil, false
	if f.err = f.dec.Decode(f); f.err != nil {
		if f.err == io.EOF {
			f.err = nil
		}
		f.Close()
	}
	return !f.end
}

// Err returns the last error that occurred during iteration.
func (f *DBUpdatesFeed) Err() error { return f.err }

// Close terminates the feed's underlying connection.
func (f *DBUpdatesFeed) Close() error {
	f.end = true
	return f.conn.Close()
}

// ChangesFeed is an iterator over a database's _changes feed. On each
// call to Next, the event fields are updated for the current event:
//
//	feed, err := db.Changes(nil)
//	...
//	for feed.Next() {
//		fmt.Printf("changed: %s", feed.ID)
//	}
//	err = feed.Err()
type ChangesFeed struct {
	// DB is the database this feed belongs to.
	DB *DB `json:"-"`

	// ID is the document ID of the current event.
	ID string `json:"id"`

	// Deleted is true when the event represents a deleted document.
	Deleted bool `json:"deleted"`

	// Seq is the update sequence number of the current event. This is
	// usually a string, but may be a number for older servers. For
	// poll-style feeds ("normal", "longpoll") this is set to the
	// last_seq value after all rows have been read.
	Seq interface{} `json:"seq"`

	// Pending is the count of remaining items in the feed, set for
	// poll-style feeds after the last element has been processed.
	Pending int64 `json:"pending"`

	// Changes lists the document's leaf revisions.
	Changes []struct {
		Rev string `json:"rev"`
	} `json:"changes"`

	// Doc holds the document, populated only when the "include_docs"
	// option is set.
	Doc json.RawMessage `json:"doc"`

	end    bool
	err    error
	conn   io.Closer
	parser func() error
}

type changesRow struct {
	ID      string      `json:"id"`
	Deleted bool        `json:"deleted"`
	Seq     interface{} `json:"seq"`
	Changes []struct {
		Rev string `json:"rev"`
	} `json:"changes"`
	Doc     json.RawMessage `json:"doc"`
	LastSeq bool            `json:"last_seq"`
}

func (d *changesRow) apply(f *ChangesFeed) error {
	f.Seq = d.Seq
	f.ID = d.ID
	f.Deleted = d.Deleted
	f.Doc = d.Doc
	f.Changes = d.Changes
	return nil
}

func (f *ChangesFeed) reset() {
	f.ID, f.Deleted, f.Changes, f.Doc = "", false, nil, nil
}

// Changes opens the _changes feed of the database. This feed receives
// an event whenever a document is created, updated or deleted.
//
// Both poll-style and continuous feeds are supported. The default
// feed mode is "normal", which retrieves changes up to the current
// point and then closes. For a never-ending feed, set opts.Query's
// "feed" key to "continuous".
func (db *DB) Changes(opts *RequestOptions) (*ChangesFeed, error) {
	o := cloneOptions(opts)
	o.Path = db.path("_changes")

	resp, err := db.client.openStream(o)
	if err != nil {
		return nil, err
	}
	feed := &ChangesFeed{DB: db, conn: resp.Body}

	feedMode, _ := o.Query.get("feed")
	switch feedMode {
	case "", "normal", "longpoll":
		feed.parser, err = feed.pollParser(resp.Body)
		if err != nil {
			feed.Close()
			return nil, err
		}
	case "continuous":
		feed.parser = feed.contParser(resp.Body)
	default:
		err := fmt.Errorf(`couchdb: unsupported value for option "feed": %q`, feedMode)
		feed.Close()
		return nil, err
	}
	return feed, nil
}

// Next decodes the next event. It returns false once the feed has
// ended or an error has occurred.
func (f *ChangesFeed) Next() bool {
	if f.end {
		return false
	}
	if f.err = f.parser(); f.err != nil || f.end {
		f.Close()
	}
	return !f.end
}

// Err returns the last error that occurred during iteration.
func (f *ChangesFeed) Err() error { return f.err }

// Close terminates the feed's underlying connection. If Next returned
// false, the feed has already been closed.
func (f *ChangesFeed) Close() error {
	f.end = true
	return f.conn.Close()
}

// ChangesRevs returns the rev list of the current result row.
func (f *ChangesFeed) ChangesRevs() []string {
	revs := make([]string, len(f.Changes))
	for i, x := range f.Changes {
		revs[i] = x.Rev
	}
	return revs
}

func (f *ChangesFeed) contParser(r io.Reader) func() error {
	dec := json.NewDecoder(r)
	return func() error {
		var row changesRow
		if err := dec.Decode(&row); err != nil {
			return err
		}
		if err := row.apply(f); err != nil {
			return err
		}
		if row.LastSeq {
			f.end = true
		}
		return nil
	}
}

func (f *ChangesFeed) pollParser(r io.Reader) (func() error, error) {
	dec := json.NewDecoder(r)
	if err := expectTokens(dec, json.Delim('{'), "results", json.Delim('[')); err != nil {
		return nil, err
	}

	next := func() error {
		f.reset()

		if dec.More() {
			var row changesRow
			if err := dec.Decode(&row); err != nil {
				return err
			}
			return row.apply(f)
		}

		if err := expectTokens(dec, json.Delim(']')); err != nil {
			return err
		}
		f.end = true
		for dec.More() {
			key, err := dec.Token()
			if err != nil {
				return err
			}
			switch key {
			case "last_seq":
				if err := dec.Decode(&f.Seq); err != nil {
					return fmt.Errorf(`can't decode "last_seq" feed key: %v`, err)
				}
			case "pending":
				if err := dec.Decode(&f.Pending); err != nil {
					return fmt.Errorf(`can't decode "pending" feed key: %v`, err)
				}
			default:
				if err := skipValue(dec); err != nil {
					return fmt.Errorf(`can't skip over %q feed key: %v`, key, err)
				}
			}
		}
		return nil
	}
	return next, nil
}

// expectTokens verifies that the given tokens are present in the
// input stream, in order.
func expectTokens(dec *json.Decoder, toks ...json.Token) error {
	for _, tok := range toks {
		tokin, err := dec.Token()
		if err != nil {
			return err
		}
		if tokin != tok {
			return fmt.Errorf("unexpected token: found %v, want %v", tokin, tok)
		}
	}
	return nil
}

// skipValue skips over the next JSON value in the decoder.
func skipValue(dec *json.Decoder) error {
	firstDelim, err := nextDelim(dec)
	if err != nil || firstDelim == 0 {
		return err
	}
	nesting := 1
	for nesting > 0 {
		d, err := nextDelim(dec)
		if err != nil {
			return err
		}
		switch d {
		case '{', '[':
			nesting++
		case '}', ']':
			nesting--
		}
	}
	return nil
}

func nextDelim(dec *json.Decoder) (json.Delim, error) {
	tok, err := dec.Token()
	if err != nil {
		return 0, err
	}
	d, _ := tok.(json.Delim)
	return d, nil
}

