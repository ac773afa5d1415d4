package couchdb

import "encoding/json"

// BulkDocsResult is the per-document outcome of a BulkDocs call.
type BulkDocsResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	OK     bool   `json:"ok,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Failed reports whether this result represents a per-document
// failure (as opposed to a successful write).
func (r BulkDocsResult) Failed() bool { return r.Error != "" }

// BulkDocs submits many documents in a single _bulk_docs request. When
// newEdits is false, the server stores the documents' revisions
// exactly as given instead of generating new ones - used for
// replication-style writes.
func (db *DB) BulkDocs(docs []interface{}, newEdits bool) ([]BulkDocsResult, error) {
	body := map[string]interface{}{"docs": docs}
	if !newEdits {
		body["new_edits"] = false
	}
	env, err := db.client.Request(&RequestOptions{
		Method: "POST",
		Path:   db.path("_bulk_docs"),
		Body:   JSONBody(body),
	})
	if err != nil {
		return nil, err
	}
	var results []BulkDocsResult
	if err := decodeEnvelope(env, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// bulkID names a single document by id, used for the _bulk_get
// request shape.
type bulkID struct {
	ID string `json:"id"`
}

// BulkGet requests several documents by id in a single _bulk_get call.
type BulkGet struct {
	Docs []bulkID `json:"docs"`
}

type errorWrapper struct {
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type docWrapper struct {
	OK    *json.RawMessage `json:"ok"`
	Error *errorWrapper    `json:"error"`
}

type bulkRes struct {
	ID   string       `json:"id"`
	Docs []docWrapper `json:"docs"`
}

type bulkResp struct {
	Results []bulkRes `json:"results"`
}

// BulkGetResult is one decoded document (or error) returned from a
// BulkGetDocs call.
type BulkGetResult struct {
	ID    string
	Doc   json.RawMessage
	Error string
}

// BulkGetDocs fetches several documents by id in one round trip via
// _bulk_get.
func (db *DB) BulkGetDocs(ids []string) ([]BulkGetResult, error) {
	req := BulkGet{Docs: make([]bulkID, len(ids))}
	for i, id := range ids {
		req.Docs[i].ID = id
	}
	env, err := db.client.Request(&RequestOptions{
		Method: "POST",
		Path:   db.path("_bulk_get"),
		Body:   JSONBody(req),
	})
	if err != nil {
		return nil, err
	}
	var resp bulkResp
	if err := decodeEnvelope(env, &resp); err != nil {
		return nil, err
	}

	out := make([]BulkGetResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		for _, d := range r.Docs {
			switch {
			case d.OK != nil:
				out = append(out, BulkGetResult{ID: r.ID, Doc: json.RawMessage(*d.OK)})
			case d.Error != nil:
				out = append(out, BulkGetResult{ID: r.ID, Error: d.Error.Error})
			}
		}
	}
	return out, nil
}
