package couchdb

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bitly/go-simplejson"
)

// StreamEventKind classifies a StreamEvent.
type StreamEventKind int

const (
	EventRequest StreamEventKind = iota
	EventResponse
	EventMetadata
	EventRow
	EventEnd
	EventError
)

// ViewMetadata is the preamble of a CouchDB view response
// ({"total_rows":N,"offset":K,...}), decoded loosely via go-simplejson
// since CouchDB-alike servers attach arbitrary extra keys here (e.g.
// reduce results, bookmarks).
type ViewMetadata struct {
	raw *simplejson.Json
}

// TotalRows returns the "total_rows" field, or 0 if absent.
func (m *ViewMetadata) TotalRows() int64 {
	if m.raw == nil {
		return 0
	}
	return m.raw.Get("total_rows").MustInt64(0)
}

// Offset returns the "offset" field, or 0 if absent.
func (m *ViewMetadata) Offset() int64 {
	if m.raw == nil {
		return 0
	}
	return m.raw.Get("offset").MustInt64(0)
}

// Raw exposes the full decoded metadata object for servers that
// attach additional fields.
func (m *ViewMetadata) Raw() *simplejson.Json { return m.raw }

// ViewRow is one element of the view's "rows"/"results" array.
type ViewRow struct {
	raw json.RawMessage
}

// Decode unmarshals the row into v.
func (r *ViewRow) Decode(v interface{}) error {
	return json.Unmarshal(r.raw, v)
}

// Raw returns the row's undecoded JSON bytes.
func (r *ViewRow) Raw() json.RawMessage { return r.raw }

// StreamEvent is one event in a StreamHandle's sequence:
// request -> response -> metadata? -> row* -> (end | error).
type StreamEvent struct {
	Kind     StreamEventKind
	URL      string
	Response *ResponseInfo
	Metadata *ViewMetadata
	Row      *ViewRow
	Err      error
}

// ResponseInfo carries the non-body parts of the HTTP response that
// opened the stream.
type ResponseInfo struct {
	StatusCode int
	CacheInfo  CacheInfo
}

// StreamHandle is returned by Client.RequestStream. It delivers
// events in order and exposes Abort for cancellation.
//
// Invariant: at most one terminal (end/error) event is ever sent, and
// after it no further events fire; Abort is idempotent.
type StreamHandle struct {
	events  chan StreamEvent
	abortFn func()
	aborted int32
	once    sync.Once
}

// Events returns the channel of events for this request.
func (h *StreamHandle) Events() <-chan StreamEvent {
	return h.events
}

// Abort cancels the in-flight request and suppresses further events.
// It is idempotent.
func (h *StreamHandle) Abort() {
	if atomic.CompareAndSwapInt32(&h.aborted, 0, 1) {
		if h.abortFn != nil {
			h.abortFn()
		}
	}
}

func (h *StreamHandle) isAborted() bool {
	return atomic.LoadInt32(&h.aborted) == 1
}

func (h *StreamHandle) emit(ev StreamEvent) {
	if h.isAborted() {
		return
	}
	h.events <- ev
}

func (h *StreamHandle) closeEvents() {
	h.once.Do(func() { close(h.events) })
}

// RequestStream issues opts with streaming row delivery, forcing the
// retry budget to zero and returning a StreamHandle whose events are
// fed by the streaming row parser.
func (c *Client) RequestStream(opts *RequestOptions) *StreamHandle {
	if opts == nil {
		opts = &RequestOptions{}
	}
	o := *opts
	o.Stream = true

	ctx, cancel := context.WithCancel(context.Background())
	h := &StreamHandle{events: make(chan StreamEvent, 8), abortFn: cancel}
	go c.runStream(ctx, &o, h)
	return h
}

func (c *Client) runStream(ctx context.Context, opts *RequestOptions, h *StreamHandle) {
	defer h.closeEvents()

	resp, _, reqURL, err := c.dispatchCtx(ctx, opts)
	h.emit(StreamEvent{Kind: EventRequest, URL: reqURL})
	if err != nil {
		c.fireFailure(reqURL, opts, err, 0)
		h.emit(StreamEvent{Kind: EventError, URL: reqURL, Err: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		herr := parseHTTPError(reqURL, resp)
		c.fireFailure(reqURL, opts, herr, 0)
		h.emit(StreamEvent{Kind: EventError, URL: reqURL, Err: herr})
		return
	}

	info := &ResponseInfo{StatusCode: resp.StatusCode}
	info.CacheInfo.Headers = extractCacheHeaders(resp.Header)
	if resp.StatusCode == 304 {
		info.CacheInfo.NotModified = true
	}
	h.emit(StreamEvent{Kind: EventResponse, URL: reqURL, Response: info})

	if info.CacheInfo.NotModified {
		c.fireSuccess(reqURL, opts, resp.StatusCode)
		h.emit(StreamEvent{Kind: EventEnd, URL: reqURL})
		return
	}

	if err := parseViewStream(resp.Body, h, reqURL); err != nil {
		c.fireFailure(reqURL, opts, err, 0)
		h.emit(StreamEvent{Kind: EventError, URL: reqURL, Err: err})
		return
	}
	c.fireSuccess(reqURL, opts, resp.StatusCode)
	h.emit(StreamEvent{Kind: EventEnd, URL: reqURL})
}

// Streaming row parser regexes: one matches the metadata object on
// the line that opens the rows array, the other matches a metadata
// object trailing the array on its closing line.
var (
	openingLineRE  = regexp.MustCompile(`^\{(.*)"(?:rows|results)":\s*\[(?:\]\}|)$`)
	trailingLineRE = regexp.MustCompile(`^(".*)\}$`)
)

// parseViewStream consumes body as UTF-8 text split on newlines,
// emitting one metadata event per metadata-bearing line (opening or
// trailing form; normally just one) and one row event per data line,
// in a single pass using constant memory beyond the current line.
func parseViewStream(body io.Reader, h *StreamHandle, reqURL string) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if h.isAborted() {
			return nil
		}
		line := scanner.Text()

		if m := openingLineRE.FindStringSubmatch(line); m != nil {
			prefix := strings.TrimRight(m[1], ",")
			if prefix != "" {
				meta, err := decodeMetadata("{" + prefix + "}")
				if err != nil {
					return wrapRowError(line, err)
				}
				h.emit(StreamEvent{Kind: EventMetadata, URL: reqURL, Metadata: meta})
			}
			continue
		}
		if m := trailingLineRE.FindStringSubmatch(line); m != nil {
			meta, err := decodeMetadata("{" + m[1] + "}")
			if err != nil {
				return wrapRowError(line, err)
			}
			h.emit(StreamEvent{Kind: EventMetadata, URL: reqURL, Metadata: meta})
			continue
		}
		switch line {
		case "]}", "", "],":
			continue
		}

		trimmed := strings.TrimSuffix(line, ",")
		if trimmed == "" {
			continue
		}
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			ierr := &InternalServerError{Message: fmt.Sprintf("couldn't parse view row: %q", line), Err: err}
			return ierr
		}
		h.emit(StreamEvent{Kind: EventRow, URL: reqURL, Row: &ViewRow{raw: raw}})
	}
	return scanner.Err()
}

func decodeMetadata(objJSON string) (*ViewMetadata, error) {
	js, err := simplejson.NewJson([]byte(objJSON))
	if err != nil {
		return nil, err
	}
	return &ViewMetadata{raw: js}, nil
}

func wrapRowError(line string, err error) error {
	return &InternalServerError{Message: fmt.Sprintf("couldn't parse view metadata: %q", line), Err: err}
}
