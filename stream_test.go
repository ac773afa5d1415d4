package couchdb

import (
	"strings"
	"testing"
)

func TestParseViewStreamEventSequence(t *testing.T) {
	body := "{\"total_rows\":2,\"offset\":0,\"rows\":[\r\n" +
		"{\"id\":\"a\",\"key\":\"a\",\"value\":1},\r\n" +
		"{\"id\":\"b\",\"key\":\"b\",\"value\":2}\r\n" +
		"]}\n"

	h := &StreamHandle{events: make(chan StreamEvent, 8)}
	done := make(chan error, 1)
	go func() {
		done <- parseViewStream(strings.NewReader(body), h, "http://h/db/_design/x/_view/y")
	}()

	meta := <-h.events
	if meta.Kind != EventMetadata {
		t.Fatalf("first event kind = %v, want EventMetadata", meta.Kind)
	}
	if meta.Metadata.TotalRows() != 2 || meta.Metadata.Offset() != 0 {
		t.Errorf("metadata = %+v, want total_rows=2 offset=0", meta.Metadata)
	}

	row1 := <-h.events
	row2 := <-h.events
	if row1.Kind != EventRow || row2.Kind != EventRow {
		t.Fatalf("row event kinds = %v, %v, want EventRow, EventRow", row1.Kind, row2.Kind)
	}
	ids := map[string]bool{}
	for _, ev := range []StreamEvent{row1, row2} {
		var row struct {
			ID string `json:"id"`
		}
		if err := ev.Row.Decode(&row); err != nil {
			t.Fatal(err)
		}
		ids[row.ID] = true
	}
	if !ids["a"] || !ids["b"] {
		t.Errorf("row ids = %v, want a and b", ids)
	}

	if err := <-done; err != nil {
		t.Fatalf("parseViewStream: %v", err)
	}
}
