// Package stream ingests an agent reply stream: chunked bytes in, ordered
// content accumulation and an optional tool identifier out.
//
// The wire format is newline-delimited JSON records with optional fields
// "response" (a content delta to append) and "tool_used" (replaces the
// last-seen tool identifier). Chunks that do not match the expected form
// are accumulated as literal text instead, so no data is ever silently
// dropped.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

const readBufferSize = 4096

// Update is an incremental snapshot emitted after each processed chunk.
// Content is the full accumulation so far, not a delta, and MessageID is
// stable across updates so the sink can overwrite in place.
type Update struct {
	MessageID string
	Content   string
	ToolUsed  string
}

// Result is the finalized accumulation returned when the stream ends.
type Result struct {
	Content  string
	ToolUsed string
}

// record is one self-describing line of the wire protocol.
type record struct {
	Response *string `json:"response"`
	ToolUsed *string `json:"tool_used"`
}

// Ingestor consumes a single in-flight reply stream. It is not safe for
// concurrent use; create one per request.
type Ingestor struct {
	messageID string
	onUpdate  func(Update)

	content  []byte
	toolUsed string

	// carry holds the trailing bytes of the last chunk that did not end in
	// a newline. A record split across chunk boundaries is completed here
	// before parsing, which also keeps multi-byte UTF-8 sequences intact.
	carry []byte
}

// New creates an ingestor for one reply stream. onUpdate may be nil;
// otherwise it is invoked synchronously after each processed chunk, in
// arrival order.
func New(messageID string, onUpdate func(Update)) *Ingestor {
	return &Ingestor{
		messageID: messageID,
		onUpdate:  onUpdate,
	}
}

// Run reads r until end-of-data or cancellation and returns the finalized
// accumulation. The ctx is checked before every read; pass a body tied to
// the same ctx so an in-flight read is interrupted promptly on cancel.
//
// Read failures are transport errors; lines that fail to parse are not
// errors and fall back to literal accumulation.
func (ing *Ingestor) Run(ctx context.Context, r io.Reader) (Result, error) {
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			return ing.result(), ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			ing.consume(buf[:n])
			ing.emit()
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ing.result(), ctx.Err()
			}
			return ing.result(), fmt.Errorf("stream read: %w", err)
		}
	}

	ing.flush()
	ing.emit()

	return ing.result(), nil
}

// consume appends a chunk to the carry buffer and processes every
// completed line. Bytes after the last newline stay buffered for the next
// chunk.
func (ing *Ingestor) consume(chunk []byte) {
	ing.carry = append(ing.carry, chunk...)

	idx := bytes.LastIndexByte(ing.carry, '\n')
	if idx < 0 {
		return
	}

	batch := ing.carry[:idx+1]
	rest := ing.carry[idx+1:]
	ing.applyBatch(batch)
	ing.carry = append([]byte(nil), rest...)
}

// applyBatch parses a run of completed lines. If any line fails to parse,
// the entire batch is appended as literal content instead; the batch is
// the all-or-nothing unit, matching per-chunk fallback semantics.
func (ing *Ingestor) applyBatch(batch []byte) {
	var records []record
	for _, line := range bytes.Split(batch, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			ing.content = append(ing.content, batch...)
			return
		}
		records = append(records, rec)
	}

	for _, rec := range records {
		if rec.Response != nil {
			ing.content = append(ing.content, *rec.Response...)
		}
		if rec.ToolUsed != nil {
			ing.toolUsed = *rec.ToolUsed
		}
	}
}

// flush drains any buffered partial line at end-of-data.
func (ing *Ingestor) flush() {
	if len(bytes.TrimSpace(ing.carry)) == 0 {
		return
	}
	carry := ing.carry
	ing.carry = nil

	var rec record
	if err := json.Unmarshal(carry, &rec); err != nil {
		ing.content = append(ing.content, carry...)
		return
	}
	if rec.Response != nil {
		ing.content = append(ing.content, *rec.Response...)
	}
	if rec.ToolUsed != nil {
		ing.toolUsed = *rec.ToolUsed
	}
}

func (ing *Ingestor) emit() {
	if ing.onUpdate == nil {
		return
	}
	ing.onUpdate(Update{
		MessageID: ing.messageID,
		Content:   string(ing.content),
		ToolUsed:  ing.toolUsed,
	})
}

func (ing *Ingestor) result() Result {
	return Result{
		Content:  string(ing.content),
		ToolUsed: ing.toolUsed,
	}
}
