// Package logger holds the process logger setup and the JSONL snapshot log.
package logger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"blackbox/pkg/engine"
	"blackbox/pkg/snapshot"
)

// JSONLWriter writes one JSON object per record.
type JSONLWriter struct {
	enc *json.Encoder
}

type jsonRecord struct {
	TS       string         `json:"ts"`
	Seq      uint64         `json:"seq"`
	DeltaHex string         `json:"delta_hex,omitempty"`
	Fields   map[string]any `json:"fields"`
	Degraded bool           `json:"degraded,omitempty"`
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{enc: enc}
}

// Write encodes a single record.
func (j *JSONLWriter) Write(rec engine.Record) error {
	b := rec.Snapshot.Bytes()
	fields, err := snapshot.DecodeFields(b[:])
	if err != nil {
		return err
	}
	return j.enc.Encode(jsonRecord{
		TS:       rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Seq:      rec.Seq,
		DeltaHex: hex.EncodeToString(rec.Delta),
		Fields:   fields,
		Degraded: rec.Degraded,
	})
}

// Consume writes records from in until it is closed or ctx is done.
func (j *JSONLWriter) Consume(ctx context.Context, in <-chan engine.Record) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-in:
			if !ok {
				return nil
			}
			if err := j.Write(rec); err != nil {
				return err
			}
		}
	}
}
