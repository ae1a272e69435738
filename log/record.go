package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// RewriteRecord is one JSON line of the rewrite event stream.
type RewriteRecord struct {
	Time     time.Time `json:"time"`
	Addr     uint64    `json:"addr"`
	Opcode   string    `json:"opcode"`
	Case     string    `json:"case,omitempty"`
	Strategy string    `json:"strategy,omitempty"`
	ChainLen int       `json:"chain_len,omitempty"`
	Error    string    `json:"error,omitempty"`
}

var fieldOrder = []string{"time", "addr", "opcode", "case", "strategy", "chain_len", "error"}

// Custom JSON marshaling to preserve field order and omit zero/empty values.
func (r RewriteRecord) MarshalJSON() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeField := func(key string, v interface{}) {
		b, _ := json.Marshal(v)
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(buf, `"%s":`, key)
		buf.Write(b)
	}
	for _, f := range fieldOrder {
		switch f {
		case "time":
			writeField(f, r.Time)
		case "addr":
			writeField(f, fmt.Sprintf("%#x", r.Addr))
		case "opcode":
			writeField(f, r.Opcode)
		case "case":
			if r.Case != "" {
				writeField(f, r.Case)
			}
		case "strategy":
			if r.Strategy != "" {
				writeField(f, r.Strategy)
			}
		case "chain_len":
			if r.ChainLen != 0 {
				writeField(f, r.ChainLen)
			}
		case "error":
			if r.Error != "" {
				writeField(f, r.Error)
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RecordWriter writes RewriteRecords as JSON lines.
type RecordWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w}
}

// Emit stamps r with the current time if unset and writes it.
func (rw *RecordWriter) Emit(r RewriteRecord) error {
	if rw == nil || rw.w == nil {
		return nil
	}
	if r.Time.IsZero() {
		r.Time = time.Now().UTC()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	rw.mu.Lock()
	defer rw.mu.Unlock()
	_, err = rw.w.Write(append(b, '\n'))
	return err
}
