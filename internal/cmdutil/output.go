package cmdutil

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// WriteJSON writes v as indented JSON to w, followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// LineWriter serializes whole lines from concurrent goroutines onto one writer.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// Printf writes one formatted line; a trailing newline is added.
func (l *LineWriter) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.w, format+"\n", args...)
}
