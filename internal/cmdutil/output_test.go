package cmdutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestWriteJSON_Indented(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, map[string]any{"x": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, want := buf.String(), "{\n  \"x\": 1\n}\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLineWriter_ConcurrentLinesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	lw := NewLineWriter(&buf)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lw.Printf("[%s] %s", "message", "hello")
		}()
	}
	wg.Wait()
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 20 {
		t.Fatalf("expected 20 lines, got %d", len(lines))
	}
	for _, l := range lines {
		if l != "[message] hello" {
			t.Fatalf("torn line %q", l)
		}
	}
}
