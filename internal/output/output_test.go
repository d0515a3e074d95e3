package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	reconerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/explorer"
	"github.com/PentesterFlow/ReconMapper/internal/metrics"
)

// mockFlusher implements io.Writer with Flush support
type mockFlusher struct {
	bytes.Buffer
	flushed bool
}

func (m *mockFlusher) Flush() error {
	m.flushed = true
	return nil
}

// mockCloser implements io.Writer with Close support
type mockCloser struct {
	bytes.Buffer
	closed int
}

func (m *mockCloser) Close() error {
	m.closed++
	return nil
}

// mockWriteError simulates write errors
type mockWriteError struct {
	err error
}

func (m *mockWriteError) Write(p []byte) (n int, err error) {
	return 0, m.err
}

// =============================================================================
// JSONWriter Tests
// =============================================================================

func TestJSONWriter_WriteDocument(t *testing.T) {
	tests := []struct {
		name   string
		pretty bool
		want   string
	}{
		{"compact", false, "{\"start_url\":\"https://a.test/\",\"discovered\":[\"https://a.test/\"]}\n"},
		{"pretty", true, "{\n  \"start_url\": \"https://a.test/\",\n  \"discovered\": [\n    \"https://a.test/\"\n  ]\n}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewJSONWriter(&buf, tt.pretty, false)
			doc := CrawlResult{StartURL: "https://a.test/", Discovered: []string{"https://a.test/"}}
			if err := w.WriteDocument(doc); err != nil {
				t.Fatalf("WriteDocument: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestJSONWriter_Stream(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, true, true)

	if err := w.WriteResult(&explorer.PageResult{URL: "https://a.test/", Title: "Home"}); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
	if err := w.WriteError(&CrawlError{URL: "https://a.test/x", Kind: "navigation", Error: "timeout"}); err != nil {
		t.Fatalf("WriteError: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (stream events stay on one line): %q", len(lines), buf.String())
	}

	var ev struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if ev.Type != "result" || !strings.Contains(string(ev.Data), `"title":"Home"`) {
		t.Errorf("first event = %s", lines[0])
	}
	if !strings.Contains(lines[1], `"type":"error"`) {
		t.Errorf("second event = %s", lines[1])
	}
}

func TestJSONWriter_NonStreamIgnoresEvents(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, false, false)
	w.WriteResult(&explorer.PageResult{URL: "https://a.test/"})
	w.WriteError(&CrawlError{URL: "https://a.test/"})

	if buf.Len() != 0 {
		t.Errorf("non-stream writer wrote %q", buf.String())
	}
}

func TestJSONWriter_WriteError(t *testing.T) {
	want := errors.New("disk full")
	w := NewJSONWriter(&mockWriteError{err: want}, false, false)

	if err := w.WriteDocument(map[string]int{"a": 1}); !errors.Is(err, want) {
		t.Errorf("WriteDocument() = %v, want %v", err, want)
	}
}

func TestJSONWriter_FlushClose(t *testing.T) {
	f := &mockFlusher{}
	if err := NewJSONWriter(f, false, false).Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !f.flushed {
		t.Error("Flush should reach the underlying writer")
	}

	c := &mockCloser{}
	w := NewJSONWriter(c, false, true)
	w.Close()
	w.Close()
	if c.closed != 1 {
		t.Errorf("closed %d times, want 1", c.closed)
	}
	w.WriteDocument("late")
	if c.Len() != 0 {
		t.Error("closed writer should drop writes")
	}
}

func TestJSONWriter_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, false, true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.WriteResult(&explorer.PageResult{URL: "https://a.test/"})
		}()
	}
	wg.Wait()

	if n := strings.Count(buf.String(), "\n"); n != 50 {
		t.Errorf("got %d lines, want 50", n)
	}
}

func TestNewWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, Config{Format: "jsonl"})
	w.WriteResult(&explorer.PageResult{URL: "https://a.test/"})
	if buf.Len() == 0 {
		t.Error("jsonl writer should stream results")
	}

	buf.Reset()
	w = NewWriter(&buf, Config{Format: "json"})
	w.WriteResult(&explorer.PageResult{URL: "https://a.test/"})
	if buf.Len() != 0 {
		t.Error("json writer should not stream results")
	}
}

// =============================================================================
// File Helper Tests
// =============================================================================

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "crawl.json")
	doc := CrawlResult{StartURL: "https://a.test/", Discovered: []string{"https://a.test/", "https://a.test/x"}}

	if err := WriteJSONFile(path, doc, true); err != nil {
		t.Fatalf("WriteJSONFile: %v", err)
	}

	var got CrawlResult
	if err := ReadJSONFile(path, &got); err != nil {
		t.Fatalf("ReadJSONFile: %v", err)
	}
	if got.StartURL != doc.StartURL || len(got.Discovered) != 2 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestWriteJSONFile_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := WriteJSONFile(filepath.Join(blocker, "out.json"), CrawlResult{}, false)
	if reconerrors.KindOf(err) != reconerrors.Render {
		t.Errorf("kind = %v, want render (err=%v)", reconerrors.KindOf(err), err)
	}
}

func TestWriteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := WriteLines(path, []string{"https://a.test/", "https://a.test/x"}); err != nil {
		t.Fatalf("WriteLines: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "https://a.test/\nhttps://a.test/x\n" {
		t.Errorf("content = %q", data)
	}
}

func TestStatisticsFrom(t *testing.T) {
	m := metrics.New()
	m.RecordPageVisited(time.Millisecond)
	m.RecordNavigationFailure()
	m.RecordExploration(metrics.ExplorationCounts{Forms: 2, APIPatterns: 3})
	m.RecordIngest(5)

	stats := StatisticsFrom(m.Snapshot())
	if stats.VisitedPages != 1 || stats.NavigationFailures != 1 || stats.Forms != 2 || stats.Endpoints != 5 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.FailureRate != 0.5 {
		t.Errorf("FailureRate = %v, want 0.5", stats.FailureRate)
	}
	if (StatisticsFrom(nil) != Statistics{}) {
		t.Error("nil snapshot should give zero statistics")
	}
}
