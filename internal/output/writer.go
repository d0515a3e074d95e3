// Package output writes run artifacts: JSON documents, streamed page results
// and plain URL lists.
package output

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	reconerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/explorer"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteDocument writes one complete document.
	WriteDocument(v interface{}) error

	// WriteResult writes a single page result (for streaming)
	WriteResult(result *explorer.PageResult) error

	// WriteError writes an error (for streaming)
	WriteError(err *CrawlError) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format   string `json:"format" yaml:"format"` // json | jsonl
	Pretty   bool   `json:"pretty" yaml:"pretty"`
	FilePath string `json:"file_path" yaml:"file_path"`
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case "jsonl":
		return NewJSONWriter(w, false, true)
	default:
		return NewJSONWriter(w, config.Pretty, false)
	}
}

// Open returns a writer for path. An empty path or "-" is stdout, which is
// never closed. Parent directories are created.
func Open(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, reconerrors.NewRenderError(path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, reconerrors.NewRenderError(path, err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// WriteJSONFile writes v as JSON to path, or stdout for "" and "-".
func WriteJSONFile(path string, v interface{}, pretty bool) error {
	w, err := Open(path)
	if err != nil {
		return err
	}
	jw := NewJSONWriter(w, pretty, false)
	if err := jw.WriteDocument(v); err != nil {
		jw.Close()
		return reconerrors.NewRenderError(path, err)
	}
	if err := jw.Close(); err != nil {
		return reconerrors.NewRenderError(path, err)
	}
	return nil
}

// ReadJSONFile decodes the JSON document at path into v.
func ReadJSONFile(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

// WriteLines writes one line per item to path, or stdout for "" and "-".
func WriteLines(path string, lines []string) error {
	w, err := Open(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, line := range lines {
		bw.WriteString(line)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		w.Close()
		return reconerrors.NewRenderError(path, err)
	}
	if err := w.Close(); err != nil {
		return reconerrors.NewRenderError(path, err)
	}
	return nil
}
