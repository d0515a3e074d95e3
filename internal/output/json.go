package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/PentesterFlow/ReconMapper/internal/explorer"
)

// JSONWriter writes output in JSON format. In stream mode each result or
// error is one JSON line wrapped in a StreamEvent.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	stream bool
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// WriteDocument writes v followed by a newline.
func (j *JSONWriter) WriteDocument(v interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	return j.write(v, j.pretty)
}

// WriteResult writes a single page result in streaming mode.
func (j *JSONWriter) WriteResult(result *explorer.PageResult) error {
	if !j.stream {
		return nil
	}
	return j.writeStreamEvent(StreamEvent{Type: "result", Data: result})
}

// WriteError writes an error in streaming mode.
func (j *JSONWriter) WriteError(err *CrawlError) error {
	if !j.stream {
		return nil
	}
	return j.writeStreamEvent(StreamEvent{Type: "error", Data: err})
}

// writeStreamEvent writes a stream event as one line.
func (j *JSONWriter) writeStreamEvent(event StreamEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	return j.write(event, false)
}

func (j *JSONWriter) write(v interface{}, pretty bool) error {
	var data []byte
	var err error

	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	if _, err := j.writer.Write(data); err != nil {
		return err
	}
	_, err = j.writer.Write([]byte("\n"))
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// StreamEvent represents a streaming output event.
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
