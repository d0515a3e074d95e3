package interceptor

import (
	"strings"
	"sync"
)

// Buffer is the Go-owned network log. Entries stay in issue order.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	index   map[int]int // seq -> position in entries
	nextSeq int
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{index: make(map[int]int)}
}

// apply folds one in-page event into the log. Completions for entries that
// were already drained are dropped.
func (b *Buffer) apply(ev event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.Seq >= b.nextSeq {
		b.nextSeq = ev.Seq + 1
	}

	switch ev.Kind {
	case "request":
		if _, dup := b.index[ev.Seq]; dup {
			return
		}
		b.index[ev.Seq] = len(b.entries)
		b.entries = append(b.entries, Entry{
			Seq:            ev.Seq,
			Method:         strings.ToUpper(ev.Method),
			URL:            ev.URL,
			RequestHeaders: ev.RequestHeaders,
			RequestBody:    ev.RequestBody,
			Timestamp:      ev.Timestamp,
		})
		if b.entries[len(b.entries)-1].RequestHeaders == nil {
			b.entries[len(b.entries)-1].RequestHeaders = Headers{}
		}
	case "response":
		i, ok := b.index[ev.Seq]
		if !ok {
			return
		}
		e := &b.entries[i]
		status := ev.Status
		e.Status = &status
		e.StatusText = ev.StatusText
		e.ResponseHeaders = ev.ResponseHeaders
		if e.ResponseHeaders == nil {
			e.ResponseHeaders = Headers{}
		}
		if ev.ResponseBody != nil {
			e.ResponseBody = *ev.ResponseBody
		}
		e.CompletedAt = ev.CompletedAt
	case "error":
		i, ok := b.index[ev.Seq]
		if !ok {
			return
		}
		e := &b.entries[i]
		e.Error = ev.Error
		if e.Error == "" {
			e.Error = "request failed"
		}
		e.CompletedAt = ev.CompletedAt
	}
}

// Peek returns a copy of all entries, pending ones included.
func (b *Buffer) Peek() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.clone()
	}
	return out
}

// Drain returns all entries and clears the buffer.
func (b *Buffer) Drain() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.entries
	b.entries = nil
	b.index = make(map[int]int)
	if out == nil {
		out = []Entry{}
	}
	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// NextSeq returns the first sequence number not yet observed. Reinstalling
// after a navigation continues from here so seqs stay unique.
func (b *Buffer) NextSeq() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq
}
