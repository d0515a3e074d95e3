package queue

import (
	"fmt"
	"sync"
	"testing"
)

// =============================================================================
// FIFO Tests
// =============================================================================

func TestFIFO_Order(t *testing.T) {
	q := NewFIFO()
	urls := []string{"https://a.test/", "https://a.test/x", "https://a.test/y"}
	for i, u := range urls {
		if err := q.Push(&Item{URL: u, Depth: i}); err != nil {
			t.Fatalf("Push(%q): %v", u, err)
		}
	}

	for i, want := range urls {
		item, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop() #%d: %v", i, err)
		}
		if item.URL != want {
			t.Errorf("Pop() #%d = %q, want %q", i, item.URL, want)
		}
		if item.Timestamp.IsZero() {
			t.Errorf("Pop() #%d has zero timestamp", i)
		}
	}

	if _, err := q.Pop(); err != ErrQueueEmpty {
		t.Errorf("Pop() on empty = %v, want ErrQueueEmpty", err)
	}
}

func TestFIFO_DuplicateKeepsFirstDepth(t *testing.T) {
	q := NewFIFO()
	q.Push(&Item{URL: "https://a.test/x", Depth: 1})
	q.Push(&Item{URL: "https://a.test/x", Depth: 2})

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	item, _ := q.Pop()
	if item.Depth != 1 {
		t.Errorf("Depth = %d, want 1", item.Depth)
	}

	// Once popped the URL may be queued again.
	q.Push(&Item{URL: "https://a.test/x", Depth: 3})
	if !q.Contains("https://a.test/x") {
		t.Error("Contains() = false after re-push")
	}
}

func TestFIFO_Peek(t *testing.T) {
	q := NewFIFO()
	if _, err := q.Peek(); err != ErrQueueEmpty {
		t.Fatalf("Peek() on empty = %v, want ErrQueueEmpty", err)
	}

	q.Push(&Item{URL: "a"})
	q.Push(&Item{URL: "b"})

	item, err := q.Peek()
	if err != nil || item.URL != "a" {
		t.Fatalf("Peek() = %v, %v; want a", item, err)
	}
	if q.Len() != 2 {
		t.Errorf("Peek() must not consume; Len() = %d", q.Len())
	}
}

func TestFIFO_ClearAndClose(t *testing.T) {
	q := NewFIFO()
	q.Push(&Item{URL: "a"})
	q.Clear()

	if !q.IsEmpty() {
		t.Error("IsEmpty() = false after Clear")
	}
	if q.Contains("a") {
		t.Error("Contains() = true after Clear")
	}

	q.Close()
	if err := q.Push(&Item{URL: "b"}); err != ErrQueueClosed {
		t.Errorf("Push() after Close = %v, want ErrQueueClosed", err)
	}
	if _, err := q.Pop(); err != ErrQueueClosed {
		t.Errorf("Pop() after Close = %v, want ErrQueueClosed", err)
	}
}

func TestFIFO_Compaction(t *testing.T) {
	q := NewFIFO()
	for i := 0; i < 500; i++ {
		q.Push(&Item{URL: fmt.Sprintf("u%d", i)})
	}
	for i := 0; i < 500; i++ {
		item, err := q.Pop()
		if err != nil {
			t.Fatalf("Pop() #%d: %v", i, err)
		}
		if want := fmt.Sprintf("u%d", i); item.URL != want {
			t.Fatalf("Pop() #%d = %q, want %q", i, item.URL, want)
		}
		if i%3 == 0 {
			q.Push(&Item{URL: fmt.Sprintf("late%d", i)})
		}
	}
	if q.Len() != 167 {
		t.Errorf("Len() = %d, want 167", q.Len())
	}
}

func TestFIFO_Concurrent(t *testing.T) {
	q := NewFIFO()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(&Item{URL: fmt.Sprintf("w%d-%d", w, i)})
			}
		}(w)
	}
	wg.Wait()

	if q.Len() != 800 {
		t.Errorf("Len() = %d, want 800", q.Len())
	}
}
