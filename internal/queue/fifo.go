package queue

import (
	"sync"
	"time"
)

// FIFO is a thread-safe first-in first-out queue. Items are consumed in
// the order they were pushed, which gives breadth-first traversal when
// children are pushed after their parent is popped.
//
// A URL already waiting in the queue is not pushed twice; the first push
// wins, so the shallowest depth is kept.
type FIFO struct {
	mu     sync.Mutex
	items  []*Item
	head   int
	urlSet map[string]struct{}
	closed bool
}

// NewFIFO creates an empty queue.
func NewFIFO() *FIFO {
	return &FIFO{urlSet: make(map[string]struct{})}
}

// Push appends item to the tail.
func (q *FIFO) Push(item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, exists := q.urlSet[item.URL]; exists {
		return nil
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	q.urlSet[item.URL] = struct{}{}
	q.items = append(q.items, item)
	return nil
}

// Pop removes and returns the head item.
func (q *FIFO) Pop() (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if q.head >= len(q.items) {
		return nil, ErrQueueEmpty
	}

	item := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	delete(q.urlSet, item.URL)

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 64 && q.head*2 > len(q.items) {
		q.items = append([]*Item(nil), q.items[q.head:]...)
		q.head = 0
	}
	return item, nil
}

// Peek returns the head item without removing it.
func (q *FIFO) Peek() (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if q.head >= len(q.items) {
		return nil, ErrQueueEmpty
	}
	return q.items[q.head], nil
}

// Len returns the number of pending items.
func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// IsEmpty reports whether no items are pending.
func (q *FIFO) IsEmpty() bool {
	return q.Len() == 0
}

// Clear drops all pending items.
func (q *FIFO) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
	q.head = 0
	q.urlSet = make(map[string]struct{})
	return nil
}

// Close rejects further operations.
func (q *FIFO) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Contains reports whether url is waiting in the queue.
func (q *FIFO) Contains(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.urlSet[url]
	return exists
}

var _ Queue = (*FIFO)(nil)
