// Package queue provides the crawl frontier.
package queue

import (
	"errors"
	"time"
)

var (
	// ErrQueueEmpty is returned by Pop and Peek on an empty queue.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("queue is closed")
)

// Item is one pending visit.
type Item struct {
	URL       string
	Depth     int
	ParentURL string
	Timestamp time.Time
}

// Queue defines the frontier operations used by the crawler.
type Queue interface {
	Push(item *Item) error
	Pop() (*Item, error)
	Peek() (*Item, error)
	Len() int
	IsEmpty() bool
	Clear() error
	Close() error
	Contains(url string) bool
}
