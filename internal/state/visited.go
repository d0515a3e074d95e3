// Package state holds crawl bookkeeping: the visited set and the capture store.
package state

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// VisitedSet records URLs a crawl has visited or attempted. It only grows.
// A bloom filter answers most negative lookups; an exact map behind it
// removes false positives.
type VisitedSet struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// NewVisitedSet sizes the filter for estimatedItems at a 0.1% false
// positive rate.
func NewVisitedSet(estimatedItems int) *VisitedSet {
	if estimatedItems < 1000 {
		estimatedItems = 1000
	}
	return &VisitedSet{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// Add marks url visited and reports whether it was new.
func (v *VisitedSet) Add(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.exact[url]; exists {
		return false
	}
	v.filter.AddString(url)
	v.exact[url] = struct{}{}
	return true
}

// Has reports whether url was visited.
func (v *VisitedSet) Has(url string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.filter.TestString(url) {
		return false
	}
	_, exists := v.exact[url]
	return exists
}

// Len returns the number of visited URLs.
func (v *VisitedSet) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.exact)
}
