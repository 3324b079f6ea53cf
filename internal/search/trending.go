package search

import (
	"sort"
	"strings"
	"sync"
)

// TrendingRing keeps the most recent search terms in a fixed-size ring.
// Old terms fall off as new ones arrive, so the trending list reflects
// recent traffic rather than all-time counts.
type TrendingRing struct {
	terms []string
	size  int
	head  int // write position
	tail  int // read position
	full  bool
	mu    sync.RWMutex
}

// TermCount is one trending entry.
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// NewTrendingRing creates a ring holding up to size recent terms.
// Default size is 256.
func NewTrendingRing(size int) *TrendingRing {
	if size <= 0 {
		size = 256
	}
	return &TrendingRing{
		terms: make([]string, size),
		size:  size,
	}
}

// Record adds a search term to the ring, overwriting the oldest entry when
// full. Terms are normalized to lowercase; blanks are ignored.
func (r *TrendingRing) Record(term string) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		// Overwrite: advance tail to skip the oldest term
		r.tail = (r.tail + 1) % r.size
	}
	r.terms[r.head] = term
	r.head = (r.head + 1) % r.size
	if r.head == r.tail {
		r.full = true
	}
}

// Top returns the n most frequent terms currently in the ring, most frequent
// first, ties in lexical order.
func (r *TrendingRing) Top(n int) []TermCount {
	if n <= 0 {
		n = 5
	}

	counts := map[string]int{}
	for _, term := range r.snapshot() {
		counts[term]++
	}

	top := make([]TermCount, 0, len(counts))
	for term, count := range counts {
		top = append(top, TermCount{Term: term, Count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Term < top[j].Term
	})
	if len(top) > n {
		top = top[:n]
	}
	return top
}

// snapshot returns the ring contents oldest-first.
func (r *TrendingRing) snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full && r.head == r.tail {
		return nil
	}

	if r.full && r.head == r.tail {
		out := make([]string, r.size)
		copy(out, r.terms[r.tail:])
		copy(out[r.size-r.tail:], r.terms[:r.head])
		return out
	}

	if r.head > r.tail {
		out := make([]string, r.head-r.tail)
		copy(out, r.terms[r.tail:r.head])
		return out
	}

	// Wrap-around: tail -> end + start -> head
	out := make([]string, (r.size-r.tail)+r.head)
	copy(out, r.terms[r.tail:])
	copy(out[r.size-r.tail:], r.terms[:r.head])
	return out
}

// Len returns the number of terms currently in the ring.
func (r *TrendingRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full && r.head == r.tail {
		return 0
	}
	if r.full && r.head == r.tail {
		return r.size
	}
	if r.head > r.tail {
		return r.head - r.tail
	}
	return (r.size - r.tail) + r.head
}

// Reset clears the ring.
func (r *TrendingRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.head = 0
	r.tail = 0
	r.full = false
}

// Capacity returns the maximum number of terms the ring holds.
func (r *TrendingRing) Capacity() int {
	return r.size
}
