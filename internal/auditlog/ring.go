// Package auditlog keeps the rolling audit trail of a run.
package auditlog

import (
	"sync"
	"time"
)

/*
 * Fixed-capacity, overwrite-oldest log store.
 *
 * A fixed slice of capacity C and a write cursor. Append writes at the
 * cursor and advances it modulo C; once the cursor wraps the buffer is
 * full and every append overwrites the oldest entry. Read copies [cursor..C)
 * then [0..cursor) so callers always see oldest-to-newest order.
 *
 * Read takes only the read lock and copies, so a slow reader never holds up
 * a writer for longer than the copy.
 */

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 1000

// Category classifies an entry.
type Category string

const (
	CategoryError     Category = "ERROR"
	CategoryResponse  Category = "RESPONSE"
	CategoryCondition Category = "CONDITION"
	CategoryBroadcast Category = "BROADCAST"
	CategoryExecution Category = "EXECUTION"
)

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryError, CategoryResponse, CategoryCondition, CategoryBroadcast, CategoryExecution:
		return c, true
	default:
		return "", false
	}
}

// Entry is one audit record.
type Entry struct {
	Category  Category  `json:"category"`
	Message   string    `json:"message"`
	Payload   string    `json:"payload,omitempty"` // serialized auxiliary data
	Timestamp time.Time `json:"timestamp"`
}

// Ring is a fixed-capacity circular buffer of entries.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewRing creates a ring holding at most capacity entries.
// Non-positive capacity falls back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Append stores e, overwriting the oldest entry when full. O(1).
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Read returns entries oldest first. With categories given, only entries in
// one of them are returned.
func (r *Ring) Read(categories ...Category) []Entry {
	r.mu.RLock()
	var ordered []Entry
	if r.full {
		ordered = make([]Entry, 0, len(r.entries))
		ordered = append(ordered, r.entries[r.next:]...)
	} else {
		ordered = make([]Entry, 0, r.next)
	}
	ordered = append(ordered, r.entries[:r.next]...)
	r.mu.RUnlock()

	if len(categories) == 0 {
		return ordered
	}
	filtered := ordered[:0]
	for _, e := range ordered {
		for _, c := range categories {
			if e.Category == c {
				filtered = append(filtered, e)
				break
			}
		}
	}
	return filtered
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}

// Cap returns the configured capacity.
func (r *Ring) Cap() int {
	return len(r.entries)
}
