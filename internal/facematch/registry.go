// Package facematch keeps the in-process registry of faces that already went
// through the voting pipeline and answers "have we seen this face?" queries.
//
// The registry is advisory. It only knows faces processed by this process (or
// restored from the receipt store); the ledger's per-identifier voter record
// remains the authoritative duplicate check.
package facematch

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/kozaktomas/face-ballot/internal/faceid"
)

// DefaultThreshold is the euclidean distance under which two dlib/face-api
// descriptors are treated as the same person.
const DefaultThreshold = 0.6

var (
	// ErrInFlight is returned by Reserve when the same face is already being voted.
	ErrInFlight = errors.New("a vote for this face is already being processed")

	// ErrConfirmedMatch is returned by Reserve when a similar face was
	// confirmed after the caller last consulted the registry.
	ErrConfirmedMatch = errors.New("a similar face has already voted")
)

// State tracks whether the ledger confirmed the vote behind an entry.
type State int

const (
	StatePending State = iota
	StateConfirmed
)

func (s State) String() string {
	if s == StateConfirmed {
		return "confirmed"
	}
	return "pending"
}

// Entry is a registered face.
type Entry struct {
	ID         faceid.Identifier
	Descriptor faceid.Descriptor
	State      State
}

// Match is a registry hit.
type Match struct {
	Entry
	Distance float64
}

type record struct {
	Entry
	seq uint64
}

// Registry maps identifiers to descriptors. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[faceid.Identifier]*record
	order   []*record // insertion order
	bySeq   map[uint64]*record
	pending map[uint64]*record
	seq     uint64

	indexMinSize int
	index        *annIndex
}

// Option configures a Registry.
type Option func(*Registry)

// WithIndexMinSize enables the HNSW index once the registry holds n entries.
// Zero keeps the registry on linear scans.
func WithIndexMinSize(n int) Option {
	return func(r *Registry) {
		r.indexMinSize = max(n, 0)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[faceid.Identifier]*record),
		bySeq:   make(map[uint64]*record),
		pending: make(map[uint64]*record),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len returns the number of registered faces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Get returns the entry stored under id.
func (r *Registry) Get(id faceid.Identifier) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return rec.Entry, true
}

// Match returns the earliest registered entry whose distance to d is below threshold.
func (r *Registry) Match(d faceid.Descriptor, threshold float64) (Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matchLocked(d, threshold)
}

func (r *Registry) matchLocked(d faceid.Descriptor, threshold float64) (Match, bool) {
	if r.index != nil && r.index.accepts(d) {
		return r.index.match(r.bySeq, d, threshold)
	}
	for _, rec := range r.order {
		if dist := faceid.EuclideanDistance(d, rec.Descriptor); dist < threshold {
			return Match{Entry: rec.Entry, Distance: dist}, true
		}
	}
	return Match{}, false
}

// Restore inserts confirmed entries, typically loaded from the receipt store.
// Entries already present are left untouched.
func (r *Registry) Restore(entries []Entry) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, e := range entries {
		if _, ok := r.entries[e.ID]; ok || len(e.Descriptor) == 0 {
			continue
		}
		e.State = StateConfirmed
		r.insertLocked(e)
		added++
	}
	return added
}

// Forget drops an entry, e.g. one the ledger reports as never having voted.
func (r *Registry) Forget(id faceid.Identifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// Reserve atomically registers d as pending under id. It fails with
// ErrInFlight when id is already pending or another pending face lies within
// threshold, and with ErrConfirmedMatch when a confirmed face with another id
// does. A stale confirmed entry with the same id is replaced.
func (r *Registry) Reserve(id faceid.Identifier, d faceid.Descriptor, threshold float64) (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.entries[id]; ok {
		if rec.State == StatePending {
			return nil, ErrInFlight
		}
		r.removeLocked(id)
	}

	for _, rec := range r.pending {
		if faceid.EuclideanDistance(d, rec.Descriptor) < threshold {
			return nil, ErrInFlight
		}
	}
	if m, ok := r.matchLocked(d, threshold); ok {
		return nil, fmt.Errorf("%w: %s at distance %.3f", ErrConfirmedMatch, m.ID.Short(), m.Distance)
	}

	rec := r.insertLocked(Entry{ID: id, Descriptor: d, State: StatePending})
	return &Reservation{registry: r, id: id, seq: rec.seq}, nil
}

func (r *Registry) insertLocked(e Entry) *record {
	r.seq++
	rec := &record{Entry: e, seq: r.seq}
	r.entries[e.ID] = rec
	r.bySeq[rec.seq] = rec
	r.order = append(r.order, rec)
	if e.State == StatePending {
		r.pending[rec.seq] = rec
	}

	switch {
	case r.index != nil:
		r.index.add(rec)
	case r.indexMinSize > 0 && len(r.entries) >= r.indexMinSize:
		r.index = buildIndex(r.order)
	}
	return rec
}

func (r *Registry) removeLocked(id faceid.Identifier) bool {
	rec, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	delete(r.bySeq, rec.seq)
	delete(r.pending, rec.seq)
	r.order = slices.DeleteFunc(r.order, func(x *record) bool { return x == rec })

	if r.index != nil {
		r.index.stale++
		if r.index.stale > len(r.entries)/2 {
			r.index = nil
			if r.indexMinSize > 0 && len(r.entries) >= r.indexMinSize {
				r.index = buildIndex(r.order)
			}
		}
	}
	return true
}

// Reservation is a pending registry entry awaiting the ledger's verdict.
type Reservation struct {
	registry *Registry
	id       faceid.Identifier
	seq      uint64
	done     bool
}

// Commit marks the entry as confirmed.
func (res *Reservation) Commit() {
	r := res.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.done {
		return
	}
	res.done = true
	if rec, ok := r.bySeq[res.seq]; ok {
		rec.State = StateConfirmed
		delete(r.pending, rec.seq)
	}
}

// Cancel removes the entry so a failed vote leaves no trace.
func (res *Reservation) Cancel() {
	r := res.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.done {
		return
	}
	res.done = true
	if rec, ok := r.bySeq[res.seq]; ok && rec.ID == res.id {
		r.removeLocked(res.id)
	}
}
