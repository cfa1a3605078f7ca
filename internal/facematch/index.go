package facematch

import (
	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-ballot/internal/faceid"
)

// HNSW parameters for 128-dim face descriptors.
const (
	// hnswMaxNeighbors (M) is the maximum number of neighbors per node.
	hnswMaxNeighbors = 16

	// hnswEfSearch is the search candidate pool size.
	hnswEfSearch = 64

	// hnswCandidates is how many neighbours are verified against the threshold.
	hnswCandidates = 8
)

// annIndex wraps an HNSW graph keyed by registry sequence numbers.
// Removed entries stay in the graph and are filtered out on lookup. Search
// widens by the number of such stale nodes so they never crowd out live
// neighbours; the registry rebuilds the index once too many accumulate.
//
// Graph.Delete is not used: removing the last node of an upper layer leaves
// that layer without an entry point and Search then dereferences nil.
type annIndex struct {
	graph *hnsw.Graph[uint64]
	dims  int
	stale int
}

func buildIndex(records []*record) *annIndex {
	idx := &annIndex{}
	for _, rec := range records {
		idx.add(rec)
	}
	return idx
}

func (a *annIndex) add(rec *record) {
	if len(rec.Descriptor) == 0 {
		return
	}
	if a.graph == nil {
		g := hnsw.NewGraph[uint64]()
		g.M = hnswMaxNeighbors
		g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
		g.EfSearch = hnswEfSearch
		g.Distance = hnsw.EuclideanDistance
		a.graph = g
		a.dims = len(rec.Descriptor)
	}
	// Descriptors of another dimension can never match a query the index
	// accepts; linear scans still see them.
	if len(rec.Descriptor) != a.dims {
		return
	}
	a.graph.Add(hnsw.MakeNode(rec.seq, []float32(rec.Descriptor)))
}

func (a *annIndex) accepts(d faceid.Descriptor) bool {
	return a.graph != nil && len(d) == a.dims
}

// match verifies the nearest neighbours exactly and returns the earliest
// registered one within threshold.
func (a *annIndex) match(bySeq map[uint64]*record, d faceid.Descriptor, threshold float64) (Match, bool) {
	neighbors := a.graph.Search([]float32(d), hnswCandidates+a.stale)

	var best *record
	var bestDist float64
	for _, n := range neighbors {
		rec, ok := bySeq[n.Key]
		if !ok {
			continue
		}
		dist := faceid.EuclideanDistance(d, rec.Descriptor)
		if dist >= threshold {
			continue
		}
		if best == nil || rec.seq < best.seq {
			best = rec
			bestDist = dist
		}
	}
	if best == nil {
		return Match{}, false
	}
	return Match{Entry: best.Entry, Distance: bestDist}, true
}
