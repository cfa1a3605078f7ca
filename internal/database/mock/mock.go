// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-ballot/internal/database"
)

// MockReceiptStore is a mock implementation of database.ReceiptWriter
type MockReceiptStore struct {
	mu       sync.RWMutex
	receipts []database.StoredReceipt
	nextID   int64

	// Error injection
	GetError    error
	ListError   error
	SaveError   error
	DeleteError error
	FindError   error
}

// NewMockReceiptStore creates a new mock receipt store
func NewMockReceiptStore() *MockReceiptStore {
	return &MockReceiptStore{}
}

// GetByFaceHash retrieves a receipt by face hash
func (m *MockReceiptStore) GetByFaceHash(ctx context.Context, faceHash string) (*database.StoredReceipt, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.receipts {
		if r.FaceHash == faceHash {
			return &r, nil
		}
	}
	return nil, nil
}

// List returns every receipt, oldest first
func (m *MockReceiptStore) List(ctx context.Context) ([]database.StoredReceipt, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.receipts), nil
}

// Count returns the number of receipts
func (m *MockReceiptStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.receipts), nil
}

// FindNearest returns receipts within maxDistance, nearest first
func (m *MockReceiptStore) FindNearest(ctx context.Context, descriptor []float32, limit int, maxDistance float64) ([]database.StoredReceipt, []float64, error) {
	if m.FindError != nil {
		return nil, nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type hit struct {
		receipt database.StoredReceipt
		dist    float64
	}
	var hits []hit
	for _, r := range m.receipts {
		if len(r.Descriptor) != len(descriptor) {
			continue
		}
		var sum float64
		for i := range descriptor {
			d := float64(descriptor[i]) - float64(r.Descriptor[i])
			sum += d * d
		}
		if dist := math.Sqrt(sum); dist < maxDistance {
			hits = append(hits, hit{r, dist})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	receipts := make([]database.StoredReceipt, len(hits))
	distances := make([]float64, len(hits))
	for i, h := range hits {
		receipts[i] = h.receipt
		distances[i] = h.dist
	}
	return receipts, distances, nil
}

// SaveReceipt stores a receipt, replacing any previous one for the same face hash
func (m *MockReceiptStore) SaveReceipt(ctx context.Context, receipt database.StoredReceipt) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	receipt.ID = m.nextID
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now()
	}
	m.receipts = slices.DeleteFunc(m.receipts, func(r database.StoredReceipt) bool {
		return r.FaceHash == receipt.FaceHash
	})
	m.receipts = append(m.receipts, receipt)
	return nil
}

// DeleteByFaceHashes removes receipts for the given face hashes
func (m *MockReceiptStore) DeleteByFaceHashes(ctx context.Context, faceHashes []string) (int64, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.receipts)
	m.receipts = slices.DeleteFunc(m.receipts, func(r database.StoredReceipt) bool {
		return slices.Contains(faceHashes, r.FaceHash)
	})
	return int64(before - len(m.receipts)), nil
}
