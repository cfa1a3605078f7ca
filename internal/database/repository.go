package database

import (
	"context"
)

// ReceiptReader provides read-only access to vote receipts
type ReceiptReader interface {
	// GetByFaceHash retrieves the receipt for a face identifier, returns nil if not found
	GetByFaceHash(ctx context.Context, faceHash string) (*StoredReceipt, error)
	// List returns every receipt, oldest first
	List(ctx context.Context) ([]StoredReceipt, error)
	// Count returns the total number of receipts stored
	Count(ctx context.Context) (int, error)
	// FindNearest returns receipts whose descriptor lies within maxDistance
	// (euclidean) of descriptor, nearest first, with their distances
	FindNearest(ctx context.Context, descriptor []float32, limit int, maxDistance float64) ([]StoredReceipt, []float64, error)
}

// ReceiptWriter provides write access to vote receipts
type ReceiptWriter interface {
	ReceiptReader

	// SaveReceipt stores a receipt, replacing any previous one for the same face hash
	SaveReceipt(ctx context.Context, receipt StoredReceipt) error

	// DeleteByFaceHashes removes receipts the ledger no longer knows about.
	// Returns the number of rows deleted.
	DeleteByFaceHashes(ctx context.Context, faceHashes []string) (int64, error)
}
