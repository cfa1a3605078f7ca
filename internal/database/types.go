package database

import (
	"time"
)

// StoredReceipt records a vote the ledger confirmed, together with the
// descriptor it was cast with.
type StoredReceipt struct {
	ID          int64
	AttemptID   string // uuid of the vote attempt, shared with the logs
	FaceHash    string
	Descriptor  []float32
	ProposalID  uint64
	TxHash      string
	GasUsed     uint64
	BlockNumber uint64
	CreatedAt   time.Time
}

// Dim returns the descriptor dimension.
func (r StoredReceipt) Dim() int {
	return len(r.Descriptor)
}
