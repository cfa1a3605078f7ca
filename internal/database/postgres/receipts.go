package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-ballot/internal/database"
)

const receiptColumns = `id, attempt_id, face_hash, descriptor, proposal_id, tx_hash, gas_used, block_number, created_at`

// ReceiptRepository provides PostgreSQL-backed vote receipt storage
type ReceiptRepository struct {
	pool *Pool
}

// NewReceiptRepository creates a new PostgreSQL receipt repository
func NewReceiptRepository(pool *Pool) *ReceiptRepository {
	return &ReceiptRepository{pool: pool}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row scanner, extra ...any) (database.StoredReceipt, error) {
	var r database.StoredReceipt
	var vec pgvector.Vector
	dest := append([]any{
		&r.ID,
		&r.AttemptID,
		&r.FaceHash,
		&vec,
		&r.ProposalID,
		&r.TxHash,
		&r.GasUsed,
		&r.BlockNumber,
		&r.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return database.StoredReceipt{}, err
	}
	r.Descriptor = vec.Slice()
	return r, nil
}

// GetByFaceHash retrieves the receipt for a face identifier, returns nil if not found
func (r *ReceiptRepository) GetByFaceHash(ctx context.Context, faceHash string) (*database.StoredReceipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM vote_receipts WHERE face_hash = $1`

	receipt, err := scanReceipt(r.pool.QueryRow(ctx, query, faceHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query receipt: %w", err)
	}
	return &receipt, nil
}

// List returns every receipt, oldest first
func (r *ReceiptRepository) List(ctx context.Context) ([]database.StoredReceipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM vote_receipts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.StoredReceipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

// Count returns the total number of receipts stored
func (r *ReceiptRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM vote_receipts").Scan(&count); err != nil {
		return 0, fmt.Errorf("count receipts: %w", err)
	}
	return count, nil
}

// FindNearest returns receipts within maxDistance of descriptor, nearest first.
// Rows with another descriptor dimension are skipped before distances are computed.
func (r *ReceiptRepository) FindNearest(ctx context.Context, descriptor []float32, limit int, maxDistance float64) ([]database.StoredReceipt, []float64, error) {
	query := `
		SELECT ` + receiptColumns + `, descriptor <-> $1 AS distance
		FROM (
			SELECT * FROM vote_receipts WHERE vector_dims(descriptor) = $2 OFFSET 0
		) r
		WHERE descriptor <-> $1 < $3
		ORDER BY descriptor <-> $1
		LIMIT $4
	`

	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(descriptor), len(descriptor), maxDistance, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var receipts []database.StoredReceipt
	var distances []float64
	for rows.Next() {
		var dist float64
		receipt, err := scanReceipt(rows, &dist)
		if err != nil {
			return nil, nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return receipts, distances, nil
}

// SaveReceipt stores a receipt, replacing any previous one for the same face hash
func (r *ReceiptRepository) SaveReceipt(ctx context.Context, receipt database.StoredReceipt) error {
	query := `
		INSERT INTO vote_receipts (attempt_id, face_hash, descriptor, proposal_id, tx_hash, gas_used, block_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (face_hash) DO UPDATE SET
			attempt_id = EXCLUDED.attempt_id,
			descriptor = EXCLUDED.descriptor,
			proposal_id = EXCLUDED.proposal_id,
			tx_hash = EXCLUDED.tx_hash,
			gas_used = EXCLUDED.gas_used,
			block_number = EXCLUDED.block_number,
			created_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query,
		receipt.AttemptID,
		receipt.FaceHash,
		pgvector.NewVector(receipt.Descriptor),
		int64(receipt.ProposalID),
		receipt.TxHash,
		int64(receipt.GasUsed),
		int64(receipt.BlockNumber),
	)
	if err != nil {
		return fmt.Errorf("save receipt: %w", err)
	}
	return nil
}

// DeleteByFaceHashes removes receipts for the given face hashes
func (r *ReceiptRepository) DeleteByFaceHashes(ctx context.Context, faceHashes []string) (int64, error) {
	if len(faceHashes) == 0 {
		return 0, nil
	}
	result, err := r.pool.Exec(ctx, "DELETE FROM vote_receipts WHERE face_hash = ANY($1)", pq.Array(faceHashes))
	if err != nil {
		return 0, fmt.Errorf("delete receipts: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return count, nil
}
