package database

import (
	"context"
	"errors"
	"sync"
)

// ErrNotConfigured is returned when no storage backend has been registered.
var ErrNotConfigured = errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")

var (
	providerMu            sync.RWMutex
	postgresReceiptWriter func() ReceiptWriter
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(receiptWriter func() ReceiptWriter) {
	providerMu.Lock()
	defer providerMu.Unlock()
	postgresReceiptWriter = receiptWriter
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return postgresReceiptWriter != nil
}

// GetReceiptReader returns a ReceiptReader from the PostgreSQL backend
func GetReceiptReader(ctx context.Context) (ReceiptReader, error) {
	return GetReceiptWriter(ctx)
}

// GetReceiptWriter returns a ReceiptWriter from the PostgreSQL backend
func GetReceiptWriter(ctx context.Context) (ReceiptWriter, error) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	if postgresReceiptWriter == nil {
		return nil, ErrNotConfigured
	}
	return postgresReceiptWriter(), nil
}
