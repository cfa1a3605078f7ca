package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-ballot/internal/config"
	"github.com/kozaktomas/face-ballot/internal/database"
	"github.com/kozaktomas/face-ballot/internal/database/postgres"
	"github.com/kozaktomas/face-ballot/internal/faceid"
	"github.com/kozaktomas/face-ballot/internal/faceid/dlib"
	"github.com/kozaktomas/face-ballot/internal/faceid/imaging"
	"github.com/kozaktomas/face-ballot/internal/faceid/remote"
	"github.com/kozaktomas/face-ballot/internal/facematch"
	"github.com/kozaktomas/face-ballot/internal/ledger"
	"github.com/kozaktomas/face-ballot/internal/voting"
)

// newEmbedder selects the face embedding provider.
func newEmbedder(cfg *config.Config) (faceid.Embedder, error) {
	normalizer := imaging.NewJPEGNormalizer(cfg.Face.MaxImageEdge, cfg.Face.MaxImageBytes)
	switch cfg.Face.Provider {
	case config.FaceProviderDlib:
		return dlib.New(cfg.Face.ModelsPath, normalizer), nil
	case config.FaceProviderRemote:
		return remote.NewClient(cfg.Embedding.URL, normalizer), nil
	default:
		return nil, fmt.Errorf("unknown face provider %q", cfg.Face.Provider)
	}
}

// connectReceiptStore opens the optional PostgreSQL receipt store.
// It is a no-op when DATABASE_URL is unset.
func connectReceiptStore(ctx context.Context, cfg *config.Config) (*postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, nil
	}
	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Initialize(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	fmt.Printf("Receipt store enabled (PostgreSQL)\n")
	return pool, nil
}

// warmRegistry loads confirmed faces from the receipt store so the
// similarity guard survives restarts.
func warmRegistry(ctx context.Context, registry *facematch.Registry, receipts database.ReceiptReader) (int, error) {
	stored, err := receipts.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading receipts: %w", err)
	}
	entries := make([]facematch.Entry, 0, len(stored))
	for _, r := range stored {
		entries = append(entries, facematch.Entry{
			ID:         faceid.Identifier(r.FaceHash),
			Descriptor: faceid.Descriptor(r.Descriptor),
		})
	}
	return registry.Restore(entries), nil
}

// buildOrchestrator returns the session builder: it validates the ledger
// settings, connects, checks the signer is the contract admin and warms the
// similarity registry from the receipt store when one is configured.
func buildOrchestrator(cfg *config.Config) voting.BuildFunc {
	return func(ctx context.Context) (*voting.Orchestrator, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		embedder, err := newEmbedder(cfg)
		if err != nil {
			return nil, err
		}

		client, err := ledger.Dial(ctx, &cfg.Ledger)
		if err != nil {
			return nil, err
		}
		if err := voting.VerifyAdmin(ctx, client); err != nil {
			client.Close()
			return nil, err
		}

		registry := facematch.NewRegistry(facematch.WithIndexMinSize(cfg.Face.IndexMinSize))
		opts := voting.Options{MatchThreshold: cfg.Face.MatchThreshold}

		receipts, err := database.GetReceiptWriter(ctx)
		switch {
		case err == nil:
			if n, err := warmRegistry(ctx, registry, receipts); err != nil {
				fmt.Printf("Warning: %v\n", err)
				fmt.Printf("Duplicate screening starts empty and relies on the ledger\n")
			} else {
				fmt.Printf("Similarity registry warmed with %d faces\n", n)
			}
			opts.Receipts = receipts
		case errors.Is(err, database.ErrNotConfigured):
		default:
			client.Close()
			return nil, err
		}

		return voting.New(embedder, client, registry, opts), nil
	}
}

// openOrchestrator builds an orchestrator for one-shot CLI commands.
func openOrchestrator(ctx context.Context, cfg *config.Config) (*voting.Orchestrator, func(), error) {
	pool, err := connectReceiptStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closePool := func() {
		if pool != nil {
			pool.Close()
		}
	}

	o, err := buildOrchestrator(cfg)(ctx)
	if err != nil {
		closePool()
		return nil, nil, err
	}
	return o, func() {
		o.Close()
		closePool()
	}, nil
}
