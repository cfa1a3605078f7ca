package voting

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// BuildFunc constructs the orchestrator: connects the ledger, verifies the
// admin and warms the registry.
type BuildFunc func(ctx context.Context) (*Orchestrator, error)

// Session owns the process-wide orchestrator. It is created once at startup
// and handed to every handler; the orchestrator itself is built on first use.
type Session struct {
	build BuildFunc
	group singleflight.Group

	mu   sync.RWMutex
	orch *Orchestrator
}

// NewSession creates a session that builds its orchestrator with build.
func NewSession(build BuildFunc) *Session {
	return &Session{build: build}
}

// NewReadySession wraps an already-built orchestrator.
func NewReadySession(o *Orchestrator) *Session {
	return &Session{orch: o}
}

// Current returns the orchestrator if it has been built, nil otherwise.
func (s *Session) Current() *Orchestrator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orch
}

// Get returns the orchestrator, building it on the first call. Concurrent
// callers share one build. A failed build is not remembered, so the next call
// tries again.
func (s *Session) Get(ctx context.Context) (*Orchestrator, error) {
	if o := s.Current(); o != nil {
		return o, nil
	}
	if s.build == nil {
		return nil, ErrNotInitialized
	}

	ch := s.group.DoChan("orchestrator", func() (any, error) {
		if o := s.Current(); o != nil {
			return o, nil
		}
		// The build outlives the request that triggered it.
		o, err := s.build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotInitialized, err)
		}
		s.mu.Lock()
		s.orch = o
		s.mu.Unlock()
		return o, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNotInitialized, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Orchestrator), nil
	}
}

// Close releases the orchestrator's resources.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orch != nil {
		s.orch.Close()
		s.orch = nil
	}
}
