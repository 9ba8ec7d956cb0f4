package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/scrypster/docmem/pkg/types"
)

// BreakerConfig holds the configuration for the document store circuit
// breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive internal failures required to
	// trip the circuit. Default: 5
	MaxFailures uint32

	// Timeout is how long the circuit stays open before allowing a probe.
	// Default: 30 seconds
	Timeout time.Duration

	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	// Default: 1
	HalfOpenMaxRequests uint32
}

func (c *BreakerConfig) applyDefaults() {
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests == 0 {
		c.HalfOpenMaxRequests = 1
	}
}

// BreakerDocumentStore wraps a DocumentStore with a circuit breaker. Only
// internal errors count as failures: not-found, precondition and validation
// outcomes are ordinary answers from a healthy backend. While the circuit
// is open every call fails fast with STORAGE_UNAVAILABLE.
type BreakerDocumentStore struct {
	next    DocumentStore
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerDocumentStore decorates next with a circuit breaker.
func NewBreakerDocumentStore(next DocumentStore, cfg BreakerConfig, logger *slog.Logger) *BreakerDocumentStore {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	settings := gobreaker.Settings{
		Name:        "document-store",
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, types.ErrInternal)
		},
	}
	return &BreakerDocumentStore{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// State exposes the breaker state for health reporting.
func (b *BreakerDocumentStore) State() string {
	return b.breaker.State().String()
}

func (b *BreakerDocumentStore) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, types.Internal(types.CodeStorageUnavailable, "document storage is unavailable", err)
	}
	return result, err
}

// Get implements DocumentStore.
func (b *BreakerDocumentStore) Get(ctx context.Context, key types.DocumentKey) (*types.DocumentRecord, error) {
	res, err := b.execute(func() (interface{}, error) {
		return b.next.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return res.(*types.DocumentRecord), nil
}

// Upsert implements DocumentStore.
func (b *BreakerDocumentStore) Upsert(ctx context.Context, key types.DocumentKey, env types.DocumentEnvelope, expectedETag string) (*types.DocumentRecord, error) {
	res, err := b.execute(func() (interface{}, error) {
		return b.next.Upsert(ctx, key, env, expectedETag)
	})
	if err != nil {
		return nil, err
	}
	return res.(*types.DocumentRecord), nil
}

// Exists implements DocumentStore.
func (b *BreakerDocumentStore) Exists(ctx context.Context, key types.DocumentKey) (bool, error) {
	res, err := b.execute(func() (interface{}, error) {
		return b.next.Exists(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// List implements DocumentStore.
func (b *BreakerDocumentStore) List(ctx context.Context, tenantID, userID string, opts ListOptions) ([]types.DocumentListItem, error) {
	res, err := b.execute(func() (interface{}, error) {
		return b.next.List(ctx, tenantID, userID, opts)
	})
	if err != nil {
		return nil, err
	}
	return res.([]types.DocumentListItem), nil
}

// DeleteScope implements DocumentStore.
func (b *BreakerDocumentStore) DeleteScope(ctx context.Context, tenantID, userID string) (int, error) {
	res, err := b.execute(func() (interface{}, error) {
		return b.next.DeleteScope(ctx, tenantID, userID)
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}
