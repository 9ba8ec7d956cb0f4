package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scrypster/docmem/internal/policy"
	"github.com/scrypster/docmem/pkg/types"
)

// Notifier receives events for mutations that already reached durable
// storage. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, event types.MutationEvent) error
}

// Coordinator orchestrates every docmem operation. It is safe for concurrent
// use; writes to the same document are serialized by the document store.
type Coordinator struct {
	stores   Stores
	policies *policy.Registry
	notifier Notifier
	replay   *replayCache
	clock    func() time.Time
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator over stores, validating requests
// against policies. Use DefaultConfig() for sensible defaults.
func NewCoordinator(stores Stores, policies *policy.Registry, cfg Config) (*Coordinator, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if policies == nil {
		return nil, fmt.Errorf("policy registry is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Coordinator{
		stores:   stores,
		policies: policies,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.IdempotencyCacheSize > 0 {
		replay, err := newReplayCache(cfg.IdempotencyCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create idempotency cache: %w", err)
		}
		c.replay = replay
	}
	return c, nil
}

// Policies returns the registry the coordinator validates against.
func (c *Coordinator) Policies() *policy.Registry {
	return c.policies
}

// Close releases the idempotency cache.
func (c *Coordinator) Close() {
	if c.replay != nil {
		c.replay.close()
	}
}

func (c *Coordinator) now() time.Time {
	return c.clock().UTC()
}

// notify delivers event to the notifier. The mutation has already been
// persisted, so failures are only logged.
func (c *Coordinator) notify(ctx context.Context, event types.MutationEvent) {
	if c.notifier == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = c.now()
	}
	if err := c.notifier.Notify(ctx, event); err != nil {
		c.logger.Warn("notification failed",
			"type", event.Type,
			"tenant", event.TenantID,
			"user", event.UserID,
			"error", err)
	}
}

// logFailure records internal errors; caller-fixable errors are not logged.
func (c *Coordinator) logFailure(op string, err error, attrs ...any) {
	if types.KindOf(err) != types.KindInternal {
		return
	}
	c.logger.Error(op+" failed", append(attrs, "code", types.CodeOf(err), "error", err)...)
}
