package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/scrypster/docmem/internal/engine"
	"github.com/scrypster/docmem/internal/policy"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// Coordinator is the subset of the engine the sweeper drives.
type Coordinator interface {
	Policies() *policy.Registry
	ApplyRetention(ctx context.Context, tenantID, userID, policyID string, asOf time.Time) (*engine.RetentionResult, error)
	ListDocuments(ctx context.Context, tenantID, userID string, opts storage.ListOptions) ([]types.DocumentListItem, error)
	Compact(ctx context.Context, key types.DocumentKey, policyID, bindingID string) (*engine.CompactionResult, error)
}

// Service sweeps every known scope at a fixed interval.
type Service struct {
	coord   Coordinator
	scopes  []storage.ScopeLister
	cfg     Config
	logger  *slog.Logger
	nowFunc func() time.Time

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	lastSweep  time.Time
	nextSweep  time.Time
	lastResult *Result
}

// NewService creates a sweeper. Scopes are the union of what the listers
// report. A nil logger discards log output.
func NewService(coord Coordinator, cfg Config, logger *slog.Logger, scopes ...storage.ScopeLister) (*Service, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("at least one scope lister is required")
	}
	if cfg.PolicyID == "" {
		return nil, fmt.Errorf("policy id is required")
	}
	if _, err := coord.Policies().Policy(cfg.PolicyID); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		coord:   coord,
		scopes:  scopes,
		cfg:     cfg,
		logger:  logger.With("component", "sweep"),
		nowFunc: time.Now,
	}, nil
}

// Start runs sweeps at the configured interval until ctx is done or Stop
// is called. It blocks; run it in its own goroutine.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.nextSweep = s.nowFunc().Add(s.cfg.Interval)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.stopCh == stopCh {
			s.running = false
		}
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.cfg.Interval, "policy", s.cfg.PolicyID)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping", "reason", "context canceled")
			return ctx.Err()

		case <-stopCh:
			s.logger.Info("sweeper stopping", "reason", "stop requested")
			return nil

		case <-ticker.C:
			if _, err := s.SweepNow(ctx); err != nil {
				s.logger.Warn("scheduled sweep failed", "error", err)
			}
			s.mu.Lock()
			s.nextSweep = s.nowFunc().Add(s.cfg.Interval)
			s.mu.Unlock()
		}
	}
}

// Stop stops the sweeper gracefully.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("sweeper is not running")
	}
	close(s.stopCh)
	s.running = false
	return nil
}

// SweepNow runs one sweep immediately. Per-scope failures are logged and
// counted; only listing scopes or cancellation aborts the sweep.
func (s *Service) SweepNow(ctx context.Context) (*Result, error) {
	start := s.nowFunc()
	scopes, err := s.listScopes(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scopes++
		if err := s.sweepScope(ctx, scope, start, res); err != nil {
			return res, err
		}
	}
	res.Duration = s.nowFunc().Sub(start)

	s.mu.Lock()
	s.lastSweep = s.nowFunc()
	s.lastResult = res
	s.mu.Unlock()

	s.logger.Info("sweep completed",
		"scopes", res.Scopes,
		"events_deleted", res.EventsDeleted,
		"audit_deleted", res.AuditDeleted,
		"snapshots_deleted", res.SnapshotsDeleted,
		"compacted", res.Compacted,
		"abandoned", res.Abandoned,
		"failures", res.Failures,
		"duration", res.Duration)
	return res, nil
}

func (s *Service) listScopes(ctx context.Context) ([]storage.Scope, error) {
	seen := make(map[storage.Scope]bool)
	var out []storage.Scope
	for _, l := range s.scopes {
		scopes, err := l.Scopes(ctx)
		if err != nil {
			return nil, fmt.Errorf("list scopes: %w", err)
		}
		for _, sc := range scopes {
			if !seen[sc] {
				seen[sc] = true
				out = append(out, sc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// sweepScope returns an error only when the sweep must stop.
func (s *Service) sweepScope(ctx context.Context, scope storage.Scope, asOf time.Time, res *Result) error {
	ret, err := s.coord.ApplyRetention(ctx, scope.TenantID, scope.UserID, s.cfg.PolicyID, asOf)
	if err != nil {
		if interrupted(err) {
			return err
		}
		res.Failures++
		s.logger.Warn("retention failed", "tenant", scope.TenantID, "user", scope.UserID, "error", err)
	} else {
		res.EventsDeleted += ret.EventsDeleted
		res.AuditDeleted += ret.AuditDeleted
		res.SnapshotsDeleted += ret.SnapshotsDeleted
	}

	if !s.cfg.Compact {
		return nil
	}
	pol, err := s.coord.Policies().Policy(s.cfg.PolicyID)
	if err != nil {
		return err
	}
	for i := range pol.Bindings {
		b := &pol.Bindings[i]
		if len(b.Compaction) == 0 {
			continue
		}
		if err := s.compactBinding(ctx, scope, b, res); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) compactBinding(ctx context.Context, scope storage.Scope, b *types.DocumentBinding, res *Result) error {
	items, err := s.coord.ListDocuments(ctx, scope.TenantID, scope.UserID, storage.ListOptions{
		Namespace: b.Namespace,
		Limit:     storage.MaxListLimit,
	})
	if err != nil {
		if interrupted(err) {
			return err
		}
		res.Failures++
		s.logger.Warn("listing for compaction failed", "tenant", scope.TenantID, "user", scope.UserID, "error", err)
		return nil
	}

	for _, item := range items {
		key := types.DocumentKey{TenantID: scope.TenantID, UserID: scope.UserID, Namespace: item.Namespace, Path: item.Path}
		if policy.CheckKey(b, key, "") != nil {
			continue
		}
		out, err := s.coord.Compact(ctx, key, s.cfg.PolicyID, b.BindingID)
		switch {
		case err == nil:
		case interrupted(err):
			return err
		case errors.Is(err, types.ErrPreconditionFailed), errors.Is(err, types.ErrNotFound):
			// Changed or removed under us; the next sweep gets it.
			continue
		default:
			res.Failures++
			s.logger.Warn("compaction failed", "key", key.String(), "error", err)
			continue
		}
		if out.Changed {
			res.Compacted++
		}
		if out.Abandoned {
			res.Abandoned++
		}
	}
	return nil
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// HealthCheck returns the current health status of the sweeper.
func (s *Service) HealthCheck() *HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := &HealthStatus{
		Status:     "healthy",
		LastSweep:  s.lastSweep,
		NextSweep:  s.nextSweep,
		LastResult: s.lastResult,
	}
	switch {
	case s.lastSweep.IsZero():
		status.Message = "No sweeps yet"
	case s.nowFunc().Sub(s.lastSweep) > s.cfg.Interval*2:
		status.Status = "warning"
		status.Message = fmt.Sprintf("Sweep overdue by %v", s.nowFunc().Sub(s.lastSweep)-s.cfg.Interval)
	default:
		status.Message = fmt.Sprintf("Last sweep: %v ago", s.nowFunc().Sub(s.lastSweep).Round(time.Minute))
	}
	if s.lastResult != nil && s.lastResult.Failures > 0 && status.Status == "healthy" {
		status.Status = "warning"
		status.Message = fmt.Sprintf("Last sweep had %d failures", s.lastResult.Failures)
	}
	return status
}
