package importer

// service.go is the facade the HTTP layer talks to. It owns the session
// store, rule engine, preview builder, resolution coordinator and import
// executor, and adds the cross-cutting pieces: the generation limiter,
// metrics and structured logging.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Options tunes the engine. Zero values fall back to package defaults.
type Options struct {
	SessionTTL            time.Duration
	TerminalLinger        time.Duration
	SweepInterval         time.Duration
	MaxConcurrentPreviews int
	PreviewMaxWait        time.Duration
	ConfirmTimeout        time.Duration
	Metrics               *Metrics
}

// Service is the import engine facade.
type Service struct {
	dir     EntityDirectory
	rules   *RuleEngine
	store   *PreviewSessionStore
	history HistoryStore

	builder     *PreviewBuilder
	coordinator *ResolutionCoordinator
	executor    *ImportExecutor
	limiter     *PreviewLimiter
	metrics     *Metrics

	sweepInterval time.Duration
}

// NewService wires the engine. It warms the rule cache from the store, so
// it needs a context and may fail on a broken database.
func NewService(ctx context.Context, dir EntityDirectory, ruleStore RuleStore, history HistoryStore, opts Options) (*Service, error) {
	rules, err := NewRuleEngine(ctx, ruleStore)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	store := NewPreviewSessionStore(opts.SessionTTL, opts.TerminalLinger)

	s := &Service{
		dir:           dir,
		rules:         rules,
		store:         store,
		history:       history,
		builder:       NewPreviewBuilder(dir, rules),
		coordinator:   NewResolutionCoordinator(store, rules),
		executor:      NewImportExecutor(store, dir, history, opts.ConfirmTimeout),
		limiter:       NewPreviewLimiter(opts.MaxConcurrentPreviews, opts.PreviewMaxWait),
		metrics:       opts.Metrics,
		sweepInterval: opts.SweepInterval,
	}
	return s, nil
}

// GeneratePreview diffs the row batch against the entity graph and opens a
// new preview session.
func (s *Service) GeneratePreview(ctx context.Context, fileName string, rows []ImportRow) (*PreviewResponse, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	session, err := s.builder.Build(ctx, fileName, rows)
	if err != nil {
		return nil, err
	}

	previewID := s.store.Create(session)
	s.metrics.RecordPreview(session.Conflicts, session.RulesApplied)
	s.metrics.SetOpenSessions(s.store.Len())

	slog.Info("preview generated",
		"preview_id", previewID,
		"file", fileName,
		"rows", session.TotalRows,
		"conflicts", len(session.Conflicts),
		"rules_applied", session.RulesApplied,
	)

	return &PreviewResponse{
		PreviewID:         previewID,
		FileName:          fileName,
		ExpiresAt:         session.ExpiresAt,
		Stats:             session.Stats,
		Conflicts:         session.Conflicts,
		CanImportDirectly: len(session.Conflicts) == 0,
		RulesApplied:      session.RulesApplied,
	}, nil
}

// SubmitResolutions merges operator decisions into the session.
func (s *Service) SubmitResolutions(ctx context.Context, previewID string, resolutions []Resolution) (*ResolveOutcome, error) {
	outcome, err := s.coordinator.SubmitResolutions(ctx, previewID, resolutions)
	if err != nil {
		return nil, err
	}
	slog.Info("resolutions merged",
		"preview_id", previewID,
		"submitted", len(resolutions),
		"remaining", len(outcome.RemainingConflicts),
	)
	return outcome, nil
}

// Confirm executes the import for a fully-resolved session.
func (s *Service) Confirm(ctx context.Context, previewID string) (*ImportResult, error) {
	start := time.Now()
	result, err := s.executor.Confirm(ctx, previewID)

	switch {
	case err == nil:
		status := HistorySuccess
		if result.Failed > 0 {
			status = HistoryPartial
		}
		s.metrics.RecordConfirm(status, time.Since(start))
		slog.Info("import confirmed",
			"preview_id", previewID,
			"created", result.Created,
			"updated", result.Updated,
			"failed", result.Failed,
			"elapsed_ms", result.ProcessingTimeMs,
		)

	case isPrecondition(err):
		// Zero side effects; not an executed attempt.

	default:
		s.metrics.RecordConfirm(HistoryError, time.Since(start))
		slog.Error("import failed", "preview_id", previewID, "error", err)
	}

	s.metrics.SetOpenSessions(s.store.Len())
	return result, err
}

// CancelPreview closes an open session; its resolutions are discarded.
func (s *Service) CancelPreview(previewID string) error {
	if err := s.coordinator.Cancel(previewID); err != nil {
		return err
	}
	slog.Info("preview cancelled", "preview_id", previewID)
	s.metrics.SetOpenSessions(s.store.Len())
	return nil
}

// GetPreview returns a copy of the session for inspection.
func (s *Service) GetPreview(previewID string) (*PreviewSession, error) {
	return s.store.Get(previewID)
}

// ListRules returns rules filtered by optional entity type and active flag.
func (s *Service) ListRules(entityType EntityType, active *bool) []Rule {
	return s.rules.List(entityType, active)
}

// RuleUpdate is a partial edit applied to an existing rule.
type RuleUpdate struct {
	Action         ResolutionAction `json:"action"`
	TargetEntityID string           `json:"targetEntityId"`
	Active         *bool            `json:"active"`
}

// UpdateRule edits a rule in place by id.
func (s *Service) UpdateRule(ctx context.Context, id string, upd RuleUpdate) (Rule, error) {
	rule, ok := s.rules.Get(id)
	if !ok {
		return Rule{}, ErrRuleNotFound
	}

	action := rule.Action
	target := rule.TargetEntityID
	if upd.Action != "" {
		if !upd.Action.Valid() {
			return Rule{}, ErrInvalidInput
		}
		action = upd.Action
		target = upd.TargetEntityID
	}

	updated, err := s.rules.Upsert(ctx, rule.EntityType, rule.RawValue, action, target)
	if err != nil {
		return Rule{}, err
	}

	if upd.Active != nil && !*upd.Active {
		if err := s.rules.Deactivate(ctx, updated.ID); err != nil {
			return Rule{}, err
		}
		updated.Active = false
	}
	return updated, nil
}

// DeactivateRule soft-deletes a rule.
func (s *Service) DeactivateRule(ctx context.Context, id string) error {
	return s.rules.Deactivate(ctx, id)
}

// PurgeRule hard-deletes a rule.
func (s *Service) PurgeRule(ctx context.Context, id string) error {
	return s.rules.Purge(ctx, id)
}

// MapTargets lists the active entities usable as MAP targets for one
// dimension.
func (s *Service) MapTargets(ctx context.Context, entityType EntityType) ([]Entity, error) {
	if !entityType.Valid() {
		return nil, ErrInvalidInput
	}
	return s.dir.ListActive(ctx, entityType)
}

// History returns recent confirm attempts, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.history.List(ctx, limit)
}

// RunSessionSweeper evicts expired sessions until the context is cancelled.
// Intended to run as a background goroutine from main.
func (s *Service) RunSessionSweeper(ctx context.Context) {
	s.store.RunSweeper(ctx, s.sweepInterval)
}

// WaitForPreviews blocks until in-flight preview generations finish.
// Used during graceful shutdown.
func (s *Service) WaitForPreviews(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// isPrecondition reports whether the confirm error was a session
// precondition failure rather than an executed attempt.
func isPrecondition(err error) bool {
	var unresolved *ConflictsUnresolvedError
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.As(err, &unresolved)
}
