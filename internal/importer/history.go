package importer

// history.go covers the import-history trail. Every confirm attempt writes
// one entry, success or failure, and a scheduled retention job prunes old
// entries so the table does not grow without bound.

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// HistoryStore is the persistence contract for import-history entries.
type HistoryStore interface {
	Append(ctx context.Context, entry HistoryEntry) error
	List(ctx context.Context, limit int) ([]HistoryEntry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// HistoryRetention prunes old import-history entries on a cron schedule.
type HistoryRetention struct {
	store    HistoryStore
	schedule string
	keep     time.Duration
	cron     *cron.Cron
}

// NewHistoryRetention creates the retention job. schedule is a standard
// cron expression (e.g. "0 3 * * *" for daily at 3 AM); retentionDays is
// how long entries are kept.
func NewHistoryRetention(store HistoryStore, schedule string, retentionDays int) *HistoryRetention {
	return &HistoryRetention{
		store:    store,
		schedule: schedule,
		keep:     time.Duration(retentionDays) * 24 * time.Hour,
		cron:     cron.New(),
	}
}

// Start validates the schedule and begins running the prune job. An empty
// schedule disables retention.
func (h *HistoryRetention) Start(ctx context.Context) error {
	if h.schedule == "" {
		slog.Info("history retention not configured, skipping")
		return nil
	}

	if _, err := cron.ParseStandard(h.schedule); err != nil {
		return err
	}
	if _, err := h.cron.AddFunc(h.schedule, func() { h.runPrune(ctx) }); err != nil {
		return err
	}

	h.cron.Start()
	slog.Info("history retention started", "schedule", h.schedule, "retention", h.keep)
	return nil
}

// Stop halts the schedule, waiting for a running prune to finish.
func (h *HistoryRetention) Stop() {
	stopCtx := h.cron.Stop()
	<-stopCtx.Done()
}

func (h *HistoryRetention) runPrune(ctx context.Context) {
	cutoff := time.Now().Add(-h.keep)
	pruned, err := h.store.Prune(ctx, cutoff)
	if err != nil {
		slog.Error("history prune failed", "error", err)
		return
	}
	if pruned > 0 {
		slog.Info("history entries pruned", "count", pruned, "cutoff", cutoff.Format(time.RFC3339))
	}
}
