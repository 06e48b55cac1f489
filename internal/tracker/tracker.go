// Package tracker runs the poll → detect → notify → commit loop.
package tracker

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/polywatch/polywatch/internal/detector"
	"github.com/polywatch/polywatch/internal/logger"
	"github.com/polywatch/polywatch/internal/models"
	"github.com/polywatch/polywatch/internal/notify"
	"github.com/polywatch/polywatch/internal/polymarket"
	"github.com/polywatch/polywatch/internal/storage"
)

// Fetcher is the slice of the API client the loop depends on.
type Fetcher interface {
	FetchMarkets(ctx context.Context, ids []string) (*polymarket.BatchResult, error)
}

// Config holds loop cadence, thresholds, and the watch-list.
type Config struct {
	Interval        time.Duration
	JitterFraction  float64
	SummaryInterval time.Duration
	Defaults        models.Thresholds
	WatchList       []models.WatchListEntry
}

// Loop orchestrates one tracking cycle at a time. Cycles never overlap:
// a slow cycle delays the next tick. The loop is the only writer to the
// store; running two loops against one state database is not supported.
type Loop struct {
	cfg        Config
	fetcher    Fetcher
	store      *storage.Store
	dispatcher *notify.Dispatcher

	thresholds map[string]models.Thresholds
	resolved   map[string]bool

	consecutiveFailures int
	lastSummary         time.Time
}

// New creates a loop over the given collaborators. Markets already
// persisted as RESOLVED are excluded from polling from the start.
func New(cfg Config, fetcher Fetcher, store *storage.Store, dispatcher *notify.Dispatcher) (*Loop, error) {
	if len(cfg.WatchList) == 0 {
		return nil, fmt.Errorf("tracker: watch-list must not be empty")
	}

	l := &Loop{
		cfg:         cfg,
		fetcher:     fetcher,
		store:       store,
		dispatcher:  dispatcher,
		thresholds:  make(map[string]models.Thresholds, len(cfg.WatchList)),
		resolved:    make(map[string]bool),
		lastSummary: time.Now(),
	}
	for _, entry := range cfg.WatchList {
		l.thresholds[entry.ID] = entry.Thresholds(cfg.Defaults)
	}

	snaps, err := store.LoadAll()
	if err != nil {
		logger.Warn("Failed to load persisted snapshots: %v", err)
	} else {
		for id, snap := range snaps {
			if snap.Resolved() {
				l.resolved[id] = true
			}
		}
		logger.Info("Loaded %d persisted snapshots (%d resolved)", len(snaps), len(l.resolved))
	}

	return l, nil
}

// Run polls on the configured cadence until ctx is cancelled. Transient
// cycle failures are reported and retried at the next tick, never fatal.
func (l *Loop) Run(ctx context.Context) {
	l.dispatcher.Post(ctx, fmt.Sprintf(
		"polywatch started: tracking %d markets every %v via [%s]",
		len(l.cfg.WatchList), l.cfg.Interval, strings.Join(l.dispatcher.Sinks(), ", ")))

	logger.Debug("Running initial tracking cycle")
	l.handleCycleResult(ctx, l.RunCycle(ctx))

	timer := time.NewTimer(l.nextTick())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Tracker stopped")
			return

		case <-timer.C:
			logger.Debug("Starting scheduled tracking cycle")
			l.handleCycleResult(ctx, l.RunCycle(ctx))
			l.maybeSummarize(ctx)
			timer.Reset(l.nextTick())
		}
	}
}

// nextTick returns the interval with jitter applied, to avoid
// thundering-herd behavior against the API. Drift is acceptable.
func (l *Loop) nextTick() time.Duration {
	if l.cfg.JitterFraction <= 0 {
		return l.cfg.Interval
	}
	jitter := (rand.Float64()*2 - 1) * l.cfg.JitterFraction
	return time.Duration(float64(l.cfg.Interval) * (1 + jitter))
}

func (l *Loop) handleCycleResult(ctx context.Context, err error) {
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.consecutiveFailures++
		logger.Error("Tracking cycle failed: %v", err)
		if l.consecutiveFailures == 1 {
			l.dispatcher.Post(ctx, fmt.Sprintf("tracking cycle failed: %v", err))
		}
		return
	}
	if l.consecutiveFailures > 0 {
		l.dispatcher.Post(ctx, fmt.Sprintf(
			"tracking recovered after %d consecutive failure(s)", l.consecutiveFailures))
	}
	l.consecutiveFailures = 0
}

// RunCycle performs one fetch → detect → notify → commit pass. The
// commit happens strictly after notification dispatch has been
// attempted, so a crash in between re-detects (and re-notifies) the
// same changes next cycle rather than losing them.
func (l *Loop) RunCycle(ctx context.Context) error {
	startTime := time.Now()

	ids := l.pollList()
	if len(ids) == 0 {
		logger.Info("All watched markets resolved, nothing to poll")
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := l.fetcher.FetchMarkets(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to fetch markets: %w", err)
	}
	logger.Info("Fetched %d/%d markets", len(result.Snapshots), len(ids))

	var events []models.ChangeEvent
	var commits []*models.MarketSnapshot
	var removals []string

	for _, id := range ids {
		prev, err := l.store.Get(id)
		if err != nil {
			logger.Warn("Failed to read stored snapshot for %s: %v", id, err)
			continue
		}

		cur, ok := result.Snapshots[id]
		if !ok {
			apiErr := result.Errors[id]
			if apiErr != nil && apiErr.Kind == polymarket.KindNotFound && prev != nil {
				// The market vanished from the API: emit MARKET_REMOVED
				// and drop its snapshot so a reappearance re-announces it.
				events = append(events, detector.Detect(prev, nil, l.thresholdsFor(id))...)
				removals = append(removals, id)
				continue
			}
			if apiErr != nil {
				logger.Warn("Skipping %s this cycle: %v", id, apiErr)
			}
			continue // retried next cycle
		}

		evs := detector.Detect(prev, cur, l.thresholdsFor(id))
		events = append(events, evs...)
		commits = append(commits, cur)

		if cur.Resolved() {
			l.resolved[id] = true
			logger.Info("Market %s resolved (%s), dropping from poll list", id, cur.ResolvedOutcome)
		}
	}

	// Detection is done on the full batch; shutdown between here and the
	// commit loop leaves the previous snapshots intact, so nothing is lost.
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(events) > 0 {
		report := l.dispatcher.Dispatch(ctx, events)
		logger.Info("Dispatched %d events: %d delivered, %d failed",
			len(events), report.Delivered, report.Failed)
	} else {
		logger.Info("No changes above thresholds this cycle")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	for _, snap := range commits {
		if err := l.store.Commit(snap); err != nil {
			logger.Warn("Failed to commit snapshot for %s: %v", snap.ID, err)
		}
	}
	for _, id := range removals {
		if err := l.store.Delete(id); err != nil {
			logger.Warn("Failed to delete snapshot for %s: %v", id, err)
		}
	}

	logger.Info("Tracking cycle completed in %v", time.Since(startTime))
	return nil
}

// pollList returns the watch-list minus markets already observed as
// RESOLVED, preserving configuration order.
func (l *Loop) pollList() []string {
	ids := make([]string, 0, len(l.cfg.WatchList))
	for _, entry := range l.cfg.WatchList {
		if l.resolved[entry.ID] {
			continue
		}
		ids = append(ids, entry.ID)
	}
	return ids
}

func (l *Loop) thresholdsFor(id string) models.Thresholds {
	if th, ok := l.thresholds[id]; ok {
		return th
	}
	return l.cfg.Defaults
}

// maybeSummarize posts a digest of the tracked markets when the summary
// interval has elapsed. Disabled when the interval is zero.
func (l *Loop) maybeSummarize(ctx context.Context) {
	if l.cfg.SummaryInterval <= 0 || time.Since(l.lastSummary) < l.cfg.SummaryInterval {
		return
	}
	l.lastSummary = time.Now()
	l.dispatcher.Post(ctx, l.buildSummary())
}

// buildSummary renders the current state of every tracked market.
func (l *Loop) buildSummary() string {
	snaps, err := l.store.LoadAll()
	if err != nil {
		return fmt.Sprintf("summary unavailable: %v", err)
	}

	ids := make([]string, 0, len(snaps))
	for id := range snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "market summary (%d tracked, %d resolved)\n", len(snaps), len(l.resolved))
	for _, id := range ids {
		snap := snaps[id]
		subject := snap.Question
		if subject == "" {
			subject = id
		}
		fmt.Fprintf(&b, "- %s [%s] vol %.0f:", subject, snap.Status, snap.Volume)

		labels := make([]string, 0, len(snap.Outcomes))
		for label := range snap.Outcomes {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			fmt.Fprintf(&b, " %s %.0f%%", label, snap.Outcomes[label]*100)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
