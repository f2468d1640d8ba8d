// Package backfill bulk-enumerates historical documents from authoritative
// sources and drives them through the reconciliation pipeline.
package backfill

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ttavares/comexsync/internal/domain"
	"github.com/ttavares/comexsync/internal/reconcile"
	"github.com/ttavares/comexsync/internal/repository"
)

// Existence is the tri-state outcome of a pre-check. Unknown is a first-class
// answer: exhausted retries never silently collapse into Absent.
type Existence int

const (
	ExistencePresent Existence = iota
	ExistenceAbsent
	ExistenceUnknown
)

// Window bounds the historical period being backfilled.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether ts falls inside the window; a zero bound is open.
func (w Window) Contains(ts time.Time) bool {
	if !w.From.IsZero() && ts.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && ts.After(w.To) {
		return false
	}
	return true
}

// BulkRow is one candidate document enumerated by a bulk source.
type BulkRow struct {
	Number  string
	Kind    domain.DocumentKind
	DatedAt time.Time
	Origin  domain.Origin
	Payload domain.Payload
}

// BulkSource enumerates candidate documents for a window and kind.
type BulkSource interface {
	Name() string
	Fetch(ctx context.Context, window Window, kind domain.DocumentKind) ([]BulkRow, error)
}

// Ingestor is the slice of the reconciliation engine the backfill needs.
type Ingestor interface {
	Observe(ctx context.Context, obs reconcile.Observation) (reconcile.Result, error)
}

// Options selects what one run covers.
type Options struct {
	Window Window
	Kinds  []domain.DocumentKind
	Limit  int
	DryRun bool
}

// Summary is the final accounting of a run. The process exit code is derived
// from Errors.
type Summary struct {
	Scanned  int
	Migrated int
	Existing int
	Skipped  int
	Unknown  int
	Errors   int
	DryRun   bool
	Items    []ItemOutcome
}

// ItemOutcome records why a document did not migrate cleanly.
type ItemOutcome struct {
	Number string
	Kind   domain.DocumentKind
	Status string
	Detail string
}

// Config carries the run tuning knobs.
type Config struct {
	BatchSize  int
	RetryLimit int
	RetryBase  time.Duration
	Throttle   time.Duration
	Source     string
	Actor      string
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		BatchSize:  500,
		RetryLimit: 3,
		RetryBase:  time.Second,
		Throttle:   50 * time.Millisecond,
		Source:     "backfill",
		Actor:      "backfill-worker",
	}
}

// Service is the backfill orchestrator. Execution is strictly sequential;
// the inter-write throttle is a crude fixed delay, not backpressure.
type Service struct {
	sources   []BulkSource
	engine    Ingestor
	snapshots repository.SnapshotRepository
	cfg       Config
	logger    *slog.Logger
	sleep     func(time.Duration)
}

// NewService constructs a backfill orchestrator.
func NewService(sources []BulkSource, engine Ingestor, snapshots repository.SnapshotRepository, cfg Config, logger *slog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultConfig().RetryBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sources:   sources,
		engine:    engine,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger,
		sleep:     time.Sleep,
	}
}

// WithSleeper overrides the delay function. Used by tests.
func (s *Service) WithSleeper(sleep func(time.Duration)) *Service {
	s.sleep = sleep
	return s
}

// Run executes one backfill pass. A dry run walks the identical
// existence-check and payload-construction path and only suppresses the
// final write.
func (s *Service) Run(ctx context.Context, opts Options) Summary {
	summary := Summary{DryRun: opts.DryRun}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = domain.Kinds()
	}

	// Existence answers are cached for the remainder of the run.
	existence := make(map[string]Existence)

	for _, kind := range kinds {
		rows := s.enumerate(ctx, opts.Window, kind, &summary)
		rows = dedupeRows(rows)
		summary.Scanned += len(rows)

		s.precheck(ctx, kind, rows, existence, &summary)

		for _, row := range rows {
			if opts.Limit > 0 && summary.Migrated >= opts.Limit {
				s.logger.Info("run limit reached", "limit", opts.Limit)
				return summary
			}

			key := existenceKey(kind, row.Number)
			switch existence[key] {
			case ExistencePresent:
				summary.Existing++
				continue
			case ExistenceUnknown:
				// Policy: unknown items are skipped this run and left for a
				// later pass, never assumed absent.
				summary.Unknown++
				summary.Items = append(summary.Items, ItemOutcome{
					Number: row.Number, Kind: kind, Status: "unknown",
					Detail: "existence check exhausted retries",
				})
				continue
			}

			obs := reconcile.Observation{
				Number:  row.Number,
				Kind:    kind,
				Origin:  row.Origin,
				Payload: row.Payload,
				Source:  s.cfg.Source,
				Actor:   s.cfg.Actor,
			}

			if opts.DryRun {
				summary.Migrated++
				s.logger.Info("dry-run: would migrate", "number", row.Number, "kind", kind)
				continue
			}

			err := s.withRetry(ctx, func() error {
				_, observeErr := s.engine.Observe(ctx, obs)
				return observeErr
			})
			if err != nil {
				summary.Errors++
				summary.Items = append(summary.Items, ItemOutcome{
					Number: row.Number, Kind: kind, Status: "error", Detail: err.Error(),
				})
				s.logger.Error("failed to migrate document",
					"number", row.Number, "kind", kind, "error", err)
				continue
			}
			existence[key] = ExistencePresent
			summary.Migrated++
			s.sleep(s.cfg.Throttle)
		}
	}
	return summary
}

func (s *Service) enumerate(ctx context.Context, window Window, kind domain.DocumentKind, summary *Summary) []BulkRow {
	var rows []BulkRow
	for _, source := range s.sources {
		var fetched []BulkRow
		err := s.withRetry(ctx, func() error {
			var fetchErr error
			fetched, fetchErr = source.Fetch(ctx, window, kind)
			return fetchErr
		})
		if err != nil {
			summary.Errors++
			s.logger.Error("bulk source failed", "source", source.Name(), "kind", kind, "error", err)
			continue
		}
		for _, row := range fetched {
			if row.Number == "" {
				summary.Skipped++
				continue
			}
			if !window.Contains(row.DatedAt) && !row.DatedAt.IsZero() {
				summary.Skipped++
				continue
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// precheck resolves existence for every not-yet-cached number in bounded
// batches rather than one round-trip per document.
func (s *Service) precheck(ctx context.Context, kind domain.DocumentKind, rows []BulkRow, existence map[string]Existence, summary *Summary) {
	var pending []string
	seen := make(map[string]struct{})
	for _, row := range rows {
		key := existenceKey(kind, row.Number)
		if _, cached := existence[key]; cached {
			continue
		}
		if _, dup := seen[row.Number]; dup {
			continue
		}
		seen[row.Number] = struct{}{}
		pending = append(pending, row.Number)
	}

	for start := 0; start < len(pending); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		var found map[string]struct{}
		err := s.withRetry(ctx, func() error {
			var checkErr error
			found, checkErr = s.snapshots.ExistingNumbers(ctx, kind, batch)
			return checkErr
		})
		if err != nil {
			status := ExistenceUnknown
			if !isTimeout(err) {
				summary.Errors++
				s.logger.Error("existence check failed", "kind", kind, "error", err)
			}
			for _, number := range batch {
				existence[existenceKey(kind, number)] = status
			}
			continue
		}
		for _, number := range batch {
			if _, ok := found[number]; ok {
				existence[existenceKey(kind, number)] = ExistencePresent
			} else {
				existence[existenceKey(kind, number)] = ExistenceAbsent
			}
		}
	}
}

// withRetry retries timeout-flavored failures with exponential backoff
// (base, 2x, 4x, ...) up to the configured bound. Non-timeout failures
// return immediately.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	delay := s.cfg.RetryBase
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isTimeout(err) || attempt >= s.cfg.RetryLimit {
			return err
		}
		s.logger.Warn("timeout, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.sleep(delay)
		delay *= 2
	}
}

// isTimeout matches the literal timeout marker the upstream drivers put in
// their error text.
func isTimeout(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// dedupeRows keeps only the most recently dated row per document number,
// preserving first-appearance order of the surviving numbers.
func dedupeRows(rows []BulkRow) []BulkRow {
	latest := make(map[string]BulkRow)
	order := []string{}
	for _, row := range rows {
		current, ok := latest[row.Number]
		if !ok {
			latest[row.Number] = row
			order = append(order, row.Number)
			continue
		}
		if row.DatedAt.After(current.DatedAt) {
			latest[row.Number] = row
		}
	}

	out := make([]BulkRow, 0, len(order))
	for _, number := range order {
		out = append(out, latest[number])
	}
	return out
}

func existenceKey(kind domain.DocumentKind, number string) string {
	return string(kind) + ":" + number
}

// SortedUnknowns lists the unknown/error numbers of a summary in a stable
// order for reporting.
func (s Summary) SortedUnknowns() []ItemOutcome {
	items := make([]ItemOutcome, len(s.Items))
	copy(items, s.Items)
	sort.Slice(items, func(i, j int) bool {
		if items[i].Status != items[j].Status {
			return items[i].Status < items[j].Status
		}
		return items[i].Number < items[j].Number
	})
	return items
}
