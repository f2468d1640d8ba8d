package backfill

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttavares/comexsync/internal/domain"
	"github.com/ttavares/comexsync/internal/reconcile"
)

type stubSource struct {
	name string
	rows map[domain.DocumentKind][]BulkRow
	errs []error
	// fetches counts every Fetch call, including retried ones.
	fetches int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(_ context.Context, _ Window, kind domain.DocumentKind) ([]BulkRow, error) {
	s.fetches++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.rows[kind], nil
}

type stubIngestor struct {
	errs     []error
	observed []reconcile.Observation
}

func (s *stubIngestor) Observe(_ context.Context, obs reconcile.Observation) (reconcile.Result, error) {
	s.observed = append(s.observed, obs)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return reconcile.Result{}, err
		}
	}
	return reconcile.Result{Created: true}, nil
}

// stubChecker implements only the slice of SnapshotRepository the backfill
// exercises; the remaining methods are never reached from Run.
type stubChecker struct {
	existing map[string]struct{}
	errs     []error
	batches  [][]string
}

func (s *stubChecker) ExistingNumbers(_ context.Context, _ domain.DocumentKind, numbers []string) (map[string]struct{}, error) {
	batch := make([]string, len(numbers))
	copy(batch, numbers)
	s.batches = append(s.batches, batch)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	found := make(map[string]struct{})
	for _, number := range numbers {
		if _, ok := s.existing[number]; ok {
			found[number] = struct{}{}
		}
	}
	return found, nil
}

func (s *stubChecker) FindByIdentity(context.Context, domain.Identity) (*domain.Snapshot, error) {
	return nil, nil
}
func (s *stubChecker) Insert(context.Context, *domain.Snapshot) error { return nil }
func (s *stubChecker) Update(context.Context, *domain.Snapshot) error { return nil }
func (s *stubChecker) ListByProcess(context.Context, string) ([]domain.Snapshot, error) {
	return nil, nil
}
func (s *stubChecker) WidenLegacyColumns(context.Context) error { return nil }

func manifestRow(number string, dated time.Time) BulkRow {
	return BulkRow{
		Number:  number,
		Kind:    domain.KindCargoManifest,
		DatedAt: dated,
		Origin:  domain.OriginReplica,
		Payload: domain.Payload{"status_text": "UNLOADED"},
	}
}

func newTestService(source BulkSource, engine Ingestor, checker *stubChecker, cfg Config) (*Service, *[]time.Duration) {
	var slept []time.Duration
	svc := NewService([]BulkSource{source}, engine, checker, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithSleeper(func(d time.Duration) { slept = append(slept, d) })
	return svc, &slept
}

func TestRunMigratesAbsentDocuments(t *testing.T) {
	dated := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	source := &stubSource{name: "replica", rows: map[domain.DocumentKind][]BulkRow{
		domain.KindCargoManifest: {manifestRow("101", dated), manifestRow("102", dated)},
	}}
	engine := &stubIngestor{}
	checker := &stubChecker{existing: map[string]struct{}{"102": {}}}
	svc, _ := newTestService(source, engine, checker, DefaultConfig())

	summary := svc.Run(context.Background(), Options{Kinds: []domain.DocumentKind{domain.KindCargoManifest}})

	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 1, summary.Migrated)
	assert.Equal(t, 1, summary.Existing)
	assert.Zero(t, summary.Errors)
	require.Len(t, engine.observed, 1)
	assert.Equal(t, "101", engine.observed[0].Number)
	assert.Equal(t, "backfill", engine.observed[0].Source)
	assert.Equal(t, "backfill-worker", engine.observed[0].Actor)
}

func TestRunDedupesToMostRecentRow(t *testing.T) {
	older := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 1, 0)
	stale := manifestRow("200", older)
	fresh := manifestRow("200", newer)
	fresh.Payload = domain.Payload{"status_text": "LINKED_TO_CLEARANCE_DOCUMENT"}

	source := &stubSource{name: "replica", rows: map[domain.DocumentKind][]BulkRow{
		domain.KindCargoManifest: {stale, fresh},
	}}
	engine := &stubIngestor{}
	svc, _ := newTestService(source, engine, &stubChecker{}, DefaultConfig())

	summary := svc.Run(context.Background(), Options{Kinds: []domain.DocumentKind{domain.KindCargoManifest}})

	assert.Equal(t, 1, summary.Scanned)
	require.Len(t, engine.observed, 1)
	assert.Equal(t, "LINKED_TO_CLEARANCE_DOCUMENT", engine.observed[0].Payload["status_text"])
}

func TestRunDryRunPerformsNoWrites(t *testing.T) {
	dated := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	source := &stubSource{name: "replica", rows: map[domain.DocumentKind][]BulkRow{
		domain.KindCargoManifest: {manifestRow("300", dated)},
	}}
	engine := &stubIngestor{}
	checker := &stubChecker{}
	svc, _ := newTestService(source, engine, checker, DefaultConfig())

	summary := svc.Run(context.Background(), Options{
		Kinds:  []domain.DocumentKind{domain.KindCargoManifest},
		DryRun: true,
	})

	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Migrated)
	assert.Empty(t, engine.observed)
	// The dry run still performed a real existence check.
	assert.Len(t, checker.batches, 1)
}

func TestRunTimeoutExhaustionLeavesExistenceUnknown(t *testing.T) {
	dated := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	source := &stubSource{name: "replica", rows: map[domain.DocumentKind][]BulkRow{
		domain.KindCargoManifest: {manifestRow("400", dated)},
	}}
	engine := &stubIngestor{}
	timeout := errors.New("i/o timeout")
	checker := &stubChecker{errs: []error{timeout, timeout, timeout}}
	cfg := DefaultConfig()
	cfg.RetryLimit = 2
	cfg.RetryBase = time.Second
	svc, slept := newTestService(source, engine, checker, cfg)

	summary := svc.Run(context.Background(), Options{Kinds: []domain.DocumentKind{domain.KindCargoManifest}})

	// First attempt plus RetryLimit retries, then the document surfaces as
	// unknown rather than absent or failed.
	assert.Len(t, checker.batches, 3)
	assert.Equal(t, 1, summary.Unknown)
	assert.Zero(t, summary.Migrated)
	assert.Zero(t, summary.Errors)
	assert.Empty(t, engine.observed)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, "unknown", summary.Items[0].Status)
	// Backoff doubled between attempts.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestRunNonTimeoutCheckFailureCountsError(t *testing.T) {
	dated := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	source := &stubSource{name: "replica", rows: map[domain.DocumentKind][]BulkRow{
		domain.KindCargoManifest: {manifestRow("410", dated)},
	}}
	engine := &stubIngestor{}
	checker := &stubChecker{errs: []error{errors.New("connection refused")}}
	svc, _ := newTestService(source, engine, checker, DefaultConfig())

	summary := svc.Run(context.Background(), Options{Kinds: []domain.DocumentKind{domain.KindCargoManifest}})

	// No retry for non-timeout failures, and the batch is still held back as
	// unknown instead of being written blind.
	assert.Len(t, checker.batches, 1)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Unknown)
	assert.Empty(t, engine.observed)
}

func TestRunRetriesTimeoutWritesThenSucceeds(t *testing.T) {
	dated := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	source := &stubSource{name: "replica", rows: map[domain.DocumentKind][]BulkRow{
		domain.KindCargoManifest: {manifestRow("500", dated)},
	}}
	engine := &stubIngestor{errs: []error{errors.New("statement timeout")}}
	cfg := DefaultConfig()
	cfg.Throttle = 0
	svc, slept := newTestService(source, engine, &stubChecker{}, cfg)

	summary := svc.Run(context.Background(), Options{Kinds: []domain.DocumentKind{domain.KindCargoManifest}})

	assert.Equal(t, 1, summary.Migrated)
	assert.Zero(t, summary.Errors)
	assert.Len(t, engine.observed, 2)
	require.NotEmpty(t, *slept)
	assert.Equal(t, time.Second, (*slept)[0])
}

func TestRunWriteFailureIsRecordedAndRunContinues(t *testing.T) {
	dated := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	source := &stubSource{name: "replica", rows: map[domain.DocumentKind][]BulkRow{
		domain.KindCargoManifest: {manifestRow("600", dated), manifestRow("601", dated)},
	}}
	engine := &stubIngestor{errs: []error{errors.New("invalid payload")}}
	cfg := DefaultConfig()
	cfg.Throttle = 0
	svc, _ := newTestService(source, engine, &stubChecker{}, cfg)

	summary := svc.Run(context.Background(), Options{Kinds: []domain.DocumentKind{domain.KindCargoManifest}})

	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Migrated)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, "600", summary.Items[0].Number)
	assert.Equal(t, "error", summary.Items[0].Status)
}

func TestRunHonorsLimit(t *testing.T) {
	dated := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	source := &stubSource{name: "replica", rows: map[domain.DocumentKind][]BulkRow{
		domain.KindCargoManifest: {
			manifestRow("700", dated), manifestRow("701", dated), manifestRow("702", dated),
		},
	}}
	engine := &stubIngestor{}
	cfg := DefaultConfig()
	cfg.Throttle = 0
	svc, _ := newTestService(source, engine, &stubChecker{}, cfg)

	summary := svc.Run(context.Background(), Options{
		Kinds: []domain.DocumentKind{domain.KindCargoManifest},
		Limit: 2,
	})

	assert.Equal(t, 2, summary.Migrated)
	assert.Len(t, engine.observed, 2)
}

func TestRunSkipsRowsOutsideWindow(t *testing.T) {
	window := Window{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC),
	}
	inside := manifestRow("800", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	outside := manifestRow("801", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	unnumbered := manifestRow("", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))

	source := &stubSource{name: "replica", rows: map[domain.DocumentKind][]BulkRow{
		domain.KindCargoManifest: {inside, outside, unnumbered},
	}}
	engine := &stubIngestor{}
	cfg := DefaultConfig()
	cfg.Throttle = 0
	svc, _ := newTestService(source, engine, &stubChecker{}, cfg)

	summary := svc.Run(context.Background(), Options{
		Window: window,
		Kinds:  []domain.DocumentKind{domain.KindCargoManifest},
	})

	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 2, summary.Skipped)
	require.Len(t, engine.observed, 1)
	assert.Equal(t, "800", engine.observed[0].Number)
}

func TestRunBatchesExistenceChecks(t *testing.T) {
	dated := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	rows := []BulkRow{
		manifestRow("900", dated), manifestRow("901", dated), manifestRow("902", dated),
	}
	source := &stubSource{name: "replica", rows: map[domain.DocumentKind][]BulkRow{
		domain.KindCargoManifest: rows,
	}}
	engine := &stubIngestor{}
	checker := &stubChecker{}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.Throttle = 0
	svc, _ := newTestService(source, engine, checker, cfg)

	svc.Run(context.Background(), Options{Kinds: []domain.DocumentKind{domain.KindCargoManifest}})

	require.Len(t, checker.batches, 2)
	assert.Equal(t, []string{"900", "901"}, checker.batches[0])
	assert.Equal(t, []string{"902"}, checker.batches[1])
}
