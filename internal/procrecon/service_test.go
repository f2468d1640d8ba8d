package procrecon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttavares/comexsync/internal/domain"
	"github.com/ttavares/comexsync/internal/reconcile"
	"github.com/ttavares/comexsync/internal/source"
)

type stubDiscoverer struct {
	name string
	docs map[domain.DocumentKind][]source.DiscoveredDocument
	err  error
	// calls records which kinds were consulted, in order.
	calls []domain.DocumentKind
}

func (s *stubDiscoverer) Name() string { return s.name }

func (s *stubDiscoverer) Discover(_ context.Context, _ string, kind domain.DocumentKind) ([]source.DiscoveredDocument, error) {
	s.calls = append(s.calls, kind)
	if s.err != nil {
		return nil, s.err
	}
	return s.docs[kind], nil
}

type observedCall struct {
	identity   domain.Identity
	processRef string
	source     string
	actor      string
}

type stubObserver struct {
	calls   []observedCall
	results map[string]reconcile.Result
	errs    map[string]error
}

func (s *stubObserver) ObserveFields(_ context.Context, identity domain.Identity, _ domain.FieldSet, _ json.RawMessage, processRef, src, actor string) (reconcile.Result, error) {
	s.calls = append(s.calls, observedCall{identity: identity, processRef: processRef, source: src, actor: actor})
	if err, ok := s.errs[identity.Number]; ok {
		return reconcile.Result{}, err
	}
	if result, ok := s.results[identity.Number]; ok {
		return result, nil
	}
	return reconcile.Result{Created: true}, nil
}

type stubCostRepo struct {
	inserted []domain.ImportCosts
	conflict bool
	err      error
}

func (s *stubCostRepo) Insert(_ context.Context, costs domain.ImportCosts) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.inserted = append(s.inserted, costs)
	return !s.conflict, nil
}

type stubCostSource struct {
	costs map[string]*domain.ImportCosts
	err   error
}

func (s *stubCostSource) CostsFor(_ context.Context, number string) (*domain.ImportCosts, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.costs[number], nil
}

type stubHealer struct {
	widened int
	err     error
}

func (s *stubHealer) WidenLegacyColumns(context.Context) error {
	s.widened++
	return s.err
}

func (s *stubHealer) FindByIdentity(context.Context, domain.Identity) (*domain.Snapshot, error) {
	return nil, nil
}
func (s *stubHealer) Insert(context.Context, *domain.Snapshot) error { return nil }
func (s *stubHealer) Update(context.Context, *domain.Snapshot) error { return nil }
func (s *stubHealer) ListByProcess(context.Context, string) ([]domain.Snapshot, error) {
	return nil, nil
}
func (s *stubHealer) ExistingNumbers(context.Context, domain.DocumentKind, []string) (map[string]struct{}, error) {
	return nil, nil
}

func discovered(number string) source.DiscoveredDocument {
	return source.DiscoveredDocument{
		Number: number,
		Fields: domain.FieldSet{Status: "REGISTERED"},
		Raw:    json.RawMessage(`{"number":"` + number + `"}`),
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileRequiresProcessRef(t *testing.T) {
	svc := NewService(nil, &stubObserver{}, nil, nil, &stubHealer{}, quietLogger())
	_, err := svc.Reconcile(context.Background(), "")
	require.Error(t, err)
}

func TestReconcileFirstNonEmptySourceWins(t *testing.T) {
	cache := &stubDiscoverer{name: "cache", docs: map[domain.DocumentKind][]source.DiscoveredDocument{
		domain.KindImportDeclaration: {discovered("2612345678")},
	}}
	index := &stubDiscoverer{name: "process-index"}
	observer := &stubObserver{}
	svc := NewService([]source.Discoverer{cache, index}, observer, nil, nil, &stubHealer{}, quietLogger())

	summary, err := svc.Reconcile(context.Background(), "PRC-2026-0001")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Discovered)
	assert.Equal(t, 1, summary.Created)
	require.Len(t, observer.calls, 1)
	assert.Equal(t, "2612345678", observer.calls[0].identity.Number)
	assert.Equal(t, "PRC-2026-0001", observer.calls[0].processRef)
	assert.Equal(t, SourceTag, observer.calls[0].source)
	assert.Equal(t, "process-reconciler", observer.calls[0].actor)

	// The fallback is consulted only for kinds the cache answered empty on.
	assert.NotContains(t, index.calls, domain.KindImportDeclaration)
	assert.Contains(t, index.calls, domain.KindCargoManifest)
}

func TestReconcileFailingSourceFallsThrough(t *testing.T) {
	broken := &stubDiscoverer{name: "cache", err: errors.New("database is locked")}
	index := &stubDiscoverer{name: "process-index", docs: map[domain.DocumentKind][]source.DiscoveredDocument{
		domain.KindCargoManifest: {discovered("172505417636125")},
	}}
	observer := &stubObserver{}
	svc := NewService([]source.Discoverer{broken, index}, observer, nil, nil, &stubHealer{}, quietLogger())

	summary, err := svc.Reconcile(context.Background(), "PRC-2026-0002")
	require.NoError(t, err)

	// A failing discovery source is not a reconciliation error.
	assert.Zero(t, summary.Errors)
	assert.Equal(t, 1, summary.Discovered)
	require.Len(t, observer.calls, 1)
	assert.Equal(t, "172505417636125", observer.calls[0].identity.Number)
}

func TestReconcileCountsCreatedAndUpdated(t *testing.T) {
	cache := &stubDiscoverer{name: "cache", docs: map[domain.DocumentKind][]source.DiscoveredDocument{
		domain.KindCargoManifest: {discovered("101"), discovered("102")},
	}}
	observer := &stubObserver{results: map[string]reconcile.Result{
		"101": {Created: true},
		"102": {Updated: true},
	}}
	svc := NewService([]source.Discoverer{cache}, observer, nil, nil, &stubHealer{}, quietLogger())

	summary, err := svc.Reconcile(context.Background(), "PRC-2026-0003")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Updated)
}

func TestReconcileObserveFailureCountedPerDocument(t *testing.T) {
	cache := &stubDiscoverer{name: "cache", docs: map[domain.DocumentKind][]source.DiscoveredDocument{
		domain.KindCargoManifest: {discovered("201"), discovered("202")},
	}}
	observer := &stubObserver{errs: map[string]error{"201": errors.New("write failed")}}
	svc := NewService([]source.Discoverer{cache}, observer, nil, nil, &stubHealer{}, quietLogger())

	summary, err := svc.Reconcile(context.Background(), "PRC-2026-0004")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Created)
	assert.Len(t, observer.calls, 2)
}

func TestReconcileWritesDeclarationCosts(t *testing.T) {
	cache := &stubDiscoverer{name: "cache", docs: map[domain.DocumentKind][]source.DiscoveredDocument{
		domain.KindImportDeclaration: {discovered("2612345678")},
		domain.KindCargoManifest:     {discovered("172505417636125")},
	}}
	observer := &stubObserver{}
	repo := &stubCostRepo{}
	costSrc := &stubCostSource{costs: map[string]*domain.ImportCosts{
		"2612345678": {Number: "2612345678", MerchandiseValue: 48250.10, Freight: 1520.40, DutiesPaid: 6120.33, Currency: "USD"},
	}}
	svc := NewService([]source.Discoverer{cache}, observer, repo, costSrc, &stubHealer{}, quietLogger())

	summary, err := svc.Reconcile(context.Background(), "PRC-2026-0005")
	require.NoError(t, err)

	// Costs are derived for import declarations only.
	assert.Equal(t, 1, summary.CostsWritten)
	require.Len(t, repo.inserted, 1)
	assert.Equal(t, "2612345678", repo.inserted[0].Number)
	assert.Equal(t, "PRC-2026-0005", repo.inserted[0].ProcessRef)
	assert.False(t, repo.inserted[0].CreatedAt.IsZero())
}

func TestReconcileCostConflictIsNotAnError(t *testing.T) {
	cache := &stubDiscoverer{name: "cache", docs: map[domain.DocumentKind][]source.DiscoveredDocument{
		domain.KindImportDeclaration: {discovered("2612345678")},
	}}
	repo := &stubCostRepo{conflict: true}
	costSrc := &stubCostSource{costs: map[string]*domain.ImportCosts{
		"2612345678": {Number: "2612345678"},
	}}
	svc := NewService([]source.Discoverer{cache}, &stubObserver{}, repo, costSrc, &stubHealer{}, quietLogger())

	summary, err := svc.Reconcile(context.Background(), "PRC-2026-0006")
	require.NoError(t, err)

	assert.Zero(t, summary.Errors)
	assert.Zero(t, summary.CostsWritten)
}

func TestReconcileMissingCostsIsSilent(t *testing.T) {
	cache := &stubDiscoverer{name: "cache", docs: map[domain.DocumentKind][]source.DiscoveredDocument{
		domain.KindImportDeclaration: {discovered("2699999999")},
	}}
	repo := &stubCostRepo{}
	svc := NewService([]source.Discoverer{cache}, &stubObserver{}, repo, &stubCostSource{}, &stubHealer{}, quietLogger())

	summary, err := svc.Reconcile(context.Background(), "PRC-2026-0007")
	require.NoError(t, err)

	assert.Zero(t, summary.Errors)
	assert.Zero(t, summary.CostsWritten)
	assert.Empty(t, repo.inserted)
}

func TestReconcileSelfHealsOncePerInstance(t *testing.T) {
	healer := &stubHealer{}
	svc := NewService(nil, &stubObserver{}, nil, nil, healer, quietLogger())

	_, err := svc.Reconcile(context.Background(), "PRC-2026-0008")
	require.NoError(t, err)
	_, err = svc.Reconcile(context.Background(), "PRC-2026-0009")
	require.NoError(t, err)

	assert.Equal(t, 1, healer.widened)
}

func TestReconcileSelfHealFailureAborts(t *testing.T) {
	healer := &stubHealer{err: errors.New("permission denied for table document_snapshots")}
	observer := &stubObserver{}
	svc := NewService(nil, observer, nil, nil, healer, quietLogger())

	_, err := svc.Reconcile(context.Background(), "PRC-2026-0010")
	require.Error(t, err)
	assert.Empty(t, observer.calls)
}
