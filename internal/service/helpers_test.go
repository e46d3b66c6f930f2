package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"levelup-loyalty/internal/ledger"
	"levelup-loyalty/internal/models"
	"levelup-loyalty/internal/sequence"
	"levelup-loyalty/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu        sync.Mutex
	created   []*models.OrderCreatedEvent
	changed   []*models.OrderStatusChangedEvent
	cancelled []*models.OrderCancelledEvent
	earned    []*models.PointsEarnedEvent
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return nil
}

func (p *recordingPublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *recordingPublisher) PublishPointsEarned(_ context.Context, e *models.PointsEarnedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.earned = append(p.earned, e)
	return nil
}

// commitFailingBackend serves reads but refuses every write
type commitFailingBackend struct {
	*store.MemoryBackend
}

func (b *commitFailingBackend) Commit(context.Context, *store.Batch) error {
	return errors.New("read-only filesystem")
}

type fixture struct {
	backend     *store.MemoryBackend
	gw          *store.Gateway
	pub         *recordingPublisher
	users       *UserService
	catalog     *CatalogService
	redemptions *RedemptionService
	purchases   *PurchaseService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := store.NewMemoryBackend("local")
	return newFixtureWith(t, backend, backend)
}

func newFixtureWith(t *testing.T, backend *store.MemoryBackend, gwBackend store.Backend) *fixture {
	t.Helper()
	gw := store.NewGateway([]store.Backend{gwBackend})
	pub := &recordingPublisher{}

	clock := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	f := &fixture{
		backend:     backend,
		gw:          gw,
		pub:         pub,
		users:       NewUserService(gw),
		catalog:     NewCatalogService(gw),
		redemptions: NewRedemptionService(gw, sequence.New(gw, store.KeyRedemptionSeq), pub),
		purchases:   NewPurchaseService(gw, sequence.New(gw, store.KeyPurchaseSeq), ledger.NewRules(100), 20, pub),
	}
	f.redemptions.now = tick
	f.purchases.now = tick
	return f
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func putRaw(t *testing.T, backend *store.MemoryBackend, key string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	batch := store.NewBatch("fixture")
	batch.Put(key, data)
	require.NoError(t, backend.Commit(context.Background(), batch))
}

func readRaw(t *testing.T, backend *store.MemoryBackend, key string) []byte {
	t.Helper()
	data, err := backend.Get(context.Background(), key)
	require.NoError(t, err)
	return data
}

// seed writes users with opening balances and products straight into the backend
func (f *fixture) seed(t *testing.T, users map[string]models.User, balances map[string]int, products ...models.Product) {
	t.Helper()
	list := make([]models.User, 0, len(users))
	for id, u := range users {
		u.ID = id
		if u.Nivel == "" {
			u.Nivel = models.TierBronze
		}
		u.Activo = true
		list = append(list, u)
	}
	entries := make([]models.LedgerEntry, 0, len(balances))
	for id, points := range balances {
		entries = append(entries, ledger.NewEntry(id, models.EntryAdjust, points, "", "", "opening balance"))
	}
	putRaw(t, f.backend, store.KeyUsers, list)
	putRaw(t, f.backend, store.KeyLedger, entries)
	putRaw(t, f.backend, store.KeyProducts, products)
}

func redeemable(codigo string, puntos, stock int) models.Product {
	return models.Product{
		Codigo:    codigo,
		Categoria: "Accesorios",
		Nombre:    "Producto " + codigo,
		Precio:    decimal.NewFromInt(19990),
		Stock:     stock,
		Puntos:    intPtr(puntos),
		Activo:    true,
		Canjeable: true,
	}
}

func priced(codigo string, precio int64, stock int) models.Product {
	return models.Product{
		Codigo:    codigo,
		Categoria: "Consolas",
		Nombre:    "Producto " + codigo,
		Precio:    decimal.NewFromInt(precio),
		Stock:     stock,
		Activo:    true,
	}
}

func (f *fixture) balance(t *testing.T, userID string) int {
	t.Helper()
	b, err := f.users.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) stock(t *testing.T, codigo string) int {
	t.Helper()
	p, err := f.catalog.Get(context.Background(), codigo)
	require.NoError(t, err)
	return p.Stock
}
