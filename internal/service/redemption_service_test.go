package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"levelup-loyalty/internal/ledger"
	"levelup-loyalty/internal/models"
	"levelup-loyalty/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var redemptionNumber = regexp.MustCompile(`^CANJE-\d{3}-2025$`)

func TestRedeemDebitsPointsAndStock(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		map[string]models.User{"u1": {Nombre: "Ana", Correo: "ana@gmail.com"}},
		map[string]int{"u1": 500},
		redeemable("MOUSE-01", 300, 5),
	)
	ctx := context.Background()

	order, receipt, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "MOUSE-01"})
	require.NoError(t, err)

	assert.Equal(t, 300, order.PuntosUsados)
	assert.Equal(t, 1, order.Cantidad)
	assert.Equal(t, models.StatusPending, order.Estado)
	assert.Equal(t, models.PickupInStore, order.MetodoRetiro)
	assert.True(t, order.StockReservado)
	assert.Regexp(t, redemptionNumber, order.NumeroOrden)

	assert.Equal(t, 200, f.balance(t, "u1"))
	assert.Equal(t, 4, f.stock(t, "MOUSE-01"))

	require.NotNil(t, receipt)
	assert.Equal(t, order.NumeroOrden, receipt.NumeroRecibo)
	assert.Equal(t, 200, receipt.PuntosRestantes)
	assert.Equal(t, "Ana", receipt.Usuario.Nombre)
	assert.Equal(t, 300, receipt.Producto.PuntosRequeridos)

	require.Len(t, f.pub.created, 1)
	assert.Equal(t, order.ID, f.pub.created[0].OrderID)

	entries := ledger.ForOrder(store.ReadCollection[models.LedgerEntry](ctx, f.gw, store.KeyLedger), order.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntrySpend, entries[0].Kind)
}

func TestRedeemWritesOrderDebitAndStockInOneBatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 500}, redeemable("P1", 300, 5))
	before := len(f.backend.Batches())

	_, _, err := f.redemptions.Create(context.Background(), &RedemptionRequest{UserID: "u1", ProductID: "P1"})
	require.NoError(t, err)

	journal := f.backend.Batches()[before:]
	// one batch advances the counter, one carries the order
	require.Len(t, journal, 2)
	assert.ElementsMatch(t,
		[]string{store.KeyRedemptionOrders, store.KeyProducts, store.KeyLedger},
		journal[1].Keys())
}

func TestCancelRedemptionRestoresPointsAndStock(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 500}, redeemable("P1", 300, 5))
	ctx := context.Background()

	order, _, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P1"})
	require.NoError(t, err)

	cancelled, err := f.redemptions.Transition(ctx, order.ID, models.StatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, cancelled.Estado)
	assert.False(t, cancelled.StockReservado)
	assert.Equal(t, 500, f.balance(t, "u1"))
	assert.Equal(t, 5, f.stock(t, "P1"))

	require.Len(t, f.pub.cancelled, 1)
	assert.Equal(t, 300, f.pub.cancelled[0].PointsRefunded)

	_, err = f.redemptions.Transition(ctx, order.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, 500, f.balance(t, "u1"))
}

func TestCancelConfirmedRedemption(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 800}, redeemable("P1", 300, 2))
	ctx := context.Background()

	order, _, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P1"})
	require.NoError(t, err)
	_, err = f.redemptions.Transition(ctx, order.ID, models.StatusConfirmed)
	require.NoError(t, err)
	_, err = f.redemptions.Transition(ctx, order.ID, models.StatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, 800, f.balance(t, "u1"))
	assert.Equal(t, 2, f.stock(t, "P1"))
}

func TestRedemptionLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 500}, redeemable("P1", 300, 5))
	ctx := context.Background()

	order, _, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P1"})
	require.NoError(t, err)

	for _, status := range []string{models.StatusConfirmed, models.StatusShipped, models.StatusDelivered} {
		updated, err := f.redemptions.Transition(ctx, order.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, updated.Estado)
	}

	_, err = f.redemptions.Transition(ctx, order.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, 200, f.balance(t, "u1"))
	assert.Len(t, f.pub.changed, 3)
}

func TestSkippingStatusIsRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 500}, redeemable("P1", 300, 5))
	ctx := context.Background()

	order, _, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P1"})
	require.NoError(t, err)

	_, err = f.redemptions.Transition(ctx, order.ID, models.StatusDelivered)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	stored, err := f.redemptions.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Estado)

	_, err = f.redemptions.Transition(ctx, order.ID, models.StatusRejected)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestRedeemWithInsufficientPointsChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 299}, redeemable("P1", 300, 5))
	before := len(f.backend.Batches())

	_, _, err := f.redemptions.Create(context.Background(), &RedemptionRequest{UserID: "u1", ProductID: "P1"})
	require.ErrorIs(t, err, models.ErrInsufficientPoints)

	assert.Len(t, f.backend.Batches(), before)
	assert.Equal(t, 299, f.balance(t, "u1"))
	assert.Equal(t, 5, f.stock(t, "P1"))
	assert.Empty(t, f.pub.created)
}

func TestRedeemOutOfStockIsCheckedBeforePoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 0}, redeemable("P1", 300, 0))

	_, _, err := f.redemptions.Create(context.Background(), &RedemptionRequest{UserID: "u1", ProductID: "P1"})
	assert.ErrorIs(t, err, models.ErrOutOfStock)
}

func TestRedeemProductConfiguration(t *testing.T) {
	notRedeemable := priced("P2", 5000, 3)
	misconfigured := redeemable("P3", 0, 3)
	misconfigured.Puntos = nil

	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 1000}, notRedeemable, misconfigured)
	ctx := context.Background()

	_, _, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P2"})
	assert.ErrorIs(t, err, models.ErrNotRedeemable)

	_, _, err = f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P3"})
	assert.ErrorIs(t, err, models.ErrProductMisconfigured)

	_, _, err = f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "missing"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, 1000, f.balance(t, "u1"))
}

func TestRedeemShippingRequiresAddress(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 1000}, redeemable("P1", 300, 5))
	ctx := context.Background()

	_, _, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P1", MetodoRetiro: models.PickupShip})
	assert.ErrorIs(t, err, models.ErrInvalidOrder)

	order, receipt, err := f.redemptions.Create(ctx, &RedemptionRequest{
		UserID:         "u1",
		ProductID:      "P1",
		MetodoRetiro:   models.PickupShip,
		DireccionEnvio: &models.Address{Calle: "Av. Siempre Viva", Numero: "742", Ciudad: "Santiago", Region: "RM"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PickupShip, order.MetodoRetiro)
	assert.Equal(t, "Av. Siempre Viva 742, Santiago, RM", receipt.DireccionEnvio)
}

func TestRedeemFailsWhenNothingPersists(t *testing.T) {
	backend := store.NewMemoryBackend("local")
	f := newFixtureWith(t, backend, &commitFailingBackend{MemoryBackend: backend})
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 500}, redeemable("P1", 300, 5))
	ledgerBefore := readRaw(t, backend, store.KeyLedger)
	productsBefore := readRaw(t, backend, store.KeyProducts)

	_, _, err := f.redemptions.Create(context.Background(), &RedemptionRequest{UserID: "u1", ProductID: "P1"})
	require.ErrorIs(t, err, models.ErrPersistenceUnavailable)

	assert.Equal(t, ledgerBefore, readRaw(t, backend, store.KeyLedger))
	assert.Equal(t, productsBefore, readRaw(t, backend, store.KeyProducts))
	_, err = backend.Get(context.Background(), store.KeyRedemptionOrders)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestRedeemIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 1000}, redeemable("P1", 300, 5))
	ctx := context.Background()
	req := &RedemptionRequest{UserID: "u1", ProductID: "P1", IdempotencyKey: "checkout-42"}

	first, _, err := f.redemptions.Create(ctx, req)
	require.NoError(t, err)
	second, receipt, err := f.redemptions.Create(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.NumeroOrden, receipt.NumeroRecibo)
	assert.Equal(t, 700, f.balance(t, "u1"))
	assert.Equal(t, 4, f.stock(t, "P1"))
	assert.Len(t, f.pub.created, 1)
}

func TestRedemptionNumbersIncrease(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 10000}, redeemable("P1", 100, 50))
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 1; i <= 10; i++ {
		order, _, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P1"})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("CANJE-%03d-2025", i), order.NumeroOrden)
		assert.False(t, seen[order.NumeroOrden])
		seen[order.NumeroOrden] = true
	}

	orders := f.redemptions.FindByUser(ctx, "u1")
	require.Len(t, orders, 10)
	assert.Equal(t, "CANJE-010-2025", orders[0].NumeroOrden)
}

func TestUpdateRedemption(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 500}, redeemable("P1", 300, 5))
	ctx := context.Background()

	order, _, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P1", Notas: "regalo"})
	require.NoError(t, err)

	stored := readRaw(t, f.backend, store.KeyRedemptionOrders)
	journal := len(f.backend.Batches())

	same, err := f.redemptions.Update(ctx, order.ID, &RedemptionPatch{})
	require.NoError(t, err)
	assert.Equal(t, order.ID, same.ID)
	assert.Equal(t, stored, readRaw(t, f.backend, store.KeyRedemptionOrders))
	assert.Len(t, f.backend.Batches(), journal)

	updated, err := f.redemptions.Update(ctx, order.ID, &RedemptionPatch{Notas: strPtr("envolver")})
	require.NoError(t, err)
	assert.Equal(t, "envolver", updated.Notas)
	assert.Equal(t, models.PickupInStore, updated.MetodoRetiro)
	assert.Equal(t, order.NumeroOrden, updated.NumeroOrden)
	assert.Equal(t, models.StatusPending, updated.Estado)

	_, err = f.redemptions.Update(ctx, "missing", &RedemptionPatch{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteRedemptionKeepsLedger(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 500}, redeemable("P1", 300, 5))
	ctx := context.Background()

	order, _, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P1"})
	require.NoError(t, err)

	require.NoError(t, f.redemptions.Delete(ctx, order.ID))
	_, err = f.redemptions.FindByID(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, 200, f.balance(t, "u1"))
	assert.Equal(t, 4, f.stock(t, "P1"))
	assert.ErrorIs(t, f.redemptions.Delete(ctx, order.ID), models.ErrNotFound)
}

func TestTransitionFailsWhenStorageUnreadable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, map[string]models.User{"u1": {Nombre: "Ana"}}, map[string]int{"u1": 500}, redeemable("P1", 300, 5))
	ctx := context.Background()

	order, _, err := f.redemptions.Create(ctx, &RedemptionRequest{UserID: "u1", ProductID: "P1"})
	require.NoError(t, err)

	f.backend.SetFailure(errors.New("i/o error"))
	_, err = f.redemptions.Transition(ctx, order.ID, models.StatusCancelled)
	require.ErrorIs(t, err, models.ErrPersistenceUnavailable)
	assert.NotErrorIs(t, err, models.ErrNotFound)
}
