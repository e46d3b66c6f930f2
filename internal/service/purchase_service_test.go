package service

import (
	"context"
	"testing"

	"levelup-loyalty/internal/models"
	"levelup-loyalty/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var santiago = models.Address{Calle: "Alameda", Numero: "123", Ciudad: "Santiago", Region: "RM"}

func purchaseFixture(t *testing.T) *fixture {
	f := newFixture(t)
	f.seed(t,
		map[string]models.User{
			"duoc":   {Nombre: "Diego", Correo: "diego@duocuc.cl", Tipo: models.UserTypeDuoc},
			"normal": {Nombre: "Nora", Correo: "nora@gmail.com", Tipo: models.UserTypeNormal},
		},
		map[string]int{"duoc": 1000, "normal": 0},
		priced("PS5", 50000, 3),
		priced("CTRL", 10000, 1),
	)
	return f
}

func TestCreatePurchase(t *testing.T) {
	f := purchaseFixture(t)
	ctx := context.Background()

	order, err := f.purchases.Create(ctx, &PurchaseRequest{
		UserID:         "duoc",
		Items:          []PurchaseItemRequest{{ProductID: "PS5", Quantity: 1}, {ProductID: "CTRL", Quantity: 1}},
		PuntosUsados:   1000,
		DireccionEnvio: santiago,
		MetodoPago:     "debito",
	})
	require.NoError(t, err)

	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(60000)))
	assert.True(t, order.DescuentoDuoc.Equal(decimal.NewFromInt(12000)))
	assert.True(t, order.DescuentoPuntos.Equal(decimal.NewFromInt(1000)))
	assert.True(t, order.Total.Equal(decimal.NewFromInt(47000)))
	assert.Equal(t, 1000, order.PuntosUsados)
	assert.Equal(t, 470, order.PuntosGanados)
	assert.Equal(t, models.StatusPending, order.Estado)
	assert.Equal(t, "ORD-001-2025", order.NumeroOrden)
	assert.Equal(t, "cliente", order.CreadoPor)
	require.Len(t, order.Items, 2)
	assert.True(t, order.Items[0].TotalPrice.Equal(decimal.NewFromInt(50000)))

	assert.Equal(t, 470, f.balance(t, "duoc"))
	assert.Equal(t, 2, f.stock(t, "PS5"))
	assert.Equal(t, 0, f.stock(t, "CTRL"))

	require.Len(t, f.pub.earned, 1)
	assert.Equal(t, 470, f.pub.earned[0].Points)
	require.Len(t, f.pub.created, 1)
	assert.Equal(t, "47000", f.pub.created[0].Total)
}

func TestCreatePurchaseRejectsWholeOrderOnShortStock(t *testing.T) {
	f := purchaseFixture(t)
	ctx := context.Background()
	before := len(f.backend.Batches())

	_, err := f.purchases.Create(ctx, &PurchaseRequest{
		UserID:         "normal",
		Items:          []PurchaseItemRequest{{ProductID: "PS5", Quantity: 1}, {ProductID: "CTRL", Quantity: 2}},
		DireccionEnvio: santiago,
		MetodoPago:     "tarjeta",
	})
	require.ErrorIs(t, err, models.ErrOutOfStock)

	assert.Len(t, f.backend.Batches(), before)
	assert.Equal(t, 3, f.stock(t, "PS5"))
	assert.Equal(t, 1, f.stock(t, "CTRL"))
}

func TestCreatePurchaseValidation(t *testing.T) {
	f := purchaseFixture(t)
	ctx := context.Background()
	items := []PurchaseItemRequest{{ProductID: "PS5", Quantity: 1}}

	_, err := f.purchases.Create(ctx, &PurchaseRequest{UserID: "normal", Items: items, PuntosUsados: 1, DireccionEnvio: santiago, MetodoPago: "tarjeta"})
	assert.ErrorIs(t, err, models.ErrInsufficientPoints)

	_, err = f.purchases.Create(ctx, &PurchaseRequest{UserID: "normal", Items: items, DireccionEnvio: santiago, MetodoPago: "bitcoin"})
	assert.ErrorIs(t, err, models.ErrInvalidOrder)

	_, err = f.purchases.Create(ctx, &PurchaseRequest{UserID: "normal", Items: items, MetodoPago: "tarjeta"})
	assert.ErrorIs(t, err, models.ErrInvalidOrder)

	_, err = f.purchases.Create(ctx, &PurchaseRequest{UserID: "normal", DireccionEnvio: santiago, MetodoPago: "tarjeta"})
	assert.ErrorIs(t, err, models.ErrInvalidOrder)

	_, err = f.purchases.Create(ctx, &PurchaseRequest{UserID: "ghost", Items: items, DireccionEnvio: santiago, MetodoPago: "tarjeta"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, 3, f.stock(t, "PS5"))
	assert.Empty(t, f.purchases.List(ctx))
}

func TestCancelPurchaseRestoresEverything(t *testing.T) {
	f := purchaseFixture(t)
	ctx := context.Background()

	order, err := f.purchases.Create(ctx, &PurchaseRequest{
		UserID:         "duoc",
		Items:          []PurchaseItemRequest{{ProductID: "PS5", Quantity: 2}},
		PuntosUsados:   500,
		DireccionEnvio: santiago,
		MetodoPago:     "mach",
	})
	require.NoError(t, err)
	assert.Equal(t, 1000-500+order.PuntosGanados, f.balance(t, "duoc"))

	_, err = f.purchases.Transition(ctx, order.ID, models.StatusProcessing)
	require.NoError(t, err)
	cancelled, err := f.purchases.Transition(ctx, order.ID, models.StatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, cancelled.Estado)
	assert.Equal(t, 1000, f.balance(t, "duoc"))
	assert.Equal(t, 3, f.stock(t, "PS5"))

	require.Len(t, f.pub.cancelled, 1)
	assert.Equal(t, 500, f.pub.cancelled[0].PointsRefunded)
	assert.Equal(t, order.PuntosGanados, f.pub.cancelled[0].PointsRevoked)
}

func TestRejectPurchaseClampsRevocation(t *testing.T) {
	f := purchaseFixture(t)
	ctx := context.Background()

	order, err := f.purchases.Create(ctx, &PurchaseRequest{
		UserID:         "normal",
		Items:          []PurchaseItemRequest{{ProductID: "PS5", Quantity: 1}},
		DireccionEnvio: santiago,
		MetodoPago:     "efectivo",
	})
	require.NoError(t, err)
	require.Equal(t, 500, order.PuntosGanados)

	_, err = f.users.GrantPoints(ctx, "normal", &GrantPointsRequest{Points: -400, Reason: "spent elsewhere"})
	require.NoError(t, err)
	require.Equal(t, 100, f.balance(t, "normal"))

	_, err = f.purchases.Transition(ctx, order.ID, models.StatusRejected)
	require.NoError(t, err)

	assert.Equal(t, 0, f.balance(t, "normal"))
	assert.Equal(t, 3, f.stock(t, "PS5"))
	require.Len(t, f.pub.cancelled, 1)
	assert.Equal(t, 100, f.pub.cancelled[0].PointsRevoked)
}

func TestPurchaseTransitions(t *testing.T) {
	f := purchaseFixture(t)
	ctx := context.Background()

	order, err := f.purchases.Create(ctx, &PurchaseRequest{
		UserID:         "normal",
		Items:          []PurchaseItemRequest{{ProductID: "CTRL", Quantity: 1}},
		DireccionEnvio: santiago,
		MetodoPago:     "transferencia",
	})
	require.NoError(t, err)

	_, err = f.purchases.Transition(ctx, order.ID, models.StatusShipped)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	for _, status := range []string{models.StatusProcessing, models.StatusShipped} {
		_, err = f.purchases.Transition(ctx, order.ID, status)
		require.NoError(t, err)
	}

	_, err = f.purchases.Transition(ctx, order.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	delivered, err := f.purchases.Transition(ctx, order.ID, models.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, delivered.Estado)
	assert.Equal(t, 0, f.stock(t, "CTRL"))
	assert.Equal(t, 100, f.balance(t, "normal"))
}

func TestUpdatePurchase(t *testing.T) {
	f := purchaseFixture(t)
	ctx := context.Background()

	order, err := f.purchases.Create(ctx, &PurchaseRequest{
		UserID:         "normal",
		Items:          []PurchaseItemRequest{{ProductID: "CTRL", Quantity: 1}},
		DireccionEnvio: santiago,
		MetodoPago:     "tarjeta",
	})
	require.NoError(t, err)

	stored := readRaw(t, f.backend, store.KeyPurchaseOrders)
	_, err = f.purchases.Update(ctx, order.ID, &PurchasePatch{})
	require.NoError(t, err)
	assert.Equal(t, stored, readRaw(t, f.backend, store.KeyPurchaseOrders))

	_, err = f.purchases.Update(ctx, order.ID, &PurchasePatch{MetodoPago: strPtr("cheque")})
	assert.ErrorIs(t, err, models.ErrInvalidOrder)

	updated, err := f.purchases.Update(ctx, order.ID, &PurchasePatch{MetodoPago: strPtr("mercadopago")})
	require.NoError(t, err)
	assert.Equal(t, "mercadopago", updated.MetodoPago)
	assert.True(t, updated.Total.Equal(order.Total))
}

func TestPurchaseStatsAndRecent(t *testing.T) {
	f := purchaseFixture(t)
	ctx := context.Background()

	first, err := f.purchases.Create(ctx, &PurchaseRequest{
		UserID: "normal", Items: []PurchaseItemRequest{{ProductID: "PS5", Quantity: 1}},
		DireccionEnvio: santiago, MetodoPago: "tarjeta",
	})
	require.NoError(t, err)
	second, err := f.purchases.Create(ctx, &PurchaseRequest{
		UserID: "normal", Items: []PurchaseItemRequest{{ProductID: "CTRL", Quantity: 1}},
		DireccionEnvio: santiago, MetodoPago: "tarjeta",
	})
	require.NoError(t, err)
	_, err = f.purchases.Transition(ctx, first.ID, models.StatusCancelled)
	require.NoError(t, err)

	stats := f.purchases.Stats(ctx)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.Equal(t, 1, stats.ByStatus[models.StatusCancelled])
	assert.Equal(t, 1, stats.ByStatus[models.StatusPending])
	assert.True(t, stats.Revenue.Equal(decimal.NewFromInt(10000)))
	assert.True(t, stats.AverageOrderValue.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 100, stats.PointsEarned)

	recent := f.purchases.Recent(ctx, 1)
	require.Len(t, recent, 1)
	assert.Equal(t, second.ID, recent[0].ID)

	assert.Len(t, f.purchases.FindByUser(ctx, "normal"), 2)
	assert.Empty(t, f.purchases.FindByUser(ctx, "duoc"))
}

func TestDeletePurchase(t *testing.T) {
	f := purchaseFixture(t)
	ctx := context.Background()

	order, err := f.purchases.Create(ctx, &PurchaseRequest{
		UserID: "normal", Items: []PurchaseItemRequest{{ProductID: "CTRL", Quantity: 1}},
		DireccionEnvio: santiago, MetodoPago: "tarjeta",
	})
	require.NoError(t, err)

	require.NoError(t, f.purchases.Delete(ctx, order.ID))
	_, err = f.purchases.FindByID(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 0, f.stock(t, "CTRL"))
	assert.Equal(t, 100, f.balance(t, "normal"))
}

func TestCancelPurchaseRefusesCorruptLedger(t *testing.T) {
	f := purchaseFixture(t)
	ctx := context.Background()

	order, err := f.purchases.Create(ctx, &PurchaseRequest{
		UserID:         "normal",
		Items:          []PurchaseItemRequest{{ProductID: "PS5", Quantity: 1}},
		DireccionEnvio: santiago,
		MetodoPago:     "tarjeta",
	})
	require.NoError(t, err)

	corrupt := store.NewBatch("corrupt ledger")
	corrupt.Put(store.KeyLedger, []byte(`[{"id":`))
	require.NoError(t, f.backend.Commit(ctx, corrupt))
	before := len(f.backend.Batches())

	_, err = f.purchases.Transition(ctx, order.ID, models.StatusCancelled)
	require.ErrorIs(t, err, models.ErrPersistenceUnavailable)

	assert.Len(t, f.backend.Batches(), before)
	assert.Equal(t, `[{"id":`, string(readRaw(t, f.backend, store.KeyLedger)))
	stored, err := f.purchases.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Estado)
	assert.Equal(t, 2, f.stock(t, "PS5"))
}
