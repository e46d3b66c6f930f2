package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"levelup-loyalty/internal/ledger"
	"levelup-loyalty/internal/models"
	"levelup-loyalty/internal/sequence"
	"levelup-loyalty/internal/store"
	"levelup-loyalty/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedemptionPrefix starts every redemption order number
const RedemptionPrefix = "CANJE"

// RedemptionService owns redemption orders. Creating one writes the order,
// the stock decrement and the points debit in a single batch.
type RedemptionService struct {
	gw             *store.Gateway
	seq            *sequence.Generator
	eventPublisher EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// NewRedemptionService creates a new redemption service
func NewRedemptionService(gw *store.Gateway, seq *sequence.Generator, eventPublisher EventPublisher) *RedemptionService {
	if eventPublisher == nil {
		eventPublisher = NopPublisher{}
	}
	return &RedemptionService{
		gw:             gw,
		seq:            seq,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// RedemptionRequest represents a request to redeem one product with points
type RedemptionRequest struct {
	UserID         string          `json:"usuarioId" binding:"required"`
	ProductID      string          `json:"productId" binding:"required"`
	MetodoRetiro   string          `json:"metodoRetiro"`
	DireccionEnvio *models.Address `json:"direccionEnvio,omitempty"`
	Notas          string          `json:"notas,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// RedemptionPatch changes the non-nil fields of a redemption order.
// Status is changed only through Transition.
type RedemptionPatch struct {
	DireccionEnvio *models.Address `json:"direccionEnvio,omitempty"`
	MetodoRetiro   *string         `json:"metodoRetiro,omitempty"`
	Notas          *string         `json:"notas,omitempty"`
}

func (p *RedemptionPatch) empty() bool {
	return p.DireccionEnvio == nil && p.MetodoRetiro == nil && p.Notas == nil
}

// Create redeems a product. Validation failures leave every collection untouched.
func (s *RedemptionService) Create(ctx context.Context, req *RedemptionRequest) (*models.RedemptionOrder, *models.RedemptionReceipt, error) {
	ctx, span := util.StartSpan(ctx, "RedemptionService.Create")
	defer span.End()

	var (
		order   models.RedemptionOrder
		receipt *models.RedemptionReceipt
		replay  bool
	)
	err := s.gw.Serialize(func() error {
		orders, err := store.LoadCollection[models.RedemptionOrder](ctx, s.gw, store.KeyRedemptionOrders)
		if err != nil {
			return err
		}
		users, err := store.LoadCollection[models.User](ctx, s.gw, store.KeyUsers)
		if err != nil {
			return err
		}
		products, err := store.LoadCollection[models.Product](ctx, s.gw, store.KeyProducts)
		if err != nil {
			return err
		}
		entries, err := store.LoadCollection[models.LedgerEntry](ctx, s.gw, store.KeyLedger)
		if err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			for _, existing := range orders {
				if existing.IdempotencyKey == req.IdempotencyKey {
					order = existing
					replay = true
					receipt = s.buildReceipt(order, users, entries)
					return nil
				}
			}
		}

		uidx := findUser(users, req.UserID)
		if uidx < 0 {
			return models.ErrNotFound.WithContext("user_id", req.UserID)
		}
		pidx := findProduct(products, req.ProductID)
		if pidx < 0 {
			return models.ErrNotFound.WithContext("product_id", req.ProductID)
		}
		product := products[pidx]

		cost, err := ledger.PointsRequired(&product)
		if err != nil {
			return err
		}
		if !product.Activo {
			return models.ErrNotRedeemable.WithContext("product_id", product.Codigo, "reason", "inactive")
		}
		if product.Stock < 1 {
			return models.ErrOutOfStock.WithContext("product_id", product.Codigo, "available", product.Stock)
		}

		user := withBalance(users[uidx], entries)
		if !ledger.CanAfford(&user, cost) {
			return models.ErrInsufficientPoints.WithContext(
				"user_id", user.ID,
				"balance", user.Puntos,
				"required", cost,
			)
		}

		metodo, err := shippingMethod(req.MetodoRetiro, req.DireccionEnvio)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		order = models.RedemptionOrder{
			ID:                 uuid.New().String(),
			UsuarioID:          user.ID,
			ProductID:          product.Codigo,
			ProductName:        product.Nombre,
			ProductImage:       product.Imagen,
			PuntosUsados:       cost,
			Cantidad:           1,
			DireccionEnvio:     req.DireccionEnvio,
			MetodoRetiro:       metodo,
			Estado:             models.StatusPending,
			StockReservado:     true,
			FechaCreacion:      now,
			FechaActualizacion: now,
			Notas:              req.Notas,
			IdempotencyKey:     req.IdempotencyKey,
		}
		if err := reserveStock(products, []stockLine{{ProductID: product.Codigo, Quantity: 1}}); err != nil {
			return err
		}
		entries = append(entries, ledger.NewEntry(user.ID, models.EntrySpend, cost,
			order.ID, models.OrderKindRedemption, "redemption"))

		order.NumeroOrden = s.seq.Next(ctx, RedemptionPrefix)
		orders = append(orders, order)

		batch := store.NewBatch("create redemption " + order.ID)
		if err := putAll(batch,
			store.KeyRedemptionOrders, orders,
			store.KeyProducts, products,
			store.KeyLedger, entries,
		); err != nil {
			return err
		}
		if err := s.gw.Commit(ctx, batch); err != nil {
			return err
		}

		receipt = s.buildReceipt(order, users, entries)
		return nil
	})
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues(models.OrderKindRedemption, rejectReason(err)).Inc()
		s.logger.Warn("Redemption rejected",
			zap.String("user_id", req.UserID),
			zap.String("product_id", req.ProductID),
			zap.Error(err))
		return nil, nil, err
	}

	if replay {
		s.logger.Info("Duplicate redemption request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("order_id", order.ID))
		return &order, receipt, nil
	}

	util.OrdersCreatedTotal.WithLabelValues(models.OrderKindRedemption).Inc()
	util.PointsMovedTotal.WithLabelValues(models.EntrySpend).Add(float64(order.PuntosUsados))
	s.logger.Info("Redemption created",
		zap.String("order_id", order.ID),
		zap.String("numero_orden", order.NumeroOrden),
		zap.Int("puntos_usados", order.PuntosUsados))

	event := &models.OrderCreatedEvent{
		BaseEvent:    newBaseEvent(models.EventTypeOrderCreated),
		OrderID:      order.ID,
		OrderKind:    models.OrderKindRedemption,
		NumeroOrden:  order.NumeroOrden,
		UserID:       order.UsuarioID,
		PuntosUsados: order.PuntosUsados,
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return &order, receipt, nil
}

// FindByID returns a redemption order
func (s *RedemptionService) FindByID(ctx context.Context, id string) (*models.RedemptionOrder, error) {
	ctx, span := util.StartSpan(ctx, "RedemptionService.FindByID")
	defer span.End()

	orders := store.ReadCollection[models.RedemptionOrder](ctx, s.gw, store.KeyRedemptionOrders)
	idx := findRedemption(orders, id)
	if idx < 0 {
		return nil, models.ErrNotFound.WithContext("order_id", id)
	}
	return &orders[idx], nil
}

// FindByUser returns a user's redemption orders, newest first
func (s *RedemptionService) FindByUser(ctx context.Context, userID string) []models.RedemptionOrder {
	out := make([]models.RedemptionOrder, 0)
	for _, o := range s.List(ctx) {
		if o.UsuarioID == userID {
			out = append(out, o)
		}
	}
	return out
}

// List returns every redemption order, newest first
func (s *RedemptionService) List(ctx context.Context) []models.RedemptionOrder {
	ctx, span := util.StartSpan(ctx, "RedemptionService.List")
	defer span.End()

	orders := store.ReadCollection[models.RedemptionOrder](ctx, s.gw, store.KeyRedemptionOrders)
	sortNewestFirst(orders, func(o models.RedemptionOrder) time.Time { return o.FechaCreacion })
	return orders
}

// Update merges patch into the order. An empty patch writes nothing.
func (s *RedemptionService) Update(ctx context.Context, id string, patch *RedemptionPatch) (*models.RedemptionOrder, error) {
	ctx, span := util.StartSpan(ctx, "RedemptionService.Update")
	defer span.End()

	var updated models.RedemptionOrder
	err := s.gw.Serialize(func() error {
		orders, err := store.LoadCollection[models.RedemptionOrder](ctx, s.gw, store.KeyRedemptionOrders)
		if err != nil {
			return err
		}
		idx := findRedemption(orders, id)
		if idx < 0 {
			return models.ErrNotFound.WithContext("order_id", id)
		}
		if patch == nil || patch.empty() {
			updated = orders[idx]
			return nil
		}

		o := orders[idx]
		if models.IsTerminal(o.Estado) && (patch.DireccionEnvio != nil || patch.MetodoRetiro != nil) {
			return models.ErrInvalidOrder.WithContext("order_id", id, "reason", "shipping locked in status "+o.Estado)
		}
		if patch.DireccionEnvio != nil {
			o.DireccionEnvio = patch.DireccionEnvio
		}
		if patch.MetodoRetiro != nil {
			o.MetodoRetiro = *patch.MetodoRetiro
		}
		if patch.Notas != nil {
			o.Notas = *patch.Notas
		}
		metodo, err := shippingMethod(o.MetodoRetiro, o.DireccionEnvio)
		if err != nil {
			return err
		}
		o.MetodoRetiro = metodo
		o.FechaActualizacion = s.now().UTC()
		orders[idx] = o

		batch := store.NewBatch("update redemption " + id)
		if err := batch.PutCollection(store.KeyRedemptionOrders, orders); err != nil {
			return err
		}
		if err := s.gw.Commit(ctx, batch); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes the order. Points and stock are not restored; the ledger
// keeps the spend entry.
func (s *RedemptionService) Delete(ctx context.Context, id string) error {
	ctx, span := util.StartSpan(ctx, "RedemptionService.Delete")
	defer span.End()

	var removed models.RedemptionOrder
	err := s.gw.Serialize(func() error {
		orders, err := store.LoadCollection[models.RedemptionOrder](ctx, s.gw, store.KeyRedemptionOrders)
		if err != nil {
			return err
		}
		idx := findRedemption(orders, id)
		if idx < 0 {
			return models.ErrNotFound.WithContext("order_id", id)
		}
		removed = orders[idx]
		orders = append(orders[:idx], orders[idx+1:]...)

		batch := store.NewBatch("delete redemption " + id)
		if err := batch.PutCollection(store.KeyRedemptionOrders, orders); err != nil {
			return err
		}
		return s.gw.Commit(ctx, batch)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Redemption deleted",
		zap.String("order_id", id),
		zap.String("estado", removed.Estado),
		zap.Int("puntos_usados", removed.PuntosUsados))
	return nil
}

// Transition moves the order along pendiente -> confirmado -> enviado -> entregado.
// Cancelling refunds the points and returns the reserved unit to stock.
func (s *RedemptionService) Transition(ctx context.Context, id, to string) (*models.RedemptionOrder, error) {
	ctx, span := util.StartSpan(ctx, "RedemptionService.Transition")
	defer span.End()

	var (
		updated  models.RedemptionOrder
		from     string
		refunded int
	)
	err := s.gw.Serialize(func() error {
		orders, err := store.LoadCollection[models.RedemptionOrder](ctx, s.gw, store.KeyRedemptionOrders)
		if err != nil {
			return err
		}
		idx := findRedemption(orders, id)
		if idx < 0 {
			return models.ErrNotFound.WithContext("order_id", id)
		}
		o := orders[idx]
		from = o.Estado
		if !canTransition(redemptionTransitions, from, to) {
			return models.ErrInvalidTransition.WithContext("order_id", id, "from", from, "to", to)
		}

		batch := store.NewBatch(fmt.Sprintf("transition redemption %s %s->%s", id, from, to))
		if to == models.StatusCancelled {
			entries, err := store.LoadCollection[models.LedgerEntry](ctx, s.gw, store.KeyLedger)
			if err != nil {
				return err
			}
			if o.PuntosUsados > 0 {
				entries = append(entries, ledger.NewEntry(o.UsuarioID, models.EntryRefund, o.PuntosUsados,
					o.ID, models.OrderKindRedemption, "redemption "+to))
				refunded = o.PuntosUsados
			}
			if err := batch.PutCollection(store.KeyLedger, entries); err != nil {
				return err
			}

			if o.StockReservado {
				products, err := store.LoadCollection[models.Product](ctx, s.gw, store.KeyProducts)
				if err != nil {
					return err
				}
				missing := releaseStock(products, []stockLine{{ProductID: o.ProductID, Quantity: o.Cantidad}})
				if len(missing) > 0 {
					s.logger.Warn("Cannot restore stock of removed product",
						zap.String("order_id", id),
						zap.Strings("product_ids", missing))
				}
				if err := batch.PutCollection(store.KeyProducts, products); err != nil {
					return err
				}
				o.StockReservado = false
			}
		}

		o.Estado = to
		o.FechaActualizacion = s.now().UTC()
		orders[idx] = o
		if err := batch.PutCollection(store.KeyRedemptionOrders, orders); err != nil {
			return err
		}
		if err := s.gw.Commit(ctx, batch); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues(models.OrderKindRedemption, rejectReason(err)).Inc()
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(models.OrderKindRedemption, to).Inc()
	s.logger.Info("Redemption status changed",
		zap.String("order_id", id),
		zap.String("from", from),
		zap.String("to", to))

	changed := &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   id,
		OrderKind: models.OrderKindRedemption,
		UserID:    updated.UsuarioID,
		From:      from,
		To:        to,
	}
	if err := s.eventPublisher.PublishOrderStatusChanged(ctx, changed); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	if to == models.StatusCancelled {
		util.OrdersCancelledTotal.WithLabelValues(models.OrderKindRedemption).Inc()
		util.PointsMovedTotal.WithLabelValues(models.EntryRefund).Add(float64(refunded))

		cancelled := &models.OrderCancelledEvent{
			BaseEvent:      newBaseEvent(models.EventTypeOrderCancelled),
			OrderID:        id,
			OrderKind:      models.OrderKindRedemption,
			UserID:         updated.UsuarioID,
			Status:         to,
			PointsRefunded: refunded,
		}
		if err := s.eventPublisher.PublishOrderCancelled(ctx, cancelled); err != nil {
			s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}

	return &updated, nil
}

func (s *RedemptionService) buildReceipt(order models.RedemptionOrder, users []models.User, entries []models.LedgerEntry) *models.RedemptionReceipt {
	receipt := &models.RedemptionReceipt{
		ID:                uuid.New().String(),
		RedemptionOrderID: order.ID,
		NumeroRecibo:      order.NumeroOrden,
		Fecha:             order.FechaCreacion,
		Producto: models.ReceiptProduct{
			Nombre:           order.ProductName,
			Codigo:           order.ProductID,
			PuntosRequeridos: order.PuntosUsados,
		},
		PuntosUsados:    order.PuntosUsados,
		PuntosRestantes: ledger.Balance(entries, order.UsuarioID),
		DireccionEnvio:  formatAddress(order.DireccionEnvio),
		MetodoRetiro:    order.MetodoRetiro,
		Estado:          order.Estado,
	}
	if idx := findUser(users, order.UsuarioID); idx >= 0 {
		receipt.Usuario = models.ReceiptUser{Nombre: users[idx].Nombre, Correo: users[idx].Correo}
	}
	return receipt
}

func findRedemption(orders []models.RedemptionOrder, id string) int {
	for i := range orders {
		if orders[i].ID == id {
			return i
		}
	}
	return -1
}

// shippingMethod defaults to in-store pickup and requires an address for delivery
func shippingMethod(metodo string, address *models.Address) (string, error) {
	switch metodo {
	case "", models.PickupInStore:
		return models.PickupInStore, nil
	case models.PickupShip:
		if address == nil || strings.TrimSpace(address.Calle) == "" || strings.TrimSpace(address.Ciudad) == "" {
			return "", models.ErrInvalidOrder.WithContext("reason", "delivery requires an address")
		}
		return models.PickupShip, nil
	}
	return "", models.ErrInvalidOrder.WithContext("metodo_retiro", metodo)
}

func formatAddress(a *models.Address) string {
	if a == nil {
		return ""
	}
	parts := make([]string, 0, 4)
	street := strings.TrimSpace(a.Calle + " " + a.Numero)
	if a.Apartamento != "" {
		street += ", " + a.Apartamento
	}
	for _, p := range []string{street, a.Ciudad, a.Region} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// putAll stages key/value pairs on batch
func putAll(batch *store.Batch, keyValues ...interface{}) error {
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			return fmt.Errorf("batch key must be string, got %T", keyValues[i])
		}
		if err := batch.PutCollection(key, keyValues[i+1]); err != nil {
			return err
		}
	}
	return nil
}
