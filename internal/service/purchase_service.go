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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PurchasePrefix starts every purchase order number
const PurchasePrefix = "ORD"

// PurchaseService owns money orders that may be paid in part with points
type PurchaseService struct {
	gw             *store.Gateway
	seq            *sequence.Generator
	rules          ledger.Rules
	duocPercent    int
	eventPublisher EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(
	gw *store.Gateway,
	seq *sequence.Generator,
	rules ledger.Rules,
	duocPercent int,
	eventPublisher EventPublisher,
) *PurchaseService {
	if eventPublisher == nil {
		eventPublisher = NopPublisher{}
	}
	return &PurchaseService{
		gw:             gw,
		seq:            seq,
		rules:          rules,
		duocPercent:    duocPercent,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// PurchaseRequest represents a request to place a purchase order
type PurchaseRequest struct {
	UserID         string                `json:"userId" binding:"required"`
	Items          []PurchaseItemRequest `json:"items" binding:"required,min=1"`
	PuntosUsados   int                   `json:"puntosUsados"`
	DireccionEnvio models.Address        `json:"direccionEnvio"`
	MetodoPago     string                `json:"metodoPago" binding:"required"`
	Notas          string                `json:"notas,omitempty"`
	CreadoPor      string                `json:"creadoPor,omitempty"`
	AdminID        string                `json:"adminId,omitempty"`
	AdminNombre    string                `json:"adminNombre,omitempty"`
	IdempotencyKey string                `json:"idempotencyKey,omitempty"`
}

// PurchaseItemRequest represents an item in a purchase order
type PurchaseItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// PurchasePatch changes the non-nil fields of a purchase order.
// Status is changed only through Transition.
type PurchasePatch struct {
	DireccionEnvio *models.Address `json:"direccionEnvio,omitempty"`
	MetodoPago     *string         `json:"metodoPago,omitempty"`
	Notas          *string         `json:"notas,omitempty"`
}

func (p *PurchasePatch) empty() bool {
	return p.DireccionEnvio == nil && p.MetodoPago == nil && p.Notas == nil
}

// PurchaseStats summarizes purchase orders for the admin dashboard
type PurchaseStats struct {
	TotalOrders       int             `json:"totalOrders"`
	ByStatus          map[string]int  `json:"byStatus"`
	Revenue           decimal.Decimal `json:"revenue"`
	AverageOrderValue decimal.Decimal `json:"averageOrderValue"`
	PointsEarned      int             `json:"pointsEarned"`
	PointsUsed        int             `json:"pointsUsed"`
}

// Create places a purchase order. Stock for every line, the points spent and
// the points earned are written with the order in one batch, or not at all.
func (s *PurchaseService) Create(ctx context.Context, req *PurchaseRequest) (*models.PurchaseOrder, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.Create")
	defer span.End()

	var (
		order  models.PurchaseOrder
		replay bool
	)
	err := s.gw.Serialize(func() error {
		orders, err := store.LoadCollection[models.PurchaseOrder](ctx, s.gw, store.KeyPurchaseOrders)
		if err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			for _, existing := range orders {
				if existing.IdempotencyKey == req.IdempotencyKey {
					order = existing
					replay = true
					return nil
				}
			}
		}

		if err := validatePurchaseRequest(req); err != nil {
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

		uidx := findUser(users, req.UserID)
		if uidx < 0 {
			return models.ErrNotFound.WithContext("user_id", req.UserID)
		}
		user := withBalance(users[uidx], entries)

		items, lines, err := s.buildItems(products, req.Items)
		if err != nil {
			return err
		}

		if req.PuntosUsados > 0 && !ledger.CanAfford(&user, req.PuntosUsados) {
			return models.ErrInsufficientPoints.WithContext(
				"user_id", user.ID,
				"balance", user.Puntos,
				"required", req.PuntosUsados,
			)
		}

		if err := reserveStock(products, lines); err != nil {
			return err
		}

		q := priceOrder(items, user.Tipo, req.PuntosUsados, s.duocPercent)
		now := s.now().UTC()
		order = models.PurchaseOrder{
			ID:                 uuid.New().String(),
			UserID:             user.ID,
			UserName:           user.Nombre,
			UserEmail:          user.Correo,
			UserRut:            user.Rut,
			Items:              items,
			Subtotal:           q.Subtotal,
			DescuentoDuoc:      q.DescuentoDuoc,
			DescuentoPuntos:    q.DescuentoPuntos,
			Total:              q.Total,
			PuntosUsados:       q.PuntosUsados,
			PuntosGanados:      s.rules.PointsEarned(q.Total),
			Estado:             models.StatusPending,
			DireccionEnvio:     req.DireccionEnvio,
			MetodoPago:         req.MetodoPago,
			Notas:              req.Notas,
			CreadoPor:          req.CreadoPor,
			AdminID:            req.AdminID,
			AdminNombre:        req.AdminNombre,
			StockReservado:     true,
			FechaCreacion:      now,
			FechaActualizacion: now,
			IdempotencyKey:     req.IdempotencyKey,
		}
		if order.CreadoPor == "" {
			order.CreadoPor = "cliente"
		}

		if order.PuntosUsados > 0 {
			entries = append(entries, ledger.NewEntry(user.ID, models.EntrySpend, order.PuntosUsados,
				order.ID, models.OrderKindPurchase, "points paid"))
		}
		if order.PuntosGanados > 0 {
			entries = append(entries, ledger.NewEntry(user.ID, models.EntryEarn, order.PuntosGanados,
				order.ID, models.OrderKindPurchase, "purchase"))
		}

		order.NumeroOrden = s.seq.Next(ctx, PurchasePrefix)
		orders = append(orders, order)

		batch := store.NewBatch("create purchase " + order.ID)
		if err := putAll(batch,
			store.KeyPurchaseOrders, orders,
			store.KeyProducts, products,
			store.KeyLedger, entries,
		); err != nil {
			return err
		}
		return s.gw.Commit(ctx, batch)
	})
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues(models.OrderKindPurchase, rejectReason(err)).Inc()
		s.logger.Warn("Purchase rejected",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return nil, err
	}

	if replay {
		s.logger.Info("Duplicate purchase request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("order_id", order.ID))
		return &order, nil
	}

	util.OrdersCreatedTotal.WithLabelValues(models.OrderKindPurchase).Inc()
	util.PointsMovedTotal.WithLabelValues(models.EntrySpend).Add(float64(order.PuntosUsados))
	util.PointsMovedTotal.WithLabelValues(models.EntryEarn).Add(float64(order.PuntosGanados))
	s.logger.Info("Purchase created",
		zap.String("order_id", order.ID),
		zap.String("numero_orden", order.NumeroOrden),
		zap.String("total", order.Total.String()),
		zap.Int("puntos_usados", order.PuntosUsados),
		zap.Int("puntos_ganados", order.PuntosGanados))

	created := &models.OrderCreatedEvent{
		BaseEvent:    newBaseEvent(models.EventTypeOrderCreated),
		OrderID:      order.ID,
		OrderKind:    models.OrderKindPurchase,
		NumeroOrden:  order.NumeroOrden,
		UserID:       order.UserID,
		PuntosUsados: order.PuntosUsados,
		Total:        order.Total.String(),
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, created); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	if order.PuntosGanados > 0 {
		earned := &models.PointsEarnedEvent{
			BaseEvent: newBaseEvent(models.EventTypePointsEarned),
			UserID:    order.UserID,
			OrderID:   order.ID,
			Points:    order.PuntosGanados,
		}
		if err := s.eventPublisher.PublishPointsEarned(ctx, earned); err != nil {
			s.logger.Error("Failed to publish PointsEarned event", zap.Error(err))
		}
	}

	return &order, nil
}

// buildItems prices every requested line from the catalog
func (s *PurchaseService) buildItems(products []models.Product, requested []PurchaseItemRequest) ([]models.OrderItem, []stockLine, error) {
	items := make([]models.OrderItem, 0, len(requested))
	lines := make([]stockLine, 0, len(requested))
	for _, r := range requested {
		idx := findProduct(products, r.ProductID)
		if idx < 0 {
			return nil, nil, models.ErrNotFound.WithContext("product_id", r.ProductID)
		}
		p := products[idx]
		if !p.Activo {
			return nil, nil, models.ErrInvalidOrder.WithContext("product_id", p.Codigo, "reason", "inactive product")
		}
		qty := decimal.NewFromInt(int64(r.Quantity))
		items = append(items, models.OrderItem{
			ID:           uuid.New().String(),
			ProductID:    p.Codigo,
			ProductName:  p.Nombre,
			ProductImage: p.Imagen,
			Quantity:     r.Quantity,
			UnitPrice:    p.Precio,
			TotalPrice:   p.Precio.Mul(qty),
		})
		lines = append(lines, stockLine{ProductID: p.Codigo, Quantity: r.Quantity})
	}
	return items, lines, nil
}

func validatePurchaseRequest(req *PurchaseRequest) error {
	if len(req.Items) == 0 {
		return models.ErrInvalidOrder.WithContext("reason", "no items")
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return models.ErrInvalidOrder.WithContext("product_id", item.ProductID, "quantity", item.Quantity)
		}
	}
	if req.PuntosUsados < 0 {
		return models.ErrInvalidOrder.WithContext("puntos_usados", req.PuntosUsados)
	}
	if !models.PaymentMethods[req.MetodoPago] {
		return models.ErrInvalidOrder.WithContext("metodo_pago", req.MetodoPago)
	}
	return validateAddress(req.DireccionEnvio)
}

func validateAddress(a models.Address) error {
	if strings.TrimSpace(a.Calle) == "" || strings.TrimSpace(a.Ciudad) == "" {
		return models.ErrInvalidOrder.WithContext("reason", "shipping address requires calle and ciudad")
	}
	return nil
}

// FindByID returns a purchase order
func (s *PurchaseService) FindByID(ctx context.Context, id string) (*models.PurchaseOrder, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.FindByID")
	defer span.End()

	orders := store.ReadCollection[models.PurchaseOrder](ctx, s.gw, store.KeyPurchaseOrders)
	idx := findPurchase(orders, id)
	if idx < 0 {
		return nil, models.ErrNotFound.WithContext("order_id", id)
	}
	return &orders[idx], nil
}

// FindByUser returns a user's purchase orders, newest first
func (s *PurchaseService) FindByUser(ctx context.Context, userID string) []models.PurchaseOrder {
	out := make([]models.PurchaseOrder, 0)
	for _, o := range s.List(ctx) {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out
}

// List returns every purchase order, newest first
func (s *PurchaseService) List(ctx context.Context) []models.PurchaseOrder {
	ctx, span := util.StartSpan(ctx, "PurchaseService.List")
	defer span.End()

	orders := store.ReadCollection[models.PurchaseOrder](ctx, s.gw, store.KeyPurchaseOrders)
	sortNewestFirst(orders, func(o models.PurchaseOrder) time.Time { return o.FechaCreacion })
	return orders
}

// Recent returns up to limit of the newest purchase orders
func (s *PurchaseService) Recent(ctx context.Context, limit int) []models.PurchaseOrder {
	orders := s.List(ctx)
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders
}

// Stats aggregates purchase orders. Cancelled and rejected orders count per
// status but add nothing to revenue or points.
func (s *PurchaseService) Stats(ctx context.Context) PurchaseStats {
	stats := PurchaseStats{
		ByStatus:          make(map[string]int),
		Revenue:           decimal.Zero,
		AverageOrderValue: decimal.Zero,
	}

	billed := 0
	for _, o := range s.List(ctx) {
		stats.TotalOrders++
		stats.ByStatus[o.Estado]++
		if restitutes(o.Estado) {
			continue
		}
		billed++
		stats.Revenue = stats.Revenue.Add(o.Total)
		stats.PointsEarned += o.PuntosGanados
		stats.PointsUsed += o.PuntosUsados
	}
	if billed > 0 {
		stats.AverageOrderValue = stats.Revenue.Div(decimal.NewFromInt(int64(billed))).Round(0)
	}
	return stats
}

// Update merges patch into the order. An empty patch writes nothing.
func (s *PurchaseService) Update(ctx context.Context, id string, patch *PurchasePatch) (*models.PurchaseOrder, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.Update")
	defer span.End()

	var updated models.PurchaseOrder
	err := s.gw.Serialize(func() error {
		orders, err := store.LoadCollection[models.PurchaseOrder](ctx, s.gw, store.KeyPurchaseOrders)
		if err != nil {
			return err
		}
		idx := findPurchase(orders, id)
		if idx < 0 {
			return models.ErrNotFound.WithContext("order_id", id)
		}
		if patch == nil || patch.empty() {
			updated = orders[idx]
			return nil
		}

		o := orders[idx]
		if models.IsTerminal(o.Estado) && (patch.DireccionEnvio != nil || patch.MetodoPago != nil) {
			return models.ErrInvalidOrder.WithContext("order_id", id, "reason", "order locked in status "+o.Estado)
		}
		if patch.DireccionEnvio != nil {
			if err := validateAddress(*patch.DireccionEnvio); err != nil {
				return err
			}
			o.DireccionEnvio = *patch.DireccionEnvio
		}
		if patch.MetodoPago != nil {
			if !models.PaymentMethods[*patch.MetodoPago] {
				return models.ErrInvalidOrder.WithContext("metodo_pago", *patch.MetodoPago)
			}
			o.MetodoPago = *patch.MetodoPago
		}
		if patch.Notas != nil {
			o.Notas = *patch.Notas
		}
		o.FechaActualizacion = s.now().UTC()
		orders[idx] = o

		batch := store.NewBatch("update purchase " + id)
		if err := batch.PutCollection(store.KeyPurchaseOrders, orders); err != nil {
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

// Delete removes the order without touching points or stock
func (s *PurchaseService) Delete(ctx context.Context, id string) error {
	ctx, span := util.StartSpan(ctx, "PurchaseService.Delete")
	defer span.End()

	var removed models.PurchaseOrder
	err := s.gw.Serialize(func() error {
		orders, err := store.LoadCollection[models.PurchaseOrder](ctx, s.gw, store.KeyPurchaseOrders)
		if err != nil {
			return err
		}
		idx := findPurchase(orders, id)
		if idx < 0 {
			return models.ErrNotFound.WithContext("order_id", id)
		}
		removed = orders[idx]
		orders = append(orders[:idx], orders[idx+1:]...)

		batch := store.NewBatch("delete purchase " + id)
		if err := batch.PutCollection(store.KeyPurchaseOrders, orders); err != nil {
			return err
		}
		return s.gw.Commit(ctx, batch)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Purchase deleted",
		zap.String("order_id", id),
		zap.String("estado", removed.Estado))
	return nil
}

// Transition moves the order along pendiente -> procesando -> enviado -> entregado.
// Cancelling or rejecting refunds points paid, revokes points earned and
// returns every line to stock.
func (s *PurchaseService) Transition(ctx context.Context, id, to string) (*models.PurchaseOrder, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.Transition")
	defer span.End()

	var (
		updated  models.PurchaseOrder
		from     string
		refunded int
		revoked  int
	)
	err := s.gw.Serialize(func() error {
		orders, err := store.LoadCollection[models.PurchaseOrder](ctx, s.gw, store.KeyPurchaseOrders)
		if err != nil {
			return err
		}
		idx := findPurchase(orders, id)
		if idx < 0 {
			return models.ErrNotFound.WithContext("order_id", id)
		}
		o := orders[idx]
		from = o.Estado
		if !canTransition(purchaseTransitions, from, to) {
			return models.ErrInvalidTransition.WithContext("order_id", id, "from", from, "to", to)
		}

		batch := store.NewBatch(fmt.Sprintf("transition purchase %s %s->%s", id, from, to))
		if restitutes(to) {
			entries, err := store.LoadCollection[models.LedgerEntry](ctx, s.gw, store.KeyLedger)
			if err != nil {
				return err
			}
			entries, refunded, revoked = s.restitutePoints(entries, o, to)
			if err := batch.PutCollection(store.KeyLedger, entries); err != nil {
				return err
			}

			if o.StockReservado {
				products, err := store.LoadCollection[models.Product](ctx, s.gw, store.KeyProducts)
				if err != nil {
					return err
				}
				lines := make([]stockLine, 0, len(o.Items))
				for _, item := range o.Items {
					lines = append(lines, stockLine{ProductID: item.ProductID, Quantity: item.Quantity})
				}
				if missing := releaseStock(products, lines); len(missing) > 0 {
					s.logger.Warn("Cannot restore stock of removed products",
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
		if err := batch.PutCollection(store.KeyPurchaseOrders, orders); err != nil {
			return err
		}
		if err := s.gw.Commit(ctx, batch); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues(models.OrderKindPurchase, rejectReason(err)).Inc()
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(models.OrderKindPurchase, to).Inc()
	s.logger.Info("Purchase status changed",
		zap.String("order_id", id),
		zap.String("from", from),
		zap.String("to", to))

	changed := &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   id,
		OrderKind: models.OrderKindPurchase,
		UserID:    updated.UserID,
		From:      from,
		To:        to,
	}
	if err := s.eventPublisher.PublishOrderStatusChanged(ctx, changed); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	if restitutes(to) {
		util.OrdersCancelledTotal.WithLabelValues(models.OrderKindPurchase).Inc()
		util.PointsMovedTotal.WithLabelValues(models.EntryRefund).Add(float64(refunded))
		util.PointsMovedTotal.WithLabelValues(models.EntryRevoke).Add(float64(revoked))

		cancelled := &models.OrderCancelledEvent{
			BaseEvent:      newBaseEvent(models.EventTypeOrderCancelled),
			OrderID:        id,
			OrderKind:      models.OrderKindPurchase,
			UserID:         updated.UserID,
			Status:         to,
			PointsRefunded: refunded,
			PointsRevoked:  revoked,
		}
		if err := s.eventPublisher.PublishOrderCancelled(ctx, cancelled); err != nil {
			s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}

	return &updated, nil
}

// restitutePoints appends the refund of points paid and the revocation of
// points earned. The revocation is clamped so the balance stays at or above
// zero when the earned points were already spent.
func (s *PurchaseService) restitutePoints(entries []models.LedgerEntry, o models.PurchaseOrder, status string) ([]models.LedgerEntry, int, int) {
	refunded, revoked := 0, 0
	if o.PuntosUsados > 0 {
		entries = append(entries, ledger.NewEntry(o.UserID, models.EntryRefund, o.PuntosUsados,
			o.ID, models.OrderKindPurchase, "purchase "+status))
		refunded = o.PuntosUsados
	}

	if o.PuntosGanados > 0 {
		balance := ledger.Balance(entries, o.UserID)
		revoked = o.PuntosGanados
		reason := "purchase " + status
		clamped := revoked > balance
		if clamped {
			s.logger.Warn("Earned points already spent, clamping revocation",
				zap.String("order_id", o.ID),
				zap.String("user_id", o.UserID),
				zap.Int("earned", o.PuntosGanados),
				zap.Int("balance", balance))
			reason = fmt.Sprintf("%s (clamped from %d)", reason, o.PuntosGanados)
			revoked = balance
			if revoked < 0 {
				revoked = 0
			}
		}
		if revoked > 0 || clamped {
			entries = append(entries, ledger.NewEntry(o.UserID, models.EntryRevoke, revoked,
				o.ID, models.OrderKindPurchase, reason))
		}
	}
	return entries, refunded, revoked
}

func findPurchase(orders []models.PurchaseOrder, id string) int {
	for i := range orders {
		if orders[i].ID == id {
			return i
		}
	}
	return -1
}
