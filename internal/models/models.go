package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices travel as plain JSON numbers, the way the storefront sends them.
	decimal.MarshalJSONWithoutQuotes = true
}

// User represents a storefront customer. Puntos is derived from the points
// ledger on every read and is never persisted as a source of truth.
type User struct {
	ID            string    `json:"id"`
	Nombre        string    `json:"nombre"`
	Correo        string    `json:"correo"`
	Rut           string    `json:"rut,omitempty"`
	Tipo          string    `json:"tipo"`
	Puntos        int       `json:"puntos"`
	Nivel         string    `json:"nivel"`
	Rol           string    `json:"rol,omitempty"`
	Telefono      string    `json:"telefono,omitempty"`
	Activo        bool      `json:"activo"`
	FechaRegistro time.Time `json:"fechaRegistro"`
}

// Product represents a catalog entry keyed by its code
type Product struct {
	Codigo             string          `json:"codigo"`
	Categoria          string          `json:"categoria"`
	Marca              string          `json:"marca,omitempty"`
	Nombre             string          `json:"nombre"`
	Descripcion        string          `json:"descripcion,omitempty"`
	Precio             decimal.Decimal `json:"precio"`
	Stock              int             `json:"stock"`
	Puntos             *int            `json:"puntos,omitempty"`
	Imagen             string          `json:"imagen,omitempty"`
	Activo             bool            `json:"activo"`
	Canjeable          bool            `json:"canjeable"`
	Origen             string          `json:"origen,omitempty"`
	FechaCreacion      time.Time       `json:"fechaCreacion"`
	FechaActualizacion time.Time       `json:"fechaActualizacion"`
}

// Address is a shipping destination
type Address struct {
	Nombre      string `json:"nombre,omitempty"`
	Calle       string `json:"calle"`
	Numero      string `json:"numero"`
	Apartamento string `json:"apartamento,omitempty"`
	Ciudad      string `json:"ciudad"`
	Region      string `json:"region"`
	Telefono    string `json:"telefono,omitempty"`
}

// RedemptionOrder exchanges points for exactly one product
type RedemptionOrder struct {
	ID                 string    `json:"id"`
	UsuarioID          string    `json:"usuarioId"`
	ProductID          string    `json:"productId"`
	ProductName        string    `json:"productName"`
	ProductImage       string    `json:"productImage,omitempty"`
	PuntosUsados       int       `json:"puntosUsados"`
	Cantidad           int       `json:"cantidad"`
	DireccionEnvio     *Address  `json:"direccionEnvio,omitempty"`
	MetodoRetiro       string    `json:"metodoRetiro"`
	Estado             string    `json:"estado"`
	NumeroOrden        string    `json:"numeroOrden"`
	StockReservado     bool      `json:"stockReservado"`
	FechaCreacion      time.Time `json:"fechaCreacion"`
	FechaActualizacion time.Time `json:"fechaActualizacion"`
	Notas              string    `json:"notas,omitempty"`
	IdempotencyKey     string    `json:"idempotencyKey,omitempty"`
}

// RedemptionReceipt is handed back to the customer after a redemption
type RedemptionReceipt struct {
	ID                string         `json:"id"`
	RedemptionOrderID string         `json:"redemptionOrderId"`
	NumeroRecibo      string         `json:"numeroRecibo"`
	Fecha             time.Time      `json:"fecha"`
	Usuario           ReceiptUser    `json:"usuario"`
	Producto          ReceiptProduct `json:"producto"`
	PuntosUsados      int            `json:"puntosUsados"`
	PuntosRestantes   int            `json:"puntosRestantes"`
	DireccionEnvio    string         `json:"direccionEnvio,omitempty"`
	MetodoRetiro      string         `json:"metodoRetiro"`
	Estado            string         `json:"estado"`
}

// ReceiptUser identifies the customer on a receipt
type ReceiptUser struct {
	Nombre string `json:"nombre"`
	Correo string `json:"correo"`
}

// ReceiptProduct identifies the redeemed product on a receipt
type ReceiptProduct struct {
	Nombre           string `json:"nombre"`
	Codigo           string `json:"codigo"`
	PuntosRequeridos int    `json:"puntosRequeridos"`
}

// OrderItem is a purchase order line
type OrderItem struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"productId"`
	ProductName  string          `json:"productName"`
	ProductImage string          `json:"productImage,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
}

// PurchaseOrder is a money order, optionally paid in part with points
type PurchaseOrder struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"userId"`
	UserName           string          `json:"userName"`
	UserEmail          string          `json:"userEmail"`
	UserRut            string          `json:"userRut,omitempty"`
	Items              []OrderItem     `json:"items"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DescuentoDuoc      decimal.Decimal `json:"descuentoDuoc"`
	DescuentoPuntos    decimal.Decimal `json:"descuentoPuntos"`
	Total              decimal.Decimal `json:"total"`
	PuntosUsados       int             `json:"puntosUsados"`
	PuntosGanados      int             `json:"puntosGanados"`
	Estado             string          `json:"estado"`
	DireccionEnvio     Address         `json:"direccionEnvio"`
	MetodoPago         string          `json:"metodoPago"`
	NumeroOrden        string          `json:"numeroOrden"`
	Notas              string          `json:"notas,omitempty"`
	CreadoPor          string          `json:"creadoPor"`
	AdminID            string          `json:"adminId,omitempty"`
	AdminNombre        string          `json:"adminNombre,omitempty"`
	StockReservado     bool            `json:"stockReservado"`
	FechaCreacion      time.Time       `json:"fechaCreacion"`
	FechaActualizacion time.Time       `json:"fechaActualizacion"`
	IdempotencyKey     string          `json:"idempotencyKey,omitempty"`
}

// Event is a community event shown on the storefront
type Event struct {
	ID               string        `json:"id"`
	Titulo           string        `json:"titulo"`
	Descripcion      string        `json:"descripcion"`
	Fecha            string        `json:"fecha"`
	Ubicacion        EventLocation `json:"ubicacion"`
	Organizador      string        `json:"organizador,omitempty"`
	Tipo             string        `json:"tipo"`
	Capacidad        int           `json:"capacidad"`
	Inscritos        int           `json:"inscritos"`
	Imagen           string        `json:"imagen,omitempty"`
	Activo           bool          `json:"activo"`
	PuntosRecompensa int           `json:"puntosRecompensa,omitempty"`
	Tags             []string      `json:"tags,omitempty"`
	FechaCreacion    string        `json:"fechaCreacion,omitempty"`
}

// EventLocation is where an event takes place
type EventLocation struct {
	Direccion string `json:"direccion"`
	Ciudad    string `json:"ciudad"`
	Region    string `json:"region"`
}

// LedgerEntry is one immutable change to a user's point balance
type LedgerEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Points    int       `json:"points"`
	OrderID   string    `json:"orderId,omitempty"`
	OrderKind string    `json:"orderKind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Order statuses
const (
	StatusPending    = "pendiente"
	StatusConfirmed  = "confirmado"
	StatusProcessing = "procesando"
	StatusShipped    = "enviado"
	StatusDelivered  = "entregado"
	StatusCancelled  = "cancelado"
	StatusRejected   = "rechazado"
)

// Order kinds
const (
	OrderKindRedemption = "redemption"
	OrderKindPurchase   = "purchase"
)

// Ledger entry kinds
const (
	EntryEarn   = "earn"
	EntrySpend  = "spend"
	EntryRefund = "refund"
	EntryRevoke = "revoke"
	EntryAdjust = "adjust"
)

// Loyalty tiers
const (
	TierBronze  = "bronce"
	TierSilver  = "plata"
	TierGold    = "oro"
	TierDiamond = "diamante"
)

// User types
const (
	UserTypeDuoc   = "duoc"
	UserTypeNormal = "normal"
)

// Pickup methods
const (
	PickupInStore = "retiro"
	PickupShip    = "envio"
)

// DuocDomains are the email domains that make a user tipo duoc
var DuocDomains = []string{"duocuc.cl", "duoc.cl", "profesor.duoc.cl"}

// PaymentMethods accepted on purchase orders
var PaymentMethods = map[string]bool{
	"tarjeta":       true,
	"credito":       true,
	"debito":        true,
	"transferencia": true,
	"efectivo":      true,
	"mach":          true,
	"mercadopago":   true,
}

// IsTerminal reports whether no further transition can leave status
func IsTerminal(status string) bool {
	switch status {
	case StatusDelivered, StatusCancelled, StatusRejected:
		return true
	}
	return false
}
