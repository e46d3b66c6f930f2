package store

// Storage keys. Each holds the JSON encoding of a collection or a scalar.
const (
	KeyEvents           = "levelup_events"
	KeyRedemptionOrders = "redemption_orders"
	KeyRedemptionSeq    = "redemption_order_counter"
	KeyPurchaseOrders   = "levelup_orders"
	KeyPurchaseSeq      = "purchase_order_counter"
	KeyProducts         = "levelup_products"
	KeyUsers            = "levelup_users"
	KeyLedger           = "points_ledger"
	KeyAuthToken        = "levelup_auth_token"
)
