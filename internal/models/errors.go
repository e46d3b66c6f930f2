package models

import "fmt"

// ErrorCode identifies a class of domain failure
type ErrorCode string

const (
	ErrCodeInsufficientPoints     ErrorCode = "POINTS_INSUFFICIENT"
	ErrCodeOutOfStock             ErrorCode = "STOCK_EXHAUSTED"
	ErrCodeNotRedeemable          ErrorCode = "PRODUCT_NOT_REDEEMABLE"
	ErrCodeProductMisconfigured   ErrorCode = "PRODUCT_MISCONFIGURED"
	ErrCodeInvalidTransition      ErrorCode = "STATUS_TRANSITION_INVALID"
	ErrCodePersistenceUnavailable ErrorCode = "PERSISTENCE_UNAVAILABLE"
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeInvalidOrder           ErrorCode = "ORDER_INVALID"
	ErrCodeInvalidProduct         ErrorCode = "PRODUCT_INVALID"
	ErrCodeInvalidUser            ErrorCode = "USER_INVALID"
)

// DomainError carries a stable code plus debugging context.
// Two DomainErrors match under errors.Is when their codes are equal.
type DomainError struct {
	Code    ErrorCode
	Message string
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s (context: %+v)", e.Code, e.Message, e.Context)
}

// WithContext returns a copy of e with the key/value pairs added
func (e *DomainError) WithContext(keyValues ...interface{}) error {
	if len(keyValues)%2 != 0 {
		panic("WithContext requires key-value pairs")
	}

	ctx := make(map[string]interface{}, len(e.Context)+len(keyValues)/2)
	for k, v := range e.Context {
		ctx[k] = v
	}
	for i := 0; i < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			panic(fmt.Sprintf("context key must be string, got %T", keyValues[i]))
		}
		ctx[key] = keyValues[i+1]
	}

	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Context: ctx,
	}
}

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrInsufficientPoints = &DomainError{
		Code:    ErrCodeInsufficientPoints,
		Message: "insufficient points",
	}

	ErrOutOfStock = &DomainError{
		Code:    ErrCodeOutOfStock,
		Message: "product out of stock",
	}

	ErrNotRedeemable = &DomainError{
		Code:    ErrCodeNotRedeemable,
		Message: "product is not redeemable with points",
	}

	// ErrProductMisconfigured flags a redeemable product with no points cost
	ErrProductMisconfigured = &DomainError{
		Code:    ErrCodeProductMisconfigured,
		Message: "redeemable product has no points cost",
	}

	ErrInvalidTransition = &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: "status transition not allowed",
	}

	ErrPersistenceUnavailable = &DomainError{
		Code:    ErrCodePersistenceUnavailable,
		Message: "no storage backend accepted the write",
	}

	ErrNotFound = &DomainError{
		Code:    ErrCodeNotFound,
		Message: "not found",
	}

	ErrInvalidOrder = &DomainError{
		Code:    ErrCodeInvalidOrder,
		Message: "invalid order",
	}

	ErrInvalidProduct = &DomainError{
		Code:    ErrCodeInvalidProduct,
		Message: "invalid product",
	}

	ErrInvalidUser = &DomainError{
		Code:    ErrCodeInvalidUser,
		Message: "invalid user",
	}
)
