// Package orders is the slice of the storefront order model that payment
// reconciliation touches: an order's payment status.
package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tuckshop-za/tuckshop/internal/pagination"
)

// Errors
var (
	ErrNotFound    = errors.New("orders: not found")
	ErrExists      = errors.New("orders: order number already exists")
	ErrAlreadyPaid = errors.New("orders: already paid")
	ErrNotPending  = errors.New("orders: not awaiting payment")
)

// PaymentStatus of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Order is a storefront order awaiting or holding payment.
type Order struct {
	OrderNumber      string          `json:"orderNumber"`
	StoreID          string          `json:"storeId"`
	CustomerName     string          `json:"customerName,omitempty"`
	CustomerPhone    string          `json:"customerPhone,omitempty"`
	Total            decimal.Decimal `json:"total"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	FailureReason    string          `json:"failureReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
}

// Store persists orders. Status changes are conditional updates.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, orderNumber string) (*Order, error)

	// ListByStore returns up to limit orders for a store, newest first,
	// strictly after the cursor. A nil cursor starts at the newest order.
	ListByStore(ctx context.Context, storeID string, after *pagination.Cursor, limit int) ([]*Order, error)

	// MarkPaid flips a pending or failed order to paid. Returns
	// ErrAlreadyPaid if it is paid already.
	MarkPaid(ctx context.Context, orderNumber, reference string, at time.Time) (*Order, error)

	// MarkFailed flips a pending order to failed.
	MarkFailed(ctx context.Context, orderNumber, reason string, at time.Time) error
}

// NormalizeNumber canonicalizes a customer-typed order number.
func NormalizeNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}
