// Package admin provides operator endpoints for resolving pending payments
// the webhook path never completed: a lost delivery after the customer paid,
// or a checkout abandoned without a failure callback.
package admin

import (
	"context"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/payment"
	"github.com/tuckshop-za/tuckshop/internal/webhooks"
)

// Resolution actions
const (
	ActionApply = "apply" // operator confirmed the money at the gateway
	ActionFail  = "fail"  // operator confirmed no money arrived
)

// ManualProvider marks events raised by an operator rather than a gateway.
const ManualProvider = "manual"

// PaymentStore is the slice of payment.Store the handlers need.
type PaymentStore interface {
	Get(ctx context.Context, id string) (*payment.PendingPayment, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*payment.PendingPayment, error)
	MarkFailed(ctx context.Context, id, reason string) error
}

// ResolveRequest is the body of POST /admin/payments/:id/resolve.
type ResolveRequest struct {
	Action string `json:"action" binding:"required,oneof=apply fail"`
	Reason string `json:"reason" binding:"max=200"`
}

// Resolution reports what a resolve call did.
type Resolution struct {
	PaymentID string         `json:"paymentId"`
	Action    string         `json:"action"`
	Status    payment.Status `json:"status"`
	EventID   string         `json:"eventId,omitempty"`
}

// manualSucceeded builds the event the dispatcher would have received had
// the gateway's delivery arrived. The amount is left zero: the operator
// has checked it against the gateway dashboard.
func manualSucceeded(p *payment.PendingPayment, eventID string, at time.Time) *webhooks.PaymentSucceeded {
	return &webhooks.PaymentSucceeded{
		Envelope: webhooks.Envelope{
			ID:         eventID,
			Provider:   ManualProvider,
			RawType:    "admin.resolve",
			ReceivedAt: at,
		},
		Reference:    p.PaymentReference,
		Token:        p.ID,
		StoreID:      p.StoreID,
		Plan:         p.Plan,
		PreviousPlan: p.CurrentPlan,
		Currency:     p.Currency,
		ReferralCode: p.ReferralCode,
	}
}
