// Package dispatch applies verified gateway events to tenant plans, the
// commission ledger and storefront orders.
//
// A payment event takes effect at most once per payment reference. Each step
// is idempotent on its own (the engine ignores a reference it already applied,
// the ledger rejects a period it already recorded, the pending payment flips
// to processed once), so a delivery that fails halfway is completed by the
// gateway's next attempt without repeating finished steps.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tuckshop-za/tuckshop/internal/affiliate"
	"github.com/tuckshop-za/tuckshop/internal/events"
	"github.com/tuckshop-za/tuckshop/internal/lock"
	"github.com/tuckshop-za/tuckshop/internal/logging"
	"github.com/tuckshop-za/tuckshop/internal/metrics"
	"github.com/tuckshop-za/tuckshop/internal/notify"
	"github.com/tuckshop-za/tuckshop/internal/orders"
	"github.com/tuckshop-za/tuckshop/internal/payment"
	"github.com/tuckshop-za/tuckshop/internal/realtime"
	"github.com/tuckshop-za/tuckshop/internal/retry"
	"github.com/tuckshop-za/tuckshop/internal/syncutil"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
	"github.com/tuckshop-za/tuckshop/internal/traces"
	"github.com/tuckshop-za/tuckshop/internal/webhooks"
)

// Errors
var (
	ErrUnmatched     = errors.New("dispatch: no pending payment for event")
	ErrAmountShort   = errors.New("dispatch: paid amount below plan price")
	ErrStoreMismatch = fmt.Errorf("dispatch: event does not belong to delivering store: %w", webhooks.ErrOutOfScope)
)

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeBusy      = "busy"
	outcomeRejected  = "rejected"
	outcomeError     = "error"
)

// Pusher delivers realtime confirmation events.
type Pusher interface {
	Broadcast(ev *realtime.Event)
}

// Config tunes locking, write retries and the follow-up sinks. A LockWait
// of zero makes a delivery that finds its lock held answer busy at once.
// SinkTimeout bounds each publish and notification so a broker or messaging
// outage cannot hold the delivery lock or the gateway's request open; zero
// uses DefaultSinkTimeout.
type Config struct {
	LockTTL        time.Duration
	LockWait       time.Duration
	WriteAttempts  int
	WriteBaseDelay time.Duration
	SinkTimeout    time.Duration
}

// DefaultSinkTimeout bounds one best-effort publish or notification.
const DefaultSinkTimeout = 2 * time.Second

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		LockTTL:        30 * time.Second,
		LockWait:       2 * time.Second,
		WriteAttempts:  4,
		WriteBaseDelay: 100 * time.Millisecond,
		SinkTimeout:    DefaultSinkTimeout,
	}
}

// Dispatcher routes verified events to their handlers.
type Dispatcher struct {
	engine    *tenant.Engine
	payments  payment.Store
	ledger    *affiliate.Ledger
	orders    orders.Store
	locker    lock.Locker
	publisher events.Publisher
	pusher    Pusher
	notifier  notify.Notifier
	stores    syncutil.ShardedMutex
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

var _ webhooks.Processor = (*Dispatcher)(nil)

// New creates a dispatcher with an in-process delivery lock and no
// follow-up sinks.
func New(engine *tenant.Engine, payments payment.Store, ledger *affiliate.Ledger, orderStore orders.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		engine:   engine,
		payments: payments,
		ledger:   ledger,
		orders:   orderStore,
		locker:   lock.NewLocal(),
		cfg:      DefaultConfig(),
		logger:   logger,
		now:      time.Now,
	}
}

// WithLocker replaces the delivery lock (e.g. Redis for several instances).
func (d *Dispatcher) WithLocker(l lock.Locker) *Dispatcher {
	d.locker = l
	return d
}

// WithPublisher sets the lifecycle event sink.
func (d *Dispatcher) WithPublisher(p events.Publisher) *Dispatcher {
	d.publisher = p
	return d
}

// WithPusher sets the realtime sink.
func (d *Dispatcher) WithPusher(p Pusher) *Dispatcher {
	d.pusher = p
	return d
}

// WithNotifier sets the vendor messaging sink.
func (d *Dispatcher) WithNotifier(n notify.Notifier) *Dispatcher {
	d.notifier = n
	return d
}

// WithConfig overrides locking and retry settings.
func (d *Dispatcher) WithConfig(cfg Config) *Dispatcher {
	d.cfg = cfg
	return d
}

// Process implements webhooks.Processor. A nil return acknowledges the
// event; webhooks.ErrBusy asks the gateway to deliver again later.
func (d *Dispatcher) Process(ctx context.Context, ev webhooks.Event) (err error) {
	meta := ev.Meta()
	ctx, span := traces.StartSpan(ctx, "dispatch.Process", traces.EventType(meta.RawType))
	outcome := outcomeError
	defer func() {
		metrics.DispatchTotal.WithLabelValues(string(ev.Kind()), outcome).Inc()
		traces.End(span, err)
	}()

	if meta.StoreScope != "" && !webhooks.AllowedForStore(ev) {
		logging.L(ctx).Warn("store-signed event outside storefront scope",
			"kind", ev.Kind(), "scope", meta.StoreScope, "event_id", meta.ID)
		outcome = outcomeRejected
		return fmt.Errorf("%w: %s", ErrStoreMismatch, ev.Kind())
	}

	switch e := ev.(type) {
	case *webhooks.PaymentSucceeded:
		if e.OrderNumber != "" {
			outcome, err = d.orderPaid(ctx, e)
		} else {
			outcome, err = d.paymentSucceeded(ctx, e)
		}
	case *webhooks.PaymentFailed:
		outcome, err = d.paymentFailed(ctx, e)
	case *webhooks.SubscriptionCreated:
		outcome, err = d.subscriptionCreated(ctx, e)
	case *webhooks.SubscriptionCancelled:
		outcome, err = d.subscriptionCancelled(ctx, e)
	default:
		d.logger.Info("dispatch: ignoring event", "kind", ev.Kind(), "event_id", meta.ID)
		outcome = outcomeIgnored
	}
	switch {
	case errors.Is(err, webhooks.ErrBusy):
		outcome = outcomeBusy
	case errors.Is(err, ErrStoreMismatch):
		outcome = outcomeRejected
	}
	return err
}

// acquire takes the delivery lock for key, mapping contention to ErrBusy.
func (d *Dispatcher) acquire(ctx context.Context, key string) (func(), error) {
	release, err := d.locker.Acquire(ctx, key, d.cfg.LockTTL, d.cfg.LockWait)
	if errors.Is(err, lock.ErrHeld) {
		return nil, webhooks.ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("acquire delivery lock: %w", err)
	}
	return release, nil
}

// findPending looks a payment up by gateway reference, then by the
// checkout token carried in metadata.
func (d *Dispatcher) findPending(ctx context.Context, ref, token string) (*payment.PendingPayment, error) {
	if ref != "" {
		p, err := d.payments.GetByReference(ctx, ref)
		if err == nil || !errors.Is(err, payment.ErrNotFound) {
			return p, err
		}
	}
	if token != "" {
		return d.payments.Get(ctx, token)
	}
	return nil, payment.ErrNotFound
}

func (d *Dispatcher) paymentSucceeded(ctx context.Context, e *webhooks.PaymentSucceeded) (string, error) {
	log := logging.L(ctx).With("reference", e.Reference, "event_id", e.ID)

	release, err := d.acquire(ctx, "payment:"+e.Reference)
	if err != nil {
		return outcomeError, err
	}
	defer release()

	p, err := d.findPending(ctx, e.Reference, e.Token)
	if errors.Is(err, payment.ErrNotFound) {
		log.Error("payment succeeded for unknown checkout, needs manual reconciliation", "token", e.Token, "store", e.StoreID)
		return outcomeError, fmt.Errorf("%w: reference %s", ErrUnmatched, e.Reference)
	}
	if err != nil {
		return outcomeError, fmt.Errorf("load pending payment: %w", err)
	}
	if p.Status == payment.StatusProcessed {
		log.Info("payment already processed", "pending", p.ID)
		return outcomeDuplicate, nil
	}
	if e.AmountCents > 0 && e.AmountCents < tenant.Cents(p.Amount) {
		log.Error("paid amount below plan price", "paid_cents", e.AmountCents, "expected", p.Amount.StringFixed(2))
		return outcomeError, ErrAmountShort
	}
	if e.StoreID != "" && payment.TenantID(e.StoreID) != payment.TenantID(p.StoreID) {
		log.Warn("event metadata store differs from pending payment, using pending payment", "event_store", e.StoreID, "store", p.StoreID)
	}

	tenantID := payment.TenantID(p.StoreID)
	ref := e.Reference
	if ref == "" {
		ref = p.ID
	}

	unlock := d.stores.Lock(tenantID)
	tr, accrual, err := d.applyPlanPayment(ctx, p, tenantID, ref)
	unlock()
	if err != nil {
		return outcomeError, err
	}

	err = retry.Do(ctx, d.cfg.WriteAttempts, d.cfg.WriteBaseDelay, func() error {
		err := d.payments.MarkProcessed(ctx, p.ID)
		if errors.Is(err, payment.ErrAlreadyProcessed) || errors.Is(err, payment.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil && !errors.Is(err, payment.ErrAlreadyProcessed) {
		return outcomeError, fmt.Errorf("mark payment processed: %w", err)
	}

	if tr.Applied {
		metrics.PlanTransitionsTotal.WithLabelValues(string(tr.From), string(tr.To)).Inc()
	}
	log.Info("plan payment dispatched",
		"store", tenantID, "kind", p.Kind(), "from", tr.From, "to", tr.To, "applied", tr.Applied)

	d.afterPlanPayment(ctx, p, tenantID, tr, accrual)
	if !tr.Applied {
		return outcomeDuplicate, nil
	}
	return outcomeApplied, nil
}

// applyPlanPayment runs provisioning, the plan transition and the commission
// accrual. Every step tolerates having already run.
func (d *Dispatcher) applyPlanPayment(ctx context.Context, p *payment.PendingPayment, tenantID, ref string) (*tenant.Transition, *affiliate.Accrual, error) {
	if p.Kind() == payment.KindSignup {
		if err := d.provision(ctx, p, tenantID); err != nil {
			return nil, nil, err
		}
	}
	if p.ReferralCode != "" {
		if err := d.attachReferral(ctx, p, tenantID); err != nil {
			return nil, nil, err
		}
	}

	var tr *tenant.Transition
	err := retry.Do(ctx, d.cfg.WriteAttempts, d.cfg.WriteBaseDelay, func() error {
		var err error
		tr, err = d.engine.ApplyPayment(ctx, tenantID, p.Plan, ref)
		if errors.Is(err, tenant.ErrTenantNotFound) || errors.Is(err, tenant.ErrInvalidPlan) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("apply plan payment: %w", err)
	}

	accrual, err := d.accrue(ctx, tenantID, ref, p.Plan)
	if err != nil {
		return nil, nil, err
	}
	return tr, accrual, nil
}

func (d *Dispatcher) provision(ctx context.Context, p *payment.PendingPayment, tenantID string) error {
	err := d.engine.Provision(ctx, &tenant.Tenant{
		ID:         tenantID,
		Name:       p.StoreName,
		OwnerID:    p.UserID,
		OwnerEmail: p.UserEmail,
		Phone:      p.Phone,
	})
	if errors.Is(err, tenant.ErrTenantExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("provision store: %w", err)
	}
	logging.L(ctx).Info("store provisioned from signup checkout", "store", tenantID, "pending", p.ID)
	d.publish(ctx, events.Event{
		Type:    events.TypeStoreProvisioned,
		StoreID: tenantID,
		Data:    map[string]any{"name": p.StoreName, "plan": p.Plan},
	})
	return nil
}

func (d *Dispatcher) attachReferral(ctx context.Context, p *payment.PendingPayment, tenantID string) error {
	_, err := d.ledger.CreateReferral(ctx, p.ReferralCode, tenantID, p.Plan)
	switch {
	case err == nil, errors.Is(err, affiliate.ErrReferralExists):
		return nil
	case errors.Is(err, affiliate.ErrAffiliateNotFound):
		logging.L(ctx).Warn("unknown referral code on checkout", "code", p.ReferralCode, "store", tenantID)
		return nil
	default:
		return fmt.Errorf("attach referral: %w", err)
	}
}

// accrue records this payment's commission when the store's referral still
// earns. period is the payment reference, so a replay is rejected by the
// ledger and treated as done.
func (d *Dispatcher) accrue(ctx context.Context, tenantID, period string, plan tenant.Plan) (*affiliate.Accrual, error) {
	r, err := d.ledger.Store().GetReferralByStore(ctx, tenantID)
	if errors.Is(err, affiliate.ErrReferralNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load referral: %w", err)
	}
	if !r.Status.Earning() {
		logging.L(ctx).Debug("referral no longer earning", "referral", r.ID, "status", r.Status)
		return nil, nil
	}

	acc, err := d.ledger.AccrueCommission(ctx, r.ID, period, plan)
	switch {
	case err == nil:
		return acc, nil
	case errors.Is(err, affiliate.ErrPeriodRecorded),
		errors.Is(err, affiliate.ErrReferralInactive):
		return nil, nil
	case errors.Is(err, affiliate.ErrCommissionWindowExhausted):
		logging.L(ctx).Info("commission window exhausted", "referral", r.ID)
		return nil, nil
	default:
		return nil, fmt.Errorf("accrue commission: %w", err)
	}
}

// afterPlanPayment fans the result out to best-effort sinks.
func (d *Dispatcher) afterPlanPayment(ctx context.Context, p *payment.PendingPayment, tenantID string, tr *tenant.Transition, acc *affiliate.Accrual) {
	if acc != nil {
		d.publish(ctx, events.Event{
			Type:    events.TypeCommissionAccrued,
			StoreID: tenantID,
			Data: map[string]any{
				"referralId":  acc.ReferralID,
				"affiliateId": acc.AffiliateID,
				"period":      acc.Period,
				"amount":      acc.Amount.StringFixed(2),
			},
		})
	}
	if !tr.Applied {
		return
	}

	data := map[string]any{"plan": tr.To, "previousPlan": tr.From}
	if tr.ExpiresAt != nil {
		data["expiresAt"] = tr.ExpiresAt
	}
	d.publish(ctx, events.Event{Type: events.TypePlanActivated, StoreID: tenantID, Data: data})
	d.push(&realtime.Event{Type: realtime.EventPlanActivated, StoreID: tenantID, Data: data})

	phone := p.Phone
	if t, err := d.engine.Store().Get(ctx, tenantID); err == nil && t.Phone != "" {
		phone = t.Phone
	}
	if phone == "" {
		return
	}
	msg := fmt.Sprintf("Payment received. Your TuckShop %s plan is active", tenant.Plans[tr.To].Name)
	if tr.ExpiresAt != nil {
		msg += " until " + tr.ExpiresAt.Format("2 Jan 2006")
	}
	d.notify(ctx, phone, msg+".")
}

func (d *Dispatcher) orderPaid(ctx context.Context, e *webhooks.PaymentSucceeded) (string, error) {
	number := orders.NormalizeNumber(e.OrderNumber)
	log := logging.L(ctx).With("order", number, "reference", e.Reference)

	release, err := d.acquire(ctx, "order:"+number)
	if err != nil {
		return outcomeError, err
	}
	defer release()

	o, err := d.orders.Get(ctx, number)
	if err != nil {
		return outcomeError, fmt.Errorf("load order %s: %w", number, err)
	}
	if e.StoreScope != "" && o.StoreID != e.StoreScope {
		log.Error("order payment delivered by another store", "scope", e.StoreScope, "store", o.StoreID)
		return outcomeRejected, ErrStoreMismatch
	}

	var paid *orders.Order
	err = retry.Do(ctx, d.cfg.WriteAttempts, d.cfg.WriteBaseDelay, func() error {
		var err error
		paid, err = d.orders.MarkPaid(ctx, number, e.Reference, d.now().UTC())
		if errors.Is(err, orders.ErrAlreadyPaid) || errors.Is(err, orders.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, orders.ErrAlreadyPaid) {
		log.Info("order already paid")
		return outcomeDuplicate, nil
	}
	if err != nil {
		return outcomeError, fmt.Errorf("mark order paid: %w", err)
	}
	log.Info("order paid", "store", paid.StoreID, "total", paid.Total.StringFixed(2))

	d.publish(ctx, events.Event{
		Type:    events.TypeOrderPaid,
		StoreID: paid.StoreID,
		Data:    map[string]any{"orderNumber": number, "total": paid.Total.StringFixed(2), "reference": e.Reference},
	})
	d.push(&realtime.Event{
		Type:        realtime.EventOrderPaid,
		StoreID:     paid.StoreID,
		OrderNumber: number,
		Data:        map[string]any{"total": paid.Total.StringFixed(2)},
	})
	if t, err := d.engine.Store().Get(ctx, paid.StoreID); err == nil && t.Phone != "" {
		msg := fmt.Sprintf("New paid order %s: R%s", number, paid.Total.StringFixed(2))
		if paid.CustomerName != "" {
			msg += " from " + paid.CustomerName
		}
		d.notify(ctx, t.Phone, msg+".")
	}
	return outcomeApplied, nil
}

func (d *Dispatcher) paymentFailed(ctx context.Context, e *webhooks.PaymentFailed) (string, error) {
	log := logging.L(ctx).With("reference", e.Reference, "event_id", e.ID)

	if e.OrderNumber != "" {
		number := orders.NormalizeNumber(e.OrderNumber)
		if e.StoreScope != "" {
			o, err := d.orders.Get(ctx, number)
			if errors.Is(err, orders.ErrNotFound) {
				log.Info("order payment failure for unknown order ignored", "order", number)
				return outcomeIgnored, nil
			}
			if err != nil {
				return outcomeError, fmt.Errorf("load order %s: %w", number, err)
			}
			if o.StoreID != e.StoreScope {
				log.Error("order payment failure delivered by another store", "scope", e.StoreScope, "store", o.StoreID)
				return outcomeRejected, ErrStoreMismatch
			}
		}
		err := d.orders.MarkFailed(ctx, number, e.Reason, d.now().UTC())
		if errors.Is(err, orders.ErrNotPending) || errors.Is(err, orders.ErrNotFound) {
			log.Info("order payment failure ignored", "order", number, "error", err)
			return outcomeIgnored, nil
		}
		if err != nil {
			return outcomeError, fmt.Errorf("mark order failed: %w", err)
		}
		d.push(&realtime.Event{
			Type:        realtime.EventPaymentFailed,
			StoreID:     e.StoreScope,
			OrderNumber: number,
			Data:        map[string]any{"reason": e.Reason},
		})
		return outcomeApplied, nil
	}

	p, err := d.findPending(ctx, e.Reference, e.Token)
	if errors.Is(err, payment.ErrNotFound) {
		log.Info("payment failure for unknown checkout ignored")
		return outcomeIgnored, nil
	}
	if err != nil {
		return outcomeError, fmt.Errorf("load pending payment: %w", err)
	}
	err = d.payments.MarkFailed(ctx, p.ID, e.Reason)
	if errors.Is(err, payment.ErrNotPending) || errors.Is(err, payment.ErrAlreadyProcessed) {
		log.Info("payment failure after final status ignored", "pending", p.ID)
		return outcomeIgnored, nil
	}
	if err != nil {
		return outcomeError, fmt.Errorf("mark payment failed: %w", err)
	}

	tenantID := payment.TenantID(p.StoreID)
	log.Info("plan payment failed", "store", tenantID, "reason", e.Reason)
	d.publish(ctx, events.Event{
		Type:    events.TypePaymentFailed,
		StoreID: tenantID,
		Data:    map[string]any{"plan": p.Plan, "reason": e.Reason},
	})
	d.push(&realtime.Event{
		Type:    realtime.EventPaymentFailed,
		StoreID: tenantID,
		Data:    map[string]any{"plan": p.Plan, "reason": e.Reason},
	})
	return outcomeApplied, nil
}

func (d *Dispatcher) subscriptionCreated(ctx context.Context, e *webhooks.SubscriptionCreated) (string, error) {
	if e.StoreID == "" {
		logging.L(ctx).Warn("subscription event without store", "subscription", e.SubscriptionID)
		return outcomeIgnored, nil
	}
	tenantID := payment.TenantID(e.StoreID)
	// A signup's subscription may arrive before its payment provisions the
	// store; failing here makes the gateway deliver it again.
	if err := d.engine.Store().SetSubscription(ctx, tenantID, e.SubscriptionID); err != nil {
		return outcomeError, fmt.Errorf("link subscription: %w", err)
	}
	d.publish(ctx, events.Event{
		Type:    events.TypeSubscriptionLinked,
		StoreID: tenantID,
		Data:    map[string]any{"subscriptionId": e.SubscriptionID},
	})
	return outcomeApplied, nil
}

func (d *Dispatcher) subscriptionCancelled(ctx context.Context, e *webhooks.SubscriptionCancelled) (string, error) {
	log := logging.L(ctx).With("subscription", e.SubscriptionID)
	if e.StoreID == "" {
		log.Warn("subscription event without store")
		return outcomeIgnored, nil
	}
	tenantID := payment.TenantID(e.StoreID)

	unlock := d.stores.Lock(tenantID)
	defer unlock()

	var tr *tenant.Transition
	err := retry.Do(ctx, d.cfg.WriteAttempts, d.cfg.WriteBaseDelay, func() error {
		var err error
		tr, err = d.engine.Cancel(ctx, tenantID)
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, tenant.ErrTenantNotFound) {
		log.Warn("cancellation for unknown store ignored", "store", tenantID)
		return outcomeIgnored, nil
	}
	if err != nil {
		return outcomeError, fmt.Errorf("cancel plan: %w", err)
	}

	// Ending the referral runs on every delivery so a failure after the
	// plan change is repaired by the retry.
	ref, err := d.ledger.EndReferral(ctx, tenantID, affiliate.ReferralChurned)
	if err != nil {
		return outcomeError, fmt.Errorf("end referral: %w", err)
	}

	if ref != nil {
		d.publish(ctx, events.Event{
			Type:    events.TypeReferralEnded,
			StoreID: tenantID,
			Data:    map[string]any{"referralId": ref.ID, "status": ref.Status},
		})
	}
	if !tr.Applied {
		return outcomeDuplicate, nil
	}

	metrics.PlanTransitionsTotal.WithLabelValues(string(tr.From), string(tr.To)).Inc()
	log.Info("plan cancelled by gateway", "store", tenantID, "from", tr.From)
	data := map[string]any{"plan": tr.To, "previousPlan": tr.From}
	d.publish(ctx, events.Event{Type: events.TypePlanCancelled, StoreID: tenantID, Data: data})
	d.push(&realtime.Event{Type: realtime.EventPlanCancelled, StoreID: tenantID, Data: data})
	return outcomeApplied, nil
}

func (d *Dispatcher) publish(ctx context.Context, ev events.Event) {
	if d.publisher == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = d.now().UTC()
	}
	sinkCtx, cancel := d.sinkContext(ctx)
	defer cancel()
	if err := d.publisher.Publish(sinkCtx, ev); err != nil {
		logging.L(ctx).Warn("lifecycle event not published", "type", ev.Type, "store", ev.StoreID, "error", err)
	}
}

// sinkContext detaches a sink call from the request's cancellation and gives
// it its own short deadline. The state change is already committed, so a
// slow sink only loses its side effect.
func (d *Dispatcher) sinkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := d.cfg.SinkTimeout
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (d *Dispatcher) push(ev *realtime.Event) {
	if d.pusher != nil {
		d.pusher.Broadcast(ev)
	}
}

func (d *Dispatcher) notify(ctx context.Context, phone, msg string) {
	if d.notifier == nil {
		return
	}
	sinkCtx, cancel := d.sinkContext(ctx)
	defer cancel()
	res := d.notifier.Send(sinkCtx, phone, msg)
	if !res.Success && res.Warning != "" {
		logging.L(ctx).Warn("vendor notification not sent", "warning", res.Warning)
	}
}
