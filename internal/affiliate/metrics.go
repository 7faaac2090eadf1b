package affiliate

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	accrualsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "affiliate",
		Name:      "accruals_total",
		Help:      "Commission accrual attempts by result.",
	}, []string{"result"})

	commissionAccrued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "affiliate",
		Name:      "commission_accrued_rands_total",
		Help:      "Total commission accrued in rands.",
	})

	payoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuckshop",
		Subsystem: "affiliate",
		Name:      "payouts_total",
		Help:      "Payout operations by action and result.",
	}, []string{"action", "result"})
)

func init() {
	prometheus.MustRegister(accrualsTotal, commissionAccrued, payoutsTotal)
}

func accrualResult(err error) string {
	switch {
	case err == nil:
		return "accrued"
	case errors.Is(err, ErrPeriodRecorded):
		return "duplicate"
	case errors.Is(err, ErrCommissionWindowExhausted):
		return "window_exhausted"
	case errors.Is(err, ErrReferralInactive):
		return "inactive"
	default:
		return "error"
	}
}
