// Package metrics holds the Prometheus collectors of the checkout engine.
package metrics

import (
	"errors"

	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "offer_checkout"

var (
	// CheckoutTotal counts checkouts by outcome.
	// Labels: outcome (ok, empty, unavailable, insufficient_stock, offer_lapsed, not_found, error)
	CheckoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "total",
		Help:      "Checkouts by outcome",
	}, []string{"outcome"})

	CheckoutOrders = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "orders_total",
		Help:      "Order lines written by committed checkouts",
	})

	CheckoutPromotionUses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "promotion_uses_total",
		Help:      "Special offer applications spent by committed checkouts",
	})

	CheckoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "duration_seconds",
		Help:      "Checkout transaction latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	RestockedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "restocked_units_total",
		Help:      "Units added by restocks",
	})

	ExpiredUnits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stock",
		Name:      "expired_units_total",
		Help:      "Units written off by expiry sweeps",
	})

	// SweepRuns counts expiry sweeps.
	// Labels: outcome (ok, error)
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Expiry sweeps by outcome",
	}, []string{"outcome"})
)

// CheckoutOutcome classifies a checkout error into a metric label.
func CheckoutOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrUnavailableProduct):
		return "unavailable"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrOfferLapsed):
		return "offer_lapsed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
