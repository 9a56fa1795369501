package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CodeExchanges tracks authorization code exchanges by result
	CodeExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saxotrader_code_exchanges_total",
			Help: "Total number of authorization code exchanges by result (success/failure)",
		},
		[]string{"result", "reason"},
	)

	// TokenRefreshes tracks token refresh operations
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saxotrader_token_refreshes_total",
			Help: "Total number of token refresh operations by result",
		},
		[]string{"result", "reason"},
	)

	// TokenRefreshDuration tracks token refresh duration
	TokenRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saxotrader_token_refresh_duration_seconds",
			Help:    "Duration of token refresh requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// AuthTransitions tracks auth state machine transitions
	AuthTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saxotrader_auth_transitions_total",
			Help: "Total number of auth state transitions by target state",
		},
		[]string{"to"},
	)

	// CallbacksReceived tracks OAuth callbacks and manual code submissions
	CallbacksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saxotrader_callbacks_received_total",
			Help: "Total number of authorization codes received by result",
		},
		[]string{"result"},
	)

	// APIRequests tracks broker API calls by endpoint and status class
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saxotrader_api_requests_total",
			Help: "Total number of broker API requests by method, endpoint and result",
		},
		[]string{"method", "endpoint", "result"},
	)

	// APIRequestDuration tracks broker API latency
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saxotrader_api_request_duration_seconds",
			Help:    "Duration of broker API requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	// OrdersFired tracks scheduled order submissions
	OrdersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saxotrader_orders_fired_total",
			Help: "Total number of scheduled order submissions by order and result",
		},
		[]string{"order", "result"},
	)

	// OrdersSkipped tracks due orders held back by the scheduler
	OrdersSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saxotrader_orders_skipped_total",
			Help: "Total number of due orders not fired by reason",
		},
		[]string{"reason"},
	)

	// HTTPRequestDuration tracks control surface request duration by endpoint
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saxotrader_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by endpoint and status",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method", "status"},
	)

	// RateLimitHits tracks rate limit hits
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saxotrader_rate_limit_hits_total",
			Help: "Total number of requests that hit rate limits",
		},
	)
)

// RecordExchangeSuccess records a successful code exchange
func RecordExchangeSuccess() {
	CodeExchanges.WithLabelValues("success", "").Inc()
}

// RecordExchangeFailure records a failed code exchange with reason
func RecordExchangeFailure(reason string) {
	CodeExchanges.WithLabelValues("failure", reason).Inc()
}

// RecordTokenRefreshSuccess records a successful token refresh
func RecordTokenRefreshSuccess() {
	TokenRefreshes.WithLabelValues("success", "").Inc()
}

// RecordTokenRefreshFailure records a failed token refresh with reason
func RecordTokenRefreshFailure(reason string) {
	TokenRefreshes.WithLabelValues("failure", reason).Inc()
}

// RecordTransition records an auth state change
func RecordTransition(to string) {
	AuthTransitions.WithLabelValues(to).Inc()
}

// RecordCallbackSuccess records an accepted authorization code
func RecordCallbackSuccess() {
	CallbacksReceived.WithLabelValues("success").Inc()
}

// RecordCallbackFailure records a rejected authorization code
func RecordCallbackFailure() {
	CallbacksReceived.WithLabelValues("failure").Inc()
}

// RecordAPIRequest records a broker API call
func RecordAPIRequest(method, endpoint, result string) {
	APIRequests.WithLabelValues(method, endpoint, result).Inc()
}

// RecordOrderFired records a scheduled order submission
func RecordOrderFired(order string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	OrdersFired.WithLabelValues(order, result).Inc()
}

// RecordOrderSkipped records a due order held back
func RecordOrderSkipped(reason string) {
	OrdersSkipped.WithLabelValues(reason).Inc()
}
