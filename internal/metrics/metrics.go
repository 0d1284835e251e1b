package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedeemDuration tracks the latency of batch redemption
	RedeemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "leadpool_redeem_duration_seconds",
			Help: "Duration of redeem requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
			},
		},
		[]string{"status"}, // success, denied or error
	)

	// Denials counts user-visible denials by reason code
	Denials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpool_denials_total",
			Help: "Redeem and upload requests denied, by reason",
		},
		[]string{"reason"},
	)

	// UploadedNumbers counts accepted converted-lead reports
	UploadedNumbers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadpool_uploaded_numbers_total",
			Help: "Phone numbers accepted from upload submissions",
		},
	)

	// PoolBatches reports the size of the last built pool
	PoolBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadpool_pool_batches",
			Help: "Number of batches in the most recently built pool",
		},
	)
)

// RecordRedeemDuration records the duration of a redeem request
func RecordRedeemDuration(status string, duration float64) {
	RedeemDuration.WithLabelValues(status).Observe(duration)
}

// RecordDenial counts a denial
func RecordDenial(reason string) {
	Denials.WithLabelValues(reason).Inc()
}
