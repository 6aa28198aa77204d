package trial

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trial_activation_decisions_total",
			Help: "Activation decisions by outcome and store mode",
		},
		[]string{"decision", "store_mode"},
	)

	fraudFlagsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trial_fraud_flags_total",
			Help: "Fraud flags raised during activation, by flag type",
		},
		[]string{"flag_type"},
	)

	tokenOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trial_token_operations_total",
			Help: "Token lifecycle operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	storeModeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trial_store_mode",
			Help: "1 for the store mode the engine is running with",
		},
		[]string{"mode"},
	)
)

// RecordStoreMode pins the store-mode gauge at startup so a RAM-only
// deployment is visible on dashboards, not just in logs.
func RecordStoreMode(mode StoreMode) {
	for _, m := range []StoreMode{StoreModePostgres, StoreModeMemory} {
		value := 0.0
		if m == mode {
			value = 1.0
		}
		storeModeGauge.WithLabelValues(string(m)).Set(value)
	}
}
