package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// ChatSends counts completed sends by outcome: sent or the error code.
	ChatSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zefa",
		Subsystem: "chat",
		Name:      "sends_total",
		Help:      "Chat messages sent to the backend, by outcome.",
	}, []string{"outcome"})

	ChatSendsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zefa",
		Subsystem: "chat",
		Name:      "sends_dropped_total",
		Help:      "Send calls ignored because the text was blank or a send was in flight.",
	})

	EditSyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zefa",
		Subsystem: "transactions",
		Name:      "edit_syncs_total",
		Help:      "Transaction edit sync attempts, by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	PendingEdits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zefa",
		Subsystem: "transactions",
		Name:      "pending_edits",
		Help:      "Local edits not yet confirmed by the backend.",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ChatSends,
		ChatSendsDropped,
		EditSyncs,
		PendingEdits,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
