package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairinghub_envelopes_total",
			Help: "Inbound envelopes by event type.",
		},
		[]string{"event"},
	)
	EnvelopesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pairinghub_envelopes_dropped_total",
			Help: "Inbound envelopes dropped for malformed or incomplete payloads.",
		},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pairinghub_ws_reconnects_total",
			Help: "WebSocket reconnect attempts.",
		},
	)
	ClaimErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairinghub_claim_errors_total",
			Help: "Failed claim requests by error class.",
		},
		[]string{"class"},
	)
)

func init() {
	prometheus.MustRegister(EnvelopesTotal, EnvelopesDropped, ReconnectsTotal, ClaimErrorsTotal)
}

func Handler() http.Handler { return promhttp.Handler() }
