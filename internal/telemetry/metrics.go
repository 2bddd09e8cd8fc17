// Package telemetry holds the Prometheus collectors shared by the selection
// engine and the service around it.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SelectionChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zoneselect_selection_changes_total",
		Help: "Committed selection changes by source",
	}, []string{"source"})
	ValidationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zoneselect_validation_failures_total",
		Help: "Operations rejected by constraint validation",
	})
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zoneselect_notifications_total",
		Help: "Change notifications delivered, immediate or batched",
	}, []string{"mode"})
	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zoneselect_operation_duration_seconds",
		Help:    "Time spent inside a selection operation",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	}, []string{"op"})
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zoneselect_store_errors_total",
		Help: "Selection store failures by operation",
	}, []string{"op"})
	WSSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zoneselect_ws_sessions",
		Help: "Open websocket selection sessions",
	})
	WSMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zoneselect_ws_messages_total",
		Help: "Websocket messages received by type",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(SelectionChanges)
	prometheus.MustRegister(ValidationFailures)
	prometheus.MustRegister(Notifications)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(StoreErrors)
	prometheus.MustRegister(WSSessions)
	prometheus.MustRegister(WSMessages)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }
