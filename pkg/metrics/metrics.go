package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatkit_ws_connections",
			Help: "Currently connected websocket clients",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_events_published_total",
			Help: "Events published to the broker by kind",
		},
		[]string{"kind"},
	)

	EventsFannedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatkit_events_fanned_out_total",
			Help: "Events delivered to subscribed clients",
		},
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatkit_messages_persisted_total",
			Help: "Chat events written to the history store",
		},
	)

	HistoryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatkit_history_requests_total",
			Help: "Backlog fetches served by the api",
		},
		[]string{"status"},
	)

	FilesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatkit_files_uploaded_total",
			Help: "Blobs accepted by the files endpoint",
		},
	)
)
