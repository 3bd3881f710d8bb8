package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Notification events handed to the bus, by kind",
		},
		[]string{"kind"},
	)

	EventsDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_events_delivered_total",
			Help: "Events pushed to live connections",
		},
	)

	ConnectionsAdmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_connections_admitted_total",
			Help: "Connections that passed token validation and re-authorization",
		},
	)

	ConnectionsRefusedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connections_refused_total",
			Help: "Connections refused at admit, by reason code",
		},
		[]string{"reason"},
	)

	ConnectionsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connections_dropped_total",
			Help: "Live connections dropped, by cause",
		},
		[]string{"cause"},
	)

	ConnectionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_live",
			Help: "Currently admitted connections on this instance",
		},
	)

	BusDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_bus_degraded",
			Help: "1 when cross-instance delivery is not guaranteed",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		EventsPublishedTotal,
		EventsDeliveredTotal,
		ConnectionsAdmittedTotal,
		ConnectionsRefusedTotal,
		ConnectionsDroppedTotal,
		ConnectionsLive,
		BusDegraded,
	)
}
