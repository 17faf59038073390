package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes the service's dropped-message counters and
// per-connection stats as prometheus metrics. Register it with a registry of
// your choosing.
type MetricsCollector struct {
	ms *MessagingService

	droppedDesc        *prometheus.Desc
	clientSentDesc     *prometheus.Desc
	clientReceivedDesc *prometheus.Desc
	clientPendingDesc  *prometheus.Desc
	serverConnsDesc    *prometheus.Desc
}

func NewMetricsCollector(ms *MessagingService) *MetricsCollector {
	return &MetricsCollector{
		ms: ms,
		droppedDesc: prometheus.NewDesc("vortex_messaging_dropped_messages_total",
			"Number of outbound requests that failed, by verb", []string{"verb"}, nil),
		clientSentDesc: prometheus.NewDesc("vortex_messaging_client_sent_total",
			"Messages sent on cached outbound connections, by peer", []string{"peer"}, nil),
		clientReceivedDesc: prometheus.NewDesc("vortex_messaging_client_received_total",
			"Responses received on cached outbound connections, by peer", []string{"peer"}, nil),
		clientPendingDesc: prometheus.NewDesc("vortex_messaging_client_pending",
			"Requests awaiting a response on cached outbound connections, by peer", []string{"peer"}, nil),
		serverConnsDesc: prometheus.NewDesc("vortex_messaging_server_connections",
			"Active inbound connections across all listeners", nil, nil),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.droppedDesc
	ch <- c.clientSentDesc
	ch <- c.clientReceivedDesc
	ch <- c.clientPendingDesc
	ch <- c.serverConnsDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	for v := 0; v < VerbCount; v++ {
		verb := Verb(v)
		ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue,
			float64(c.ms.DroppedFor(verb)), verb.String())
	}
	c.ms.ForEachClient(func(id PeerID, stats ConnectionStats) {
		peer := id.String()
		ch <- prometheus.MustNewConstMetric(c.clientSentDesc, prometheus.CounterValue, float64(stats.Sent), peer)
		ch <- prometheus.MustNewConstMetric(c.clientReceivedDesc, prometheus.CounterValue, float64(stats.Received), peer)
		ch <- prometheus.MustNewConstMetric(c.clientPendingDesc, prometheus.GaugeValue, float64(stats.Pending), peer)
	})
	var serverConns float64
	c.ms.ForEachServerConnection(func(_ *ClientInfo, _ ConnectionStats) {
		serverConns++
	})
	ch <- prometheus.MustNewConstMetric(c.serverConnsDesc, prometheus.GaugeValue, serverConns)
}
