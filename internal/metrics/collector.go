// Package metrics exposes the upstream pool's health model as Prometheus
// gauges (--metrics-addr), adapted from the teacher pack's tcp_info
// collector: a Describe/Collect pair plus a per-metric description+
// supplier table (pkg/exporter's TCPInfoCollector), retargeted from
// per-connection TCP_INFO fields to per-upstream score/health/traffic
// fields from internal/upstream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nullrouted/udptproxy/internal/upstream"
)

const namespace = "udptproxy"

// UpstreamCollector implements prometheus.Collector over the live
// contents of an upstream.Pool snapshot, taken fresh on every scrape.
type UpstreamCollector struct {
	pool *upstream.Pool

	score      *prometheus.Desc
	inTrouble  *prometheus.Desc
	txBytes    *prometheus.Desc
	rxBytes    *prometheus.Desc
	pingLoss   *prometheus.Desc
	pingAvgMs  *prometheus.Desc
	innerProto *prometheus.Desc
}

// NewUpstreamCollector builds a collector reading from pool on every
// Collect call.
func NewUpstreamCollector(pool *upstream.Pool) *UpstreamCollector {
	labels := []string{"upstream", "address"}
	return &UpstreamCollector{
		pool: pool,
		score: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "score"),
			"Ranking score of the upstream; lower is better.", labels, nil),
		inTrouble: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "in_trouble"),
			"1 if the upstream's health flag is set, 0 otherwise.", labels, nil),
		txBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "tx_bytes_total"),
			"Cumulative bytes forwarded to the upstream.", labels, nil),
		rxBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "rx_bytes_total"),
			"Cumulative bytes received from the upstream.", labels, nil),
		pingLoss: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "ping_loss_percent"),
			"Percentage of the last 100 pings lost.", labels, nil),
		pingAvgMs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "ping_avg_delay_ms"),
			"Average ping delay over the last 100 samples, in milliseconds.", labels, nil),
		innerProto: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "upstream", "inner_proto"),
			"Discovered inner protocol capability: 0=unspecified, 1=ipv4, 2=ipv6, 3=inet.", labels, nil),
	}
}

func (c *UpstreamCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.score
	descs <- c.inTrouble
	descs <- c.txBytes
	descs <- c.rxBytes
	descs <- c.pingLoss
	descs <- c.pingAvgMs
	descs <- c.innerProto
}

func (c *UpstreamCollector) Collect(metrics chan<- prometheus.Metric) {
	for _, up := range c.pool.Snapshot() {
		labels := []string{up.Name, up.Addr.String()}

		metrics <- prometheus.MustNewConstMetric(c.score, prometheus.GaugeValue, float64(up.Score()), labels...)
		metrics <- prometheus.MustNewConstMetric(c.inTrouble, prometheus.GaugeValue, boolToFloat(up.Health.InTrouble()), labels...)

		tx, rx := up.CumulativeBytes()
		metrics <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(tx), labels...)
		metrics <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(rx), labels...)

		metrics <- prometheus.MustNewConstMetric(c.pingLoss, prometheus.GaugeValue, float64(up.Ping.LossPercent()), labels...)
		if avg := up.Ping.AverageDelay(); avg != nil {
			metrics <- prometheus.MustNewConstMetric(c.pingAvgMs, prometheus.GaugeValue, float64(avg.Milliseconds()), labels...)
		}

		metrics <- prometheus.MustNewConstMetric(c.innerProto, prometheus.GaugeValue, float64(up.InnerProto.Load()), labels...)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
