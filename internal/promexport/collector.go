// Package promexport serves live run counters in the Prometheus text format.
package promexport

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/pushload/internal/metrics"
)

const namespace = "pushload"

// RunState exposes the live counters of a running driver.
type RunState interface {
	Connected() int
	Cycles() int64
}

// Collector reads the run's counters on every scrape. Any source may be nil.
type Collector struct {
	hist      *metrics.HistogramCounter
	reconnect *metrics.PercentileCounter
	connect   *metrics.PercentileCounter
	run       RunState

	connected     *prometheus.Desc
	cycles        *prometheus.Desc
	buckets       *prometheus.Desc
	latency       *prometheus.Desc
	sent          *prometheus.Desc
	sentBytes     *prometheus.Desc
	received      *prometheus.Desc
	receivedBytes *prometheus.Desc
	connSuccess   *prometheus.Desc
	connFailure   *prometheus.Desc
	connectCost   *prometheus.Desc
}

// NewCollector creates a collector over the given counters.
func NewCollector(hist *metrics.HistogramCounter, reconnect, connect *metrics.PercentileCounter, run RunState) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		hist:      hist,
		reconnect: reconnect,
		connect:   connect,
		run:       run,

		connected:     desc("clients_connected", "Virtual clients currently connected"),
		cycles:        desc("cycles_total", "Completed send cycles"),
		buckets:       desc("latency_bucket_total", "Round trips per 100ms latency bucket", "bucket"),
		latency:       desc("latency_milliseconds", "Round trip latency quantiles", "quantile"),
		sent:          desc("messages_sent_total", "Messages sent"),
		sentBytes:     desc("sent_bytes_total", "Payload bytes sent"),
		received:      desc("messages_received_total", "Messages received"),
		receivedBytes: desc("received_bytes_total", "Payload bytes received"),
		connSuccess:   desc("connection_successes_total", "Completed connection handshakes"),
		connFailure:   desc("connection_failures_total", "Closed or failed connections"),
		connectCost:   desc("connect_cost_milliseconds", "Connect and reconnect cost quantiles", "kind", "quantile"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.connected, c.cycles, c.buckets, c.latency, c.sent, c.sentBytes,
		c.received, c.receivedBytes, c.connSuccess, c.connFailure, c.connectCost,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.run != nil {
		ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, float64(c.run.Connected()))
		ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(c.run.Cycles()))
	}

	if c.hist != nil {
		snap := c.hist.Snapshot()
		for i, n := range snap.Buckets {
			ch <- prometheus.MustNewConstMetric(c.buckets, prometheus.CounterValue, float64(n), strconv.Itoa(i))
		}
		counters := []struct {
			desc  *prometheus.Desc
			value int64
		}{
			{c.sent, snap.Sent},
			{c.sentBytes, snap.SentBytes},
			{c.received, snap.Received},
			{c.receivedBytes, snap.ReceivedBytes},
			{c.connSuccess, snap.ConnectionSuccess},
			{c.connFailure, snap.ConnectionFailure},
		}
		for _, m := range counters {
			ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(m.value))
		}

		if stats := c.hist.LatencyStats(); stats.Count > 0 {
			quantiles := []struct {
				label string
				value int64
			}{
				{"0.5", stats.P50Ms},
				{"0.9", stats.P90Ms},
				{"0.99", stats.P99Ms},
				{"1", stats.MaxMs},
			}
			for _, q := range quantiles {
				ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, float64(q.value), q.label)
			}
		}
	}

	c.collectCost(ch, "connect", c.connect)
	c.collectCost(ch, "reconnect", c.reconnect)
}

func (c *Collector) collectCost(ch chan<- prometheus.Metric, kind string, counter *metrics.PercentileCounter) {
	if counter == nil {
		return
	}
	p, ok := counter.Percentiles()
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.connectCost, prometheus.GaugeValue, float64(p.P90), kind, "0.9")
	ch <- prometheus.MustNewConstMetric(c.connectCost, prometheus.GaugeValue, float64(p.P95), kind, "0.95")
	ch <- prometheus.MustNewConstMetric(c.connectCost, prometheus.GaugeValue, float64(p.P99), kind, "0.99")
}
