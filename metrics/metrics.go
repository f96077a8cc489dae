// Package metrics exports gateway status, link byte counters, and update
// outcomes to prometheus.
package metrics // import "go.jonnrb.io/apgw/metrics"

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.jonnrb.io/apgw/gateway"
	"go.jonnrb.io/apgw/iface"
	"go.jonnrb.io/apgw/log"
	"go.jonnrb.io/apgw/update"
)

var (
	metricScrapeInterval = flag.Duration(
		"metrics.scrape_interval",
		5*time.Second,
		"How often to scrape metrics from the kernel.")
)

type Source interface {
	Snapshot() gateway.Snapshot
}

// A link to scrape byte counters for.
type Link struct {
	Role string
	Name string
}

type Metrics struct {
	reg *prometheus.Registry

	receiveBytes  *prometheus.GaugeVec
	transmitBytes *prometheus.GaugeVec
	updates       *prometheus.CounterVec
}

// Returns Metrics whose handler serves the status of src. Link counters are
// scraped until ctx is done.
func New(ctx context.Context, src Source, links []Link) (*Metrics, error) {
	m := newMetrics()
	if err := m.reg.Register(&snapshotCollector{src}); err != nil {
		return nil, err
	}
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.reg.Register(c); err != nil {
			return nil, err
		}
	}

	go m.scrapeOnInterval(ctx, procNetDev, links)
	return m, nil
}

func newMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		receiveBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apgw_network_receive_bytes",
			Help: "Counter reporting receive bytes on a gateway interface.",
		}, []string{"role", "link"}),
		transmitBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apgw_network_transmit_bytes",
			Help: "Counter reporting transmit bytes on a gateway interface.",
		}, []string{"role", "link"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apgw_update_results_total",
			Help: "Firmware update transfers by outcome.",
		}, []string{"outcome"}),
	}
	m.reg.MustRegister(m.receiveBytes, m.transmitBytes, m.updates)
	return m
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// Counts an update result. Suitable for update.Gate.OnResult.
func (m *Metrics) ObserveUpdate(r update.Result) {
	m.updates.WithLabelValues(r.Outcome.String()).Inc()
}

func (m *Metrics) scrapeOnInterval(ctx context.Context, path string, links []Link) {
	log.V(2).Infof("scraping metrics every %v", *metricScrapeInterval)

	t := time.NewTicker(*metricScrapeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.doMetricsScrape(path, links)
		}
	}
}

var (
	descUp = prometheus.NewDesc(
		"apgw_interface_up",
		"Whether the interface is usable.",
		[]string{"role"}, nil)
	descState = prometheus.NewDesc(
		"apgw_interface_state",
		"Interface state: 0 down, 1 starting, 2 link up, 3 ready.",
		[]string{"role"}, nil)
	descPeers = prometheus.NewDesc(
		"apgw_ap_peers",
		"Clients associated with the access point.",
		nil, nil)
	descTranslation = prometheus.NewDesc(
		"apgw_translation_enabled",
		"Whether address translation between the interfaces is enabled.",
		nil, nil)
	descDegraded = prometheus.NewDesc(
		"apgw_degraded",
		"Whether the gateway is running in a degraded mode.",
		nil, nil)
	descUptime = prometheus.NewDesc(
		"apgw_uptime_seconds",
		"Time since the gateway started.",
		nil, nil)
)

type snapshotCollector struct {
	src Source
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{descUp, descState, descPeers, descTranslation, descDegraded, descUptime} {
		ch <- d
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func stateValue(s iface.State) float64 {
	switch s {
	case iface.Starting:
		return 1
	case iface.LinkUp:
		return 2
	case iface.Ready:
		return 3
	default:
		return 0
	}
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()
	for _, st := range []iface.Status{s.Wired, s.Wireless} {
		role := st.Role.String()
		ch <- prometheus.MustNewConstMetric(descUp, prometheus.GaugeValue, b2f(st.Up()), role)
		ch <- prometheus.MustNewConstMetric(descState, prometheus.GaugeValue, stateValue(st.State), role)
	}
	ch <- prometheus.MustNewConstMetric(descPeers, prometheus.GaugeValue, float64(s.Wireless.Peers))
	ch <- prometheus.MustNewConstMetric(descTranslation, prometheus.GaugeValue, b2f(s.TranslationEnabled))
	ch <- prometheus.MustNewConstMetric(descDegraded, prometheus.GaugeValue, b2f(len(s.Degraded) != 0))
	ch <- prometheus.MustNewConstMetric(descUptime, prometheus.GaugeValue, s.Uptime.Seconds())
}
