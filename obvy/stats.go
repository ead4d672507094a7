package cuebridge

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsInternal holds the bridge's own prometheus registry.
// Each instance registers its collectors separately, so tests can make as many as they like.
type StatsInternal struct {
	Registry  *prometheus.Registry
	Events    *prometheus.CounterVec
	Dispatch  *prometheus.CounterVec
	WWW       *prometheus.CounterVec
	Cycle     prometheus.Histogram
	LoopRate  prometheus.Gauge
	Connected prometheus.Gauge
}

func NewStatsInternal() *StatsInternal {
	reg := prometheus.NewRegistry()

	s := &StatsInternal{
		Registry: reg,
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cuebridge",
			Name:      "midi_events_total",
			Help:      "MIDI channel messages decoded, by message type.",
		}, []string{"type"}),
		Dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cuebridge",
			Name:      "dispatch_total",
			Help:      "Trigger outcomes: sent, login, transport_error, unmatched, ambiguous.",
		}, []string{"outcome", "code"}),
		WWW: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cuebridge",
			Name:      "www_requests_total",
			Help:      "Requests served by the status API.",
		}, []string{"code", "method"}),
		Cycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cuebridge",
			Name:      "cycle_seconds",
			Help:      "Work time of one polling cycle, sleep excluded.",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .5, 1},
		}),
		LoopRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cuebridge",
			Name:      "loop_rate",
			Help:      "Measured polling cycles per second.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cuebridge",
			Name:      "connected",
			Help:      "1 while the presentation server is reachable.",
		}),
	}

	reg.MustRegister(
		s.Events, s.Dispatch, s.WWW, s.Cycle, s.LoopRate, s.Connected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

func (s *StatsInternal) RecEvent(msgType string) {
	s.Events.WithLabelValues(msgType).Inc()
}

func (s *StatsInternal) RecDispatch(outcome string, status int) {
	s.Dispatch.WithLabelValues(outcome, strconv.Itoa(status)).Inc()
}

func (s *StatsInternal) RecCycle(seconds float64) {
	s.Cycle.Observe(seconds)
}

func (s *StatsInternal) RecLoopRate(rate int64) {
	s.LoopRate.Set(float64(rate))
}

func (s *StatsInternal) RecConnected(ok bool) {
	if ok {
		s.Connected.Set(1)
		return
	}
	s.Connected.Set(0)
}

func (s *StatsInternal) RecWWW(code, method string) {
	s.WWW.WithLabelValues(code, method).Inc()
}

// Handler serves this registry only
func (s *StatsInternal) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{Registry: s.Registry})
}
