// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exports the fuzzer counters as gauges on its own registry.
type Prometheus struct {
	reg *prometheus.Registry

	corpus   prometheus.Gauge
	crashers prometheus.Gauge
	timeouts prometheus.Gauge
	restarts prometheus.Gauge
	execs    prometheus.Gauge
	execRate prometheus.Gauge
	cover    prometheus.Gauge
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "xfuzz",
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		reg:      prometheus.NewRegistry(),
		corpus:   newGauge("corpus_size", "Number of inputs in the corpus."),
		crashers: newGauge("crashers", "Number of unique crashers found."),
		timeouts: newGauge("timeouts", "Number of executions that timed out."),
		restarts: newGauge("restarts", "Number of executor worker starts."),
		execs:    newGauge("execs_total", "Number of fuzzing loop executions."),
		execRate: newGauge("execs_per_second", "Average executions per second."),
		cover:    newGauge("cover", "Number of covered points."),
	}
	p.reg.MustRegister(p.corpus, p.crashers, p.timeouts, p.restarts, p.execs, p.execRate, p.cover)
	return p
}

func (p *Prometheus) Report(e Event) {
	s := e.Stats
	p.corpus.Set(float64(s.Corpus))
	p.crashers.Set(float64(s.Crashers))
	p.timeouts.Set(float64(s.Timeouts))
	p.restarts.Set(float64(s.Restarts))
	p.execs.Set(float64(s.Execs))
	p.execRate.Set(s.ExecsPerSec())
	p.cover.Set(float64(s.Cover))
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.reg
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}
