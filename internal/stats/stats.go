package stats

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geta"

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	RegisterCounter(name string)
	Run()
}

// StatsUpdater applies metric updates on a single goroutine so callers on
// hot paths only pay for a channel send.
type StatsUpdater struct {
	registry   *prometheus.Registry
	gauges     map[string]prometheus.Gauge
	counters   map[string]prometheus.Counter
	http       *httpMetrics
	updateChan chan *metricsUpdateReq
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

type metricsUpdateReq struct {
	name  string
	value float64
}

// NewStatsUpdater creates a stats updater backed by its own Prometheus
// registry and mounts the exposition endpoint on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	su := &StatsUpdater{
		registry:   reg,
		gauges:     make(map[string]prometheus.Gauge),
		counters:   make(map[string]prometheus.Counter),
		http:       newHTTPMetrics(reg),
		updateChan: make(chan *metricsUpdateReq, 512),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	mux.Handle("GET /metrics", su.Handler())

	return su
}

func (su *StatsUpdater) Handler() http.Handler {
	return promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{Registry: su.registry})
}

func (su *StatsUpdater) Registry() *prometheus.Registry {
	return su.registry
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)

	for {
		select {
		case req := <-su.updateChan:
			su.apply(req)
		case <-su.quit:
			for {
				select {
				case req := <-su.updateChan:
					su.apply(req)
				default:
					return
				}
			}
		}
	}
}

func (su *StatsUpdater) apply(req *metricsUpdateReq) {
	if g, ok := su.gauges[req.name]; ok {
		g.Add(req.value)
		return
	}

	c, ok := su.counters[req.name]
	if !ok {
		panic("metric not found: " + req.name)
	}
	if req.value > 0 {
		c.Add(req.value)
	}
}

// Incr and Decr are no-ops once Stop has been called.
func (su *StatsUpdater) Incr(name string) {
	su.update(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.update(name, -1)
}

func (su *StatsUpdater) update(name string, value float64) {
	select {
	case <-su.quit:
		return
	default:
	}

	select {
	case su.updateChan <- &metricsUpdateReq{name: name, value: value}:
	case <-su.quit:
	}
}

// RegisterMetric registers a gauge. It must be called before Run.
func (su *StatsUpdater) RegisterMetric(name string) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      "Current value of " + name,
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

// RegisterCounter registers a monotonic counter. It must be called before Run.
func (su *StatsUpdater) RegisterCounter(name string) {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name + "_total",
		Help:      "Total number of " + name,
	})
	su.registry.MustRegister(c)
	su.counters[name] = c
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop applies pending updates and stops the update goroutine. It is safe
// to call more than once.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.quit)
	})
	<-su.done
}
