package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPort = 2112

// Config contains configuration of the telemetry endpoint.
type Config struct {
	Port int `yaml:"port"`
}

// Measurements collects measurements for prometheus.
type Measurements struct {
	mux        sync.RWMutex
	factory    promauto.Factory
	histograms map[string]prometheus.Observer
	gauge      map[string]prometheus.Gauge
}

// NewMeasurements creates Measurements registering collectors in the given registerer.
func NewMeasurements(reg prometheus.Registerer) *Measurements {
	return &Measurements{
		factory:    promauto.With(reg),
		histograms: make(map[string]prometheus.Observer),
		gauge:      make(map[string]prometheus.Gauge),
	}
}

// CreateUpdateObservableHistogtram creates observable histogram if not yet created.
func (m *Measurements) CreateUpdateObservableHistogtram(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.histograms[name]; ok {
		return
	}
	m.histograms[name] = m.factory.NewHistogram(prometheus.HistogramOpts{
		Name: name,
		Help: description,
	})
}

// RecordHistogramTime records histogram time in microseconds if entity with given name exists.
func (m *Measurements) RecordHistogramTime(name string, t time.Duration) bool {
	return m.RecordHistogramValue(name, float64(t.Microseconds()))
}

// RecordHistogramValue records histogram value if entity with given name exists.
func (m *Measurements) RecordHistogramValue(name string, f float64) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.histograms[name]; ok {
		v.Observe(f)
		return true
	}
	return false
}

// CreateUpdateObservableGauge creates observable gauge if not yet created.
func (m *Measurements) CreateUpdateObservableGauge(name, description string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.gauge[name]; ok {
		return
	}
	m.gauge[name] = m.factory.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: description,
	})
}

// AddToGauge adds to gauge the value if entity with given name exists.
func (m *Measurements) AddToGauge(name string, f float64) bool {
	return m.withGauge(name, func(g prometheus.Gauge) { g.Add(f) })
}

// IncrementGauge increments gauge the value if entity with given name exists.
func (m *Measurements) IncrementGauge(name string) bool {
	return m.withGauge(name, func(g prometheus.Gauge) { g.Inc() })
}

// SetGauge sets the gauge to the value if entity with given name exists.
func (m *Measurements) SetGauge(name string, f float64) bool {
	return m.withGauge(name, func(g prometheus.Gauge) { g.Set(f) })
}

func (m *Measurements) withGauge(name string, f func(prometheus.Gauge)) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if v, ok := m.gauge[name]; ok {
		f(v)
		return true
	}
	return false
}

// Run starts the server with prometheus telemetry endpoint.
// Returns Measurements structure if successfully started or cancels context otherwise.
// Default port of 2112 is used if port value is set to 0.
func Run(ctx context.Context, cancel context.CancelFunc, cfg Config) (*Measurements, error) {
	port := cfg.Port
	if port > 65535 || port < 0 {
		return nil, fmt.Errorf("port range allowed is from 1 to 65535, received %d", port)
	}
	if port == 0 {
		port = defaultPort
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cancel()
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), time.Second*5)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	return NewMeasurements(prometheus.DefaultRegisterer), nil
}
