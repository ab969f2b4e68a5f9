// Package metrics exposes Hawk authentication outcomes as Prometheus
// collectors.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitalvas/hawk/hawk"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Collectors records authentication attempts. It implements hawk.Observer.
type Collectors struct {
	Authentications *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
}

// New creates unregistered collectors.
func New() *Collectors {
	return &Collectors{
		Authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hawk",
			Name:      "authentications_total",
			Help:      "Hawk authentication attempts by mode and result.",
		}, []string{"mode", "result"}),

		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hawk",
			Name:      "authentication_duration_seconds",
			Help:      "Time spent authenticating a request.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"mode"}),
	}
}

// Register registers the collectors on reg, or on the default registerer when
// reg is nil. When an equal collector is already registered, c adopts it so
// observations reach the registered instance.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	authentications, err := register(reg, c.Authentications)
	if err != nil {
		return err
	}

	duration, err := register(reg, c.Duration)
	if err != nil {
		return err
	}

	c.Authentications = authentications
	c.Duration = duration

	return nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return collector, err
	}

	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return collector, fmt.Errorf("metrics: existing collector has type %T", are.ExistingCollector)
	}

	return existing, nil
}

// ObserveAuthentication implements hawk.Observer. Failures are labelled with
// the error kind, e.g. "bad" or "authentication".
func (c *Collectors) ObserveAuthentication(mode hawk.Mode, err error, elapsed time.Duration) {
	c.Authentications.WithLabelValues(string(mode), result(err)).Inc()
	c.Duration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
}

func result(err error) string {
	if err == nil {
		return ResultSuccess
	}

	if kind := hawk.KindOf(err); kind != 0 {
		return kind.String()
	}

	return ResultError
}
