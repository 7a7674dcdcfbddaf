package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("observability.metrics",
	fx.Provide(func() *prometheus.Registry {
		reg := prometheus.NewRegistry()
		return reg
	}),
	fx.Provide(func(reg *prometheus.Registry) *Metrics { return New(reg) }),
)
