// Copyright 2024 The FleetFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package master

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics is the master's ambient observability surface. None of it is
// visible on the wire; it exists purely for operators. Each Server owns
// its own prometheus.Registry rather than registering into the global
// default registerer, so more than one Server can exist in the same
// process (as the test suite does) without a duplicate-collector panic.
type metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	lockContention prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetfs",
			Subsystem: "master",
			Name:      "requests_total",
			Help:      "Requests handled by the master, by message type.",
		}, []string{"type"}),
		lockContention: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetfs",
			Subsystem: "master",
			Name:      "lock_contention_total",
			Help:      "LOCK_REQUEST calls answered \"locked\" because another client held the lock.",
		}),
	}
}

// ServeMetrics starts a plain net/http server exposing this Server's own
// metrics at /metrics on addr. It is a separate listener from the
// master's data plane TCP port, which carries no HTTP traffic.
func (s *Server) ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
