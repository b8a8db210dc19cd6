/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Resolve results
const (
	ResultHit               = "hit"
	ResultLoaded            = "loaded"
	ResultNotFound          = "not_found"
	ResultParseError        = "parse_error"
	ResultCanonicalizeError = "canonicalize_error"
)

// Release scopes
const (
	ScopeRealm = "realm"
	ScopeAll   = "all"
)

var (
	// Resolution metrics
	resolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modport_resolve_total",
		Help: "Total number of module resolutions by result",
	}, []string{"result"})

	parseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "modport_parse_duration_seconds",
		Help:    "Duration of module parse operations",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
	})

	// Registry metrics
	registryRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modport_registry_records",
		Help: "Number of module records currently held across all registries",
	})

	recordsReleasedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modport_records_released_total",
		Help: "Total number of module records released by scope",
	}, []string{"scope"})
)

func init() {
	prometheus.MustRegister(
		resolveTotal,
		parseDuration,
		registryRecords,
		recordsReleasedTotal,
	)
}

// RecordResolve records the outcome of one resolution
// result: one of the Result* constants
func RecordResolve(result string) {
	resolveTotal.WithLabelValues(result).Inc()
}

// RecordParse records the duration of one engine parse
func RecordParse(durationSeconds float64) {
	parseDuration.Observe(durationSeconds)
}

// RecordInsert records a record added to a registry
func RecordInsert() {
	registryRecords.Inc()
}

// RecordRelease records n records released under scope
// scope: "realm" or "all"
func RecordRelease(scope string, n int) {
	if n == 0 {
		return
	}
	registryRecords.Sub(float64(n))
	recordsReleasedTotal.WithLabelValues(scope).Add(float64(n))
}
