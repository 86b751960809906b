/*
	Travelog
	Copyright (c) 2019 the Travelog authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package travel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics, registered on the default registry; the serve
// command exposes them over /metrics.
var (
	metricSamplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "travelog",
		Name:      "samples_ingested_total",
		Help:      "Location samples accepted into the repository.",
	})

	metricPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "travelog",
		Name:      "passes_total",
		Help:      "Processing passes by final status.",
	}, []string{"status"})

	metricPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "travelog",
		Name:      "pass_duration_seconds",
		Help:      "Wall time of completed processing passes.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	metricActivePasses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "travelog",
		Name:      "active_passes",
		Help:      "Processing passes currently running.",
	})

	metricVisitsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "travelog",
		Name:      "visits_detected_total",
		Help:      "Place visits produced by processing passes.",
	})

	metricRoutesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "travelog",
		Name:      "routes_detected_total",
		Help:      "Route segments produced by processing passes.",
	})

	metricGeocodeLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "travelog",
		Name:      "geocode_lookups_total",
		Help:      "Reverse geocode lookups by outcome.",
	}, []string{"outcome"})
)
