// Copyright 2021 FerretDB Inc.
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

package server

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/drenlia/easy-kanban-sub014/internal/util/must"
)

const (
	namespace = "dbproxy"
	subsystem = "http"
)

// Metrics represents HTTP API metrics.
type Metrics struct {
	InFlight  prometheus.Gauge
	Requests  *prometheus.CounterVec
	Responses *prometheus.CounterVec
	Durations *prometheus.HistogramVec
}

// NewMetrics creates new HTTP API metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "in_flight",
				Help:      "The current number of requests being served.",
			},
		),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of requests.",
			},
			[]string{"route"},
		),
		Responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "responses_total",
				Help:      "Total number of responses.",
			},
			[]string{"route", "status", "result"},
		),
		Durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Request handling duration.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.InFlight.Describe(ch)
	m.Requests.Describe(ch)
	m.Responses.Describe(ch)
	m.Durations.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.InFlight.Collect(ch)
	m.Requests.Collect(ch)
	m.Responses.Collect(ch)
	m.Durations.Collect(ch)
}

// observe records a response.
func (m *Metrics) observe(route string, status int, result string) {
	m.Responses.WithLabelValues(route, strconv.Itoa(status), result).Inc()
}

// GetResponses returns a map with all response metrics:
//
// route (e.g. "query", "transaction") ->
// result (e.g. "FORBIDDEN_OPERATION", "SQLITE_CONSTRAINT"; or "ok") ->
// count.
func (m *Metrics) GetResponses() map[string]map[string]int {
	metrics := make(chan prometheus.Metric)
	go func() {
		m.Responses.Collect(metrics)
		close(metrics)
	}()

	res := map[string]map[string]int{}

	for metric := range metrics {
		var content dto.Metric
		must.NoError(metric.Write(&content))

		var route, result string
		for _, label := range content.GetLabel() {
			switch label.GetName() {
			case "route":
				route = label.GetValue()
			case "result":
				result = label.GetValue()
			case "status":
			default:
				panic(fmt.Sprintf("%s is not a valid label. Allowed: [route, status, result]", label.GetName()))
			}
		}

		if _, ok := res[route]; !ok {
			res[route] = map[string]int{}
		}

		res[route][result] += int(content.GetCounter().GetValue())
	}

	return res
}

// check interfaces
var (
	_ prometheus.Collector = (*Metrics)(nil)
)
