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

package writequeue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Parts of Prometheus metric names.
const (
	namespace = "corral"
	subsystem = "writequeue"
)

// Describe implements prometheus.Collector.
func (q *Queue) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(q, ch)
}

// Collect implements prometheus.Collector.
func (q *Queue) Collect(ch chan<- prometheus.Metric) {
	m := q.Metrics()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "size"),
			"The current number of queued operations.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(m.QueueSize),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "capacity"),
			"The maximum number of queued plus processing operations.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(m.Capacity),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "processing"),
			"1 if an operation is currently being applied, 0 otherwise.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(m.ProcessingCount),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "processed_total"),
			"The total number of applied operations.",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(m.TotalProcessed),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "errors_total"),
			"The total number of failed operations.",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(m.TotalErrors),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "wait_seconds_total"),
			"The total time operations spent queued before being applied.",
			nil, nil,
		),
		prometheus.CounterValue,
		time.Duration(q.waitNanos.Load()).Seconds(),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "process_seconds_total"),
			"The total time spent applying operations.",
			nil, nil,
		),
		prometheus.CounterValue,
		time.Duration(q.processNanos.Load()).Seconds(),
	)
}

// check interfaces
var (
	_ prometheus.Collector = (*Queue)(nil)
)
