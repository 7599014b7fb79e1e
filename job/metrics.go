// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package job

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the runtime counters.
// A nil *Metrics is valid and counts nothing.
type Metrics struct {
	Units        *prometheus.CounterVec
	InitFailures prometheus.Counter
	Frames       *prometheus.CounterVec
	FrameBytes   prometheus.Counter
}

// NewMetrics creates the runtime counters
// and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distexec",
			Name:      "units_total",
			Help:      "Run-list units completed, by outcome.",
		}, []string{"outcome"}),
		InitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distexec",
			Name:      "task_init_failures_total",
			Help:      "Tasks whose operators failed to initialize.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distexec",
			Name:      "frames_sent_total",
			Help:      "Frames handed to the transport, by kind.",
		}, []string{"kind"}),
		FrameBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distexec",
			Name:      "frame_bytes_sent_total",
			Help:      "Encoded frame bytes handed to the transport.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Units, m.InitFailures, m.Frames, m.FrameBytes)
	}
	return m
}

func (m *Metrics) unit(st *Status) {
	if m == nil {
		return
	}
	outcome := "ok"
	if st != nil {
		outcome = "failed"
	}
	m.Units.WithLabelValues(outcome).Inc()
}

func (m *Metrics) initFailure() {
	if m == nil {
		return
	}
	m.InitFailures.Inc()
}

func (m *Metrics) frame(kind frameKind, size int) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(kind.String()).Inc()
	m.FrameBytes.Add(float64(size))
}
