// Copyright (c) 2025 The Firma-Sign Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package metrics holds the service's prometheus instruments. Counters are
// registered once at package load and shared by every subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TransfersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firmasign_transfers_created_total",
		Help: "Number of transfers created.",
	})

	TransfersCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firmasign_transfers_completed_total",
		Help: "Number of transfers that reached the completed state.",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firmasign_messages_sent_total",
		Help: "Number of peer messages sent.",
	})

	TransportSendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firmasign_transport_send_failures_total",
		Help: "Number of failed transport send attempts.",
	}, []string{"transport"})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firmasign_websocket_clients",
		Help: "Number of currently connected WebSocket clients.",
	})
)

// Handler returns the HTTP handler that serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
