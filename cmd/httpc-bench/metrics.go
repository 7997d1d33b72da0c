package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nczempin/httpc-go-pipe/protocol"
)

type benchMetrics struct {
	cycles    *prometheus.CounterVec
	duration  prometheus.Histogram
	bodyBytes prometheus.Counter
}

func newBenchMetrics(reg prometheus.Registerer) *benchMetrics {
	m := &benchMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "httpc",
			Name:      "cycles_total",
			Help:      "Request/response cycles by final state and status code.",
		}, []string{"state", "status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "httpc",
			Name:      "cycle_duration_seconds",
			Help:      "Time from sending a request until its response reached a terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		bodyBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "httpc",
			Name:      "body_bytes_total",
			Help:      "Response body bytes received by completed cycles.",
		}),
	}
	reg.MustRegister(m.cycles, m.duration, m.bodyBytes)
	return m
}

func (m *benchMetrics) observe(rc *protocol.ResponseContext, d time.Duration) {
	m.cycles.WithLabelValues(rc.State.String(), strconv.Itoa(rc.StatusCode)).Inc()
	m.duration.Observe(d.Seconds())
	if rc.State == protocol.StateCompleted {
		m.bodyBytes.Add(float64(rc.ContentLength))
	}
}

// serveMetrics exposes reg on addr until ctx is done
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
}
