// Package metrics exposes the broker's Prometheus series, adapted from the
// teacher's metrics.go: the same prometheus.MustRegister-in-init() idiom,
// narrowed to the series a pub/sub broker actually produces (WebSocket
// connection/broadcast metrics replaced with publication/fanout/backlog
// ones).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SubscribersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_subscribers_active",
		Help: "Current number of ACTIVE subscriber records",
	})

	SubscribersDead = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_subscribers_dead",
		Help: "Current number of DEAD subscriber records (retained for backlog)",
	})

	PublicationsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_publications_received_total",
		Help: "Total datagrams successfully decoded into publications",
	})

	PublicationsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publications_dropped_total",
		Help: "Total datagrams dropped, by reason",
	}, []string{"reason"})

	FanoutSends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_fanout_sends_total",
		Help: "Total live frame sends to ACTIVE subscribers",
	})

	FanoutSendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_fanout_send_failures_total",
		Help: "Total failed frame sends during fanout",
	})

	BacklogEnqueues = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_backlog_enqueues_total",
		Help: "Total publications appended to a DEAD subscriber's backlog",
	})

	BacklogDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_backlog_depth_total",
		Help: "Sum of backlog lengths across all subscriber records",
	})

	RateLimitedDatagrams = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_rate_limited_datagrams_total",
		Help: "Total datagrams dropped by the ingestion rate limiter",
	})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_cpu_usage_percent",
		Help: "Sampled CPU usage percentage",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_memory_usage_bytes",
		Help: "Sampled resident memory usage in bytes",
	})
)

func init() {
	prometheus.MustRegister(
		SubscribersActive,
		SubscribersDead,
		PublicationsReceived,
		PublicationsDropped,
		FanoutSends,
		FanoutSendFailures,
		BacklogEnqueues,
		BacklogDepth,
		RateLimitedDatagrams,
		CPUUsagePercent,
		MemoryUsageBytes,
	)
}

// Serve starts the background Prometheus HTTP endpoint. It runs on its own
// listener, independent of the broker's own UDP/TCP ports, and returns
// once ctx is cancelled or the server fails to start.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics endpoint stopped")
	}
}
