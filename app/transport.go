package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var outboundRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "pushpanel_outbound_request_duration_seconds",
	Help:    "Duration of outbound HTTP requests by host and status code.",
	Buckets: prometheus.DefBuckets,
}, []string{"host", "code"})

func NewTransport(lc fx.Lifecycle, log *zap.Logger) http.RoundTripper {
	return &transport{http.DefaultTransport, log}
}

// transport logs and times every outbound call. Query strings and headers are never logged.
type transport struct {
	base http.RoundTripper
	log  *zap.Logger
}

func (tpt *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	res, err := tpt.base.RoundTrip(req)
	elapsed := time.Since(start)

	code := "error"
	if err == nil {
		code = strconv.Itoa(res.StatusCode)
	}
	outboundRequestDuration.WithLabelValues(req.URL.Host, code).Observe(elapsed.Seconds())

	fields := []any{
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
		"status", code,
		"elapsed_msecs", elapsed.Milliseconds(),
	}
	if err != nil {
		tpt.log.Sugar().Warnw("Outbound request failed", append(fields, "err", err)...)
	} else {
		tpt.log.Sugar().Debugw("Outbound request", fields...)
	}
	return res, err
}
