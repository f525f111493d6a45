package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
)

// InitSentry initializes the Sentry client and returns a flush function. With an empty DSN it
// does nothing and reports false.
func InitSentry(cfg config.SentryConfig, debug bool, logger *zap.Logger) (flush func(), enabled bool) {
	if cfg.DSN == "" {
		return func() {}, false
	}
	rate := cfg.TracesSampleRate
	if rate == 0 {
		rate = 1.0
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: rate,
		Debug:            debug,
		ServerName:       "shiori",
		TracesSampler: sentry.TracesSampler(func(ctx sentry.SamplingContext) float64 {
			if ctx.Span.Name == "GET /api/v1/health" {
				return 0.0
			}
			return rate
		}),
	})
	if err != nil {
		if logger != nil {
			logger.Warn("sentry init failed, continuing without it", zap.Error(err))
		}
		return func() {}, false
	}
	return func() { sentry.Flush(5 * time.Second) }, true
}

// sentryMiddleware runs each request in its own transaction and hub, reports panics, and
// records 5xx responses.
func sentryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
		}
		options := []sentry.SpanOption{
			sentry.WithOpName("http.server"),
			sentry.WithTransactionSource(sentry.SourceURL),
		}
		if trace := r.Header.Get("sentry-trace"); trace != "" {
			options = append(options, sentry.ContinueFromHeaders(trace, r.Header.Get("baggage")))
		}
		tx := sentry.StartTransaction(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path), options...)
		defer tx.Finish()

		ctx := sentry.SetHubOnContext(tx.Context(), hub)
		r = r.WithContext(ctx)
		hub.Scope().SetTag("user", r.Header.Get(UserHeader))

		defer func() {
			if err := recover(); err != nil {
				tx.Status = sentry.SpanStatusInternalError
				hub.RecoverWithContext(ctx, err)
				panic(err)
			}
		}()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		tx.Status = spanStatus(status)
		tx.SetData("http.response.status_code", status)
		if status >= 500 {
			hub.CaptureMessage(fmt.Sprintf("HTTP %d: %s %s", status, r.Method, r.URL.Path))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func spanStatus(code int) sentry.SpanStatus {
	switch {
	case code < 400:
		return sentry.SpanStatusOK
	case code == http.StatusNotFound:
		return sentry.SpanStatusNotFound
	case code == http.StatusServiceUnavailable:
		return sentry.SpanStatusUnavailable
	case code < 500:
		return sentry.SpanStatusInvalidArgument
	default:
		return sentry.SpanStatusInternalError
	}
}
