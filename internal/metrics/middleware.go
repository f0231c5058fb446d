package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-api/internal/httpmw"
)

// unmatchedRoute labels requests no chi route claimed, so scanners probing
// random paths cannot blow up label cardinality
const unmatchedRoute = "unmatched"

// Middleware measures inflight, total, duration, and size (safe labels).
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// chi reuses a route context it finds on the request, which lets us
		// read the matched pattern after the router returns
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.inflight.Inc()
		defer m.inflight.Dec()

		sw := httpmw.NewStatusRecorder(w)
		next.ServeHTTP(sw, r)

		status := sw.Status()
		if status == 0 {
			status = http.StatusOK
		}

		ctx := r.Context()
		method := r.Method
		route := unmatchedRoute
		if rc := chi.RouteContext(ctx); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}

		m.reqTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		if status >= http.StatusInternalServerError {
			m.errorsTotal.WithLabelValues(method, route).Inc()
		}

		lat := time.Since(start).Seconds()
		obs := m.reqDur.WithLabelValues(method, route)
		if ex := traceExemplar(ctx); ex != nil {
			if eo, ok := obs.(prometheus.ExemplarObserver); ok {
				eo.ObserveWithExemplar(lat, ex)
			} else {
				obs.Observe(lat)
			}
		} else {
			obs.Observe(lat)
		}

		m.respBytes.WithLabelValues(method, route).Observe(float64(sw.Bytes()))
	})
}

// if a sampled trace is present attach its trace_id as an exemplar
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
