package apihttp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-api/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-api/internal/monitoring"
)

// Recorder receives one record per completed request. *monitoring.Aggregator
// satisfies it.
type Recorder interface {
	RecordRequest(ctx context.Context, r monitoring.RequestRecord)
	RecordError(ctx context.Context, r monitoring.ErrorRecord)
}

// Observe feeds every completed request to rec, and every response >= 400 to
// its error buffer as well. Probe paths under /-/ are not recorded.
func Observe(rec Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rec == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/-/") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ctx, oc := withOutcome(r.Context())
			sw := httpmw.NewStatusRecorder(w)

			// recorded on the way out, panics included; Recover further out
			// turns those into a 500
			defer func() {
				p := recover()
				status := sw.Status()
				if p != nil {
					status = http.StatusInternalServerError
				} else if status == 0 {
					status = http.StatusOK
				}
				record(ctx, rec, r, oc, status, float64(time.Since(start).Microseconds())/1000)
				if p != nil {
					panic(p)
				}
			}()

			next.ServeHTTP(sw, r.WithContext(ctx))
		})
	}
}

func record(ctx context.Context, rec Recorder, r *http.Request, oc *outcome, status int, elapsedMs float64) {
	rec.RecordRequest(ctx, monitoring.RequestRecord{
		Endpoint:       r.URL.Path,
		Method:         r.Method,
		StatusCode:     status,
		ResponseTimeMs: elapsedMs,
		Cached:         oc.cached,
	})

	if status < http.StatusBadRequest {
		return
	}
	msg := oc.message
	if msg == "" {
		msg = http.StatusText(status)
	}
	rec.RecordError(ctx, monitoring.ErrorRecord{
		Endpoint:   r.URL.Path,
		Method:     r.Method,
		StatusCode: status,
		Message:    msg,
	})
}
