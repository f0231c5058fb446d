package httpmw

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

// Recover turns a handler panic into a logged error and a 500 envelope.
// onPanic, when set, is called once per recovered panic (metrics).
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
func Recover(base log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if base == nil {
		base = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := NewStatusRecorder(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				var err error
				if e, ok := v.(error); ok {
					err = xerrors.Wrap(e, "panic")
				} else {
					err = xerrors.Newf("panic: %v", v)
				}
				if onPanic != nil {
					onPanic()
				}

				base.Error(r.Context(), err, "httpserver panic recovered",
					"request_id", RequestIDFromContext(r.Context()),
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"panic_stack", string(debug.Stack()),
				)

				// headers already sent, the client gets a truncated response
				if rec.Status() != 0 {
					return
				}
				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
