package httpmw

import "net/http"

// DefaultMaxBody is the request body ceiling for the JSON API.
const DefaultMaxBody int64 = 1 << 20

// MaxBody caps request bodies at n bytes. Reading past the cap fails with
// *http.MaxBytesError, which handlers turn into a 413.
func MaxBody(n int64) func(http.Handler) http.Handler {
	if n <= 0 {
		n = DefaultMaxBody
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				// declared too big, no point reading it
				writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
