package apihttp

import "context"

// outcome carries facts a handler learns about its own request back out to
// Observe, which only sees the response status otherwise.
type outcome struct {
	cached  *bool
	message string
}

type outcomeKey struct{}

func withOutcome(ctx context.Context) (context.Context, *outcome) {
	oc := &outcome{}
	return context.WithValue(ctx, outcomeKey{}, oc), oc
}

func outcomeFrom(ctx context.Context) *outcome {
	oc, _ := ctx.Value(outcomeKey{}).(*outcome)
	return oc
}

// noteCached records whether the request was served from cache.
func noteCached(ctx context.Context, hit bool) {
	if oc := outcomeFrom(ctx); oc != nil {
		oc.cached = &hit
	}
}

func noteError(ctx context.Context, msg string) {
	if oc := outcomeFrom(ctx); oc != nil {
		oc.message = msg
	}
}
