package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

// ShutdownTimeout caps how long stop waits for in-flight requests.
const ShutdownTimeout = 5 * time.Second

// Serve binds srv.Addr synchronously, so a port conflict is returned to the
// caller, then serves in the background. name tags the log lines.
// The returned stop is idempotent.
func Serve(ctx context.Context, L log.Logger, name string, srv *http.Server) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "%s listen on %s", name, srv.Addr)
	}

	go func() {
		L.Info(ctx, "http server listening", "server", name, "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error", "server", name)
		}
	}()

	var (
		once    sync.Once
		stopErr error
	)
	stop := func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "http server shutting down", "server", name)
			c, cancel := context.WithTimeout(sctx, ShutdownTimeout)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}
	return stop, nil
}
