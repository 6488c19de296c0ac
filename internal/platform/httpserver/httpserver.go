package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dreamware/ledgermesh/internal/platform/httputil"
)

// New builds an HTTP server with the project's defaults.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// NewRouter returns a chi router whose handlers run on a bounded inbound pool
// of size inbound. Requests beyond the pool wait for a slot up to
// backlogTimeout and then receive 429.
func NewRouter(log *zap.Logger, inbound int, backlogTimeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(middleware.ThrottleBacklog(inbound, inbound*4, backlogTimeout))
	r.MethodNotAllowed(httputil.MethodNotAllowed)
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Drainer releases a resource once inbound traffic has stopped.
type Drainer func(ctx context.Context) error

// Run serves srv until ctx is canceled, then shuts down in order: inbound
// first, then each drainer, each stage bounded by grace. The drainers also
// run when the listener fails to start.
func Run(ctx context.Context, srv *http.Server, log *zap.Logger, grace time.Duration, drains ...Drainer) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		log.Error("listener failed", zap.String("addr", srv.Addr), zap.Error(err))
		return errors.Join(fmt.Errorf("listen %s: %w", srv.Addr, err), runDrains(log, grace, drains))
	case <-ctx.Done():
	}

	log.Info("shutting down inbound", zap.Duration("grace", grace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	err := srv.Shutdown(shutdownCtx)
	cancel()
	if err != nil {
		log.Warn("inbound drain incomplete", zap.Error(err))
	}

	err = errors.Join(err, runDrains(log, grace, drains))
	log.Info("stopped")
	return err
}

func runDrains(log *zap.Logger, grace time.Duration, drains []Drainer) error {
	var err error
	for _, drain := range drains {
		drainCtx, cancel := context.WithTimeout(context.Background(), grace)
		if derr := drain(drainCtx); derr != nil {
			log.Warn("drain incomplete", zap.Error(derr))
			err = errors.Join(err, derr)
		}
		cancel()
	}
	return err
}
