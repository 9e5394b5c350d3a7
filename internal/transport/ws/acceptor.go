package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/uno/internal/config"
	"github.com/cory-johannsen/uno/internal/observability"
)

// Worker serves one upgraded connection until the peer leaves, the
// connection fails, or ctx is cancelled.
type Worker interface {
	Serve(ctx context.Context, conn *Conn) error
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, conn *Conn) error

// Serve calls f.
func (f WorkerFunc) Serve(ctx context.Context, conn *Conn) error { return f(ctx, conn) }

// Acceptor listens for HTTP connections, upgrades those on the websocket
// path, and runs a Worker per connection. Other routes registered with
// Handle share the listener.
type Acceptor struct {
	cfg      config.WebSocketConfig
	resolver HandshakeResolver
	worker   Worker
	logger   *zap.Logger

	mux        *http.ServeMux
	middleware []func(http.Handler) http.Handler
	mountOnce  sync.Once

	workerCtx     context.Context
	cancelWorkers context.CancelFunc

	srv      *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewAcceptor creates a websocket acceptor with the given configuration.
//
// Precondition: resolver, worker, and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.WebSocketConfig, resolver HandshakeResolver, worker Worker, logger *zap.Logger) *Acceptor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{
		cfg:           cfg,
		resolver:      resolver,
		worker:        worker,
		logger:        logger,
		mux:           http.NewServeMux(),
		workerCtx:     ctx,
		cancelWorkers: cancel,
	}
}

// Handle registers an additional route on the acceptor's listener.
//
// Precondition: called before ListenAndServe.
func (a *Acceptor) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Use wraps the whole handler chain, websocket route included. The first
// middleware added is the outermost.
//
// Precondition: called before ListenAndServe.
func (a *Acceptor) Use(mw func(http.Handler) http.Handler) {
	a.middleware = append(a.middleware, mw)
}

// Options returns the per-connection options derived from the configuration.
func (a *Acceptor) Options() Options {
	return Options{
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		CloseTimeout: a.cfg.CloseTimeout,
		ReadLimit:    a.cfg.ReadLimit,
	}
}

// Handler returns the full HTTP handler: every registered route plus the
// websocket route, wrapped in the registered middleware.
func (a *Acceptor) Handler() http.Handler {
	a.mountOnce.Do(func() {
		a.mux.Handle("GET "+a.cfg.Path, http.HandlerFunc(a.serveWS))
	})
	var h http.Handler = a.mux
	for i := len(a.middleware) - 1; i >= 0; i-- {
		h = a.middleware[i](h)
	}
	return h
}

// ListenAndServe binds the configured address and serves until Stop is called.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          observability.StdErrorLog(a.logger, "websocket"),
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		listener.Close()
		return nil
	}
	a.listener = listener
	a.srv = srv
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
	}
	return nil
}

// serveWS upgrades one request and runs the worker on it.
func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	start := time.Now()
	addr := r.RemoteAddr

	conn, err := Accept(w, r, a.resolver, a.Options())
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			a.logger.Info("handshake rejected",
				zap.String("remote_addr", addr),
				zap.Int("status", rej.Status),
				zap.String("reason", rej.Reason),
			)
		} else {
			a.logger.Warn("upgrade failed",
				zap.String("remote_addr", addr),
				zap.Error(err),
			)
		}
		return
	}
	defer conn.Close()

	a.logger.Info("client connected",
		zap.String("remote_addr", addr),
		zap.Stringer("player_id", conn.Route().PlayerID),
		zap.Stringer("session_id", conn.Route().SessionID),
	)

	ctx, cancel := context.WithCancel(a.workerCtx)
	defer cancel()
	// Closing the connection unblocks a worker waiting in Receive.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := a.worker.Serve(ctx, conn); err != nil {
		a.logger.Debug("connection ended",
			zap.String("remote_addr", addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		a.logger.Info("connection ended cleanly",
			zap.String("remote_addr", addr),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Stop stops accepting connections, waits up to the drain timeout for
// workers to finish, then cancels the remaining workers and waits for them.
// The HTTP shutdown and the worker drain share one deadline.
//
// Postcondition: All workers have returned and the listener is closed.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.running = false
	srv := a.srv
	a.mu.Unlock()

	drain := a.cfg.DrainTimeout
	deadline := time.Now().Add(drain)
	if srv != nil {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown incomplete", zap.Error(err))
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		a.logger.Warn("drain timeout reached, cancelling workers", zap.Duration("drain_timeout", drain))
		a.cancelWorkers()
		<-done
	}
	a.cancelWorkers()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
