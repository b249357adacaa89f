package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/mpc-custody/api"
	"github.com/ruteri/mpc-custody/common"
	"github.com/ruteri/mpc-custody/metrics"
	"go.uber.org/atomic"
)

// Server hosts the custody API, the admin unlock API and health probes on one
// listener, and the Prometheus exporter on another.
type Server struct {
	cfg      *api.HTTPServerConfig
	log      *slog.Logger
	draining atomic.Bool

	srv        *http.Server
	metricsSrv *metrics.MetricsServer

	admin   *AdminHandler
	wallets atomic.Pointer[chi.Mux]
}

// New creates the server. admin is nil unless the deployment secret is
// unlocked by administrators; the wallet API answers 503 until
// SetWalletHandler is called.
func New(cfg *api.HTTPServerConfig, admin *AdminHandler) (*Server, error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:        cfg,
		log:        cfg.Log,
		metricsSrv: metricsSrv,
		admin:      admin,
	}
	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv, nil
}

// Metrics returns the registry the server exports on its metrics address.
func (srv *Server) Metrics() *metrics.Metrics {
	return srv.metricsSrv.Metrics()
}

// SetWalletHandler enables the wallet API.
func (srv *Server) SetWalletHandler(h *Handler) {
	if srv.cfg.MaxBodyBytes > 0 {
		h.maxBodySize = srv.cfg.MaxBodyBytes
	}
	mux := chi.NewRouter()
	h.Routes(mux)
	srv.wallets.Store(mux)
	srv.log.Info("Wallet API enabled")
}

// WaitForUnlock blocks until administrators submitted enough shares.
func (srv *Server) WaitForUnlock(ctx context.Context) error {
	if srv.admin == nil {
		return errors.New("admin API not configured")
	}
	_, err := srv.admin.WaitForUnlock(ctx)
	return err
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Group(func(r chi.Router) {
		r.Use(srv.httpLogger)
		r.HandleFunc("/api/*", srv.handleWalletAPI)
		if srv.admin != nil {
			r.Mount("/admin", srv.admin.AdminRouter())
		}
		r.Get("/livez", srv.handleLivenessCheck)
		r.Get("/readyz", srv.handleReadinessCheck)
		r.Get("/drain", srv.handleDrain)
		r.Get("/undrain", srv.handleUndrain)
	})

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) handleWalletAPI(w http.ResponseWriter, r *http.Request) {
	wallets := srv.wallets.Load()
	if wallets == nil {
		writeJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Error: "custody is locked", Kind: "unavailable"})
		return
	}
	// The wallet router matches on the full path with its own route context.
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, nil))
	wallets.ServeHTTP(w, r)
}

type healthStatus struct {
	Status string `json:"status"`
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "alive"})
}

// readiness requires both an unlocked wallet API and no drain in progress.
func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	switch {
	case srv.draining.Load():
		writeJSON(w, http.StatusServiceUnavailable, healthStatus{Status: "draining"})
	case srv.wallets.Load() == nil:
		writeJSON(w, http.StatusServiceUnavailable, healthStatus{Status: "locked"})
	default:
		writeJSON(w, http.StatusOK, healthStatus{Status: "ready"})
	}
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if srv.draining.Swap(true) {
		writeJSON(w, http.StatusOK, healthStatus{Status: "already draining"})
		return
	}
	srv.log.Info("Server marked as not ready", slog.Duration("drainDuration", srv.cfg.DrainDuration))
	writeJSON(w, http.StatusOK, healthStatus{Status: "draining"})
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if !srv.draining.Swap(false) {
		writeJSON(w, http.StatusOK, healthStatus{Status: "already ready"})
		return
	}
	srv.log.Info("Server marked as ready")
	writeJSON(w, http.StatusOK, healthStatus{Status: "ready"})
}

// RunInBackground starts the API listener and, when configured, the metrics
// listener.
func (srv *Server) RunInBackground() {
	if srv.cfg.MetricsAddr != "" {
		go srv.serve("metrics", srv.cfg.MetricsAddr, srv.metricsSrv.ListenAndServe)
	}
	go srv.serve("api", srv.cfg.ListenAddr, srv.srv.ListenAndServe)
}

func (srv *Server) serve(name, addr string, listen func() error) {
	srv.log.Info("Starting HTTP server", slog.String("server", name), slog.String("listenAddress", addr))
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		srv.log.Error("HTTP server failed", slog.String("server", name), "err", err)
	}
}

// Shutdown fails readiness, waits the drain period so load balancers stop
// routing here, then stops both listeners.
func (srv *Server) Shutdown() {
	if !srv.draining.Swap(true) && srv.cfg.DrainDuration > 0 {
		srv.log.Info("Draining before shutdown", slog.Duration("drainDuration", srv.cfg.DrainDuration))
		time.Sleep(srv.cfg.DrainDuration)
	}

	srv.shutdown("api", srv.srv.Shutdown)
	if srv.cfg.MetricsAddr != "" {
		srv.shutdown("metrics", srv.metricsSrv.Shutdown)
	}
}

func (srv *Server) shutdown(name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := stop(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", slog.String("server", name), "err", err)
		return
	}
	srv.log.Info("HTTP server gracefully stopped", slog.String("server", name))
}
