package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vitalvas/hawk/config"
	"github.com/vitalvas/hawk/hawk"
	"github.com/vitalvas/hawk/internal/httpmw"
	"github.com/vitalvas/hawk/metrics"
	"github.com/vitalvas/hawk/noncecache"
)

const maxEchoBody = 1 << 20

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	nonces  noncecache.Cache
	server  *hawk.Server
	handler http.Handler
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	skew := cfg.Server.TimestampSkew.Std()

	store, err := cfg.CredentialStore()
	if err != nil {
		return nil, fmt.Errorf("building credential store: %w", err)
	}

	if len(store) == 0 {
		logger.Warn("no credentials configured, every protected request will be rejected")
	}

	nonces, err := cfg.NonceCache.Open(ctx, hawk.NonceTTL(skew))
	if err != nil {
		return nil, fmt.Errorf("opening nonce cache: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	observer := metrics.New()
	if err := observer.Register(registry); err != nil {
		nonces.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		nonces: nonces,
		server: hawk.NewServer(hawk.ServerConfig{
			TimestampSkew: skew,
			NTPServer:     cfg.Server.NTPServer,
			NonceCache:    nonces,
			Logger:        logger.Named("hawk"),
			Observer:      observer,
		}),
	}

	auth, err := hawk.Middleware(hawk.MiddlewareConfig{
		Server:             a.server,
		Resolver:           store.Resolve,
		AllowBewit:         cfg.Server.AllowBewit,
		RequirePayloadHash: cfg.Server.RequirePayloadHash,
		MaxBodyBytes:       maxEchoBody,
		OnError:            a.writeAuthError,
	})
	if err != nil {
		nonces.Close()
		return nil, err
	}

	proxy, err := httpmw.ProxyHeaders(nil)
	if err != nil {
		nonces.Close()
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(httpmw.RequestID(httpmw.RequestIDConfig{}))
	r.Use(httpmw.Recovery(logger))
	r.Use(httpmw.AccessLog(logger.Named("http")))
	r.Use(proxy)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpmw.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/whoami", a.whoami)
		r.Head("/whoami", a.whoami)
		r.Post("/echo", a.echo)
	})

	a.handler = r

	return a, nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (a *app) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("listening", zap.String("addr", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Std())
		defer cancel()

		a.logger.Info("shutting down")

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases the nonce cache.
func (a *app) Close() error {
	return errors.Join(a.server.Close(), a.nonces.Close())
}

type whoamiResponse struct {
	ID        string `json:"id"`
	Mode      string `json:"mode"`
	Ext       string `json:"ext,omitempty"`
	RequestID string `json:"request_id"`
}

func (a *app) whoami(w http.ResponseWriter, r *http.Request) {
	info, _ := hawk.AuthInfoFromContext(r.Context())

	httpmw.JSON(w, http.StatusOK, whoamiResponse{
		ID:        info.ID,
		Mode:      string(info.Mode),
		Ext:       info.Ext,
		RequestID: httpmw.RequestIDFromContext(r.Context()),
	})
}

func (a *app) echo(w http.ResponseWriter, r *http.Request) {
	// The Hawk middleware caps the body at maxEchoBody.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		status := http.StatusBadRequest

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}

		http.Error(w, http.StatusText(status), status)

		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}

	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
}

func (a *app) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status := hawk.StatusCode(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}

	httpmw.JSON(w, status, errorResponse{
		Error:     msg,
		Kind:      hawk.KindOf(err).String(),
		RequestID: httpmw.RequestIDFromContext(r.Context()),
	})
}
