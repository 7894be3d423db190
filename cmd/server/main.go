package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-api/internal/config"
	"storefront-api/internal/factory"
	"storefront-api/internal/handler"
	"storefront-api/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := handler.NewRouter(handler.RouterConfig{
		Services:    f.Services(),
		Events:      f.Events(),
		Metrics:     f.Metrics(),
		Health:      f,
		Logger:      util.Named("http"),
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.RateLimit,
		RequireTLS:  cfg.Server.EnableTLS,
	})

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		if cfg.IsProduction() {
			util.Fatal("refusing to serve plain HTTP in production")
		}
		util.Warn("starting HTTP server with TLS disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		serve(f, cfg, server, nil)
		return
	}

	tlsManager := f.TLSManager()
	server.Addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	server.TLSConfig = tlsManager.Config()

	// The plain listener answers ACME challenges and redirects everything else.
	redirect := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           redirectToHTTPS(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if m := tlsManager.AutoCert(); m != nil {
		redirect.Handler = m.HTTPHandler(redirectToHTTPS(cfg))
	}

	util.Info("starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
		util.Bool("auto_cert", cfg.Server.AutoCert),
	)
	serve(f, cfg, server, redirect)
}

func redirectToHTTPS(cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if cfg.Server.Domain != "" {
			host = cfg.Server.Domain
		}
		if cfg.Server.TLSPort != 443 {
			host = fmt.Sprintf("%s:%d", host, cfg.Server.TLSPort)
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusPermanentRedirect)
	})
}

func serve(f *factory.Factory, cfg *config.Config, server, redirect *http.Server) {
	errCh := make(chan error, 2)

	go func() {
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if redirect != nil {
		go func() {
			if err := redirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("redirect server: %w", err)
			}
		}()
	}

	util.Info("server started",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-signalChan:
		util.Info("received shutdown signal", util.String("signal", sig.String()))
	case err := <-errCh:
		util.Error("server failed", util.ErrorField(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range []*http.Server{server, redirect} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("graceful shutdown failed", util.String("address", srv.Addr), util.ErrorField(err))
		}
	}
	f.Close()
	util.Info("shutdown complete")
}
