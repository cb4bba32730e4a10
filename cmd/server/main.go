package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"go-httpd/server"
)

func main() {
	bootLog := server.NewLogger("info", "json", os.Stderr)

	root := getProjectRoot()
	cfg := loadConfig(root, bootLog)
	cfg.applyEnv(bootLog)

	log := server.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	secret := []byte(os.Getenv("APP_JWT_SECRET"))

	srv := newServer(cfg, root, secret, log)

	// Graceful shutdown on SIGINT/SIGTERM
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-shutdownCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		} else {
			log.Info().Msg("shut down cleanly")
		}
	}()

	logBanner(log, srv, cfg)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}

// newServer builds the server with the middleware chain, the admin and
// demo routes, and the static mounts from cfg.
func newServer(cfg *AppServerConfig, root string, secret []byte, log zerolog.Logger) *server.Server {
	srv := server.New(cfg.serverConfig(), log)

	srv.Use(server.RequestID())
	srv.Use(server.AccessLog(log))
	if len(cfg.AuthPrefixes) > 0 {
		if len(secret) == 0 {
			log.Warn().Strs("prefixes", cfg.AuthPrefixes).Msg("APP_JWT_SECRET not set, auth prefixes reject every request")
		}
		srv.Use(server.BearerAuth(secret, cfg.AuthPrefixes...))
	}

	srv.Get("/__httpd/health", func(req *server.Request) (*server.Response, error) {
		body, err := json.Marshal(map[string]any{
			"status":             "ok",
			"version":            srv.Config().Version(),
			"active_connections": srv.ActiveConnections(),
		})
		if err != nil {
			return nil, err
		}
		return server.JSON(string(body), server.StatusOK), nil
	})

	srv.Get("/__httpd/metrics", func(req *server.Request) (*server.Response, error) {
		body, err := json.Marshal(srv.Metrics())
		if err != nil {
			return nil, fmt.Errorf("encode metrics: %w", err)
		}
		return server.JSON(string(body), server.StatusOK), nil
	})

	srv.Get("/", func(req *server.Request) (*server.Response, error) {
		return server.HTML("<h1>It works</h1>\n", server.StatusOK), nil
	})

	srv.Post("/echo", func(req *server.Request) (*server.Response, error) {
		ct, ok := req.Header("content-type")
		if !ok {
			ct = "application/octet-stream"
		}
		return server.OK("").Data(req.Body()).ContentType(ct), nil
	})

	for _, m := range cfg.mounts(root) {
		srv.ServeStatic(m.Prefix, m.Dir)
	}

	if cfg.CacheStatic {
		if err := srv.EnableStaticCache(cfg.CacheMaxFileBytes); err != nil {
			log.Warn().Err(err).Msg("static cache disabled")
		}
	}
	return srv
}

func logBanner(log zerolog.Logger, srv *server.Server, cfg *AppServerConfig) {
	sc := srv.Config()
	log.Info().
		Str("addr", sc.Addr()).
		Str("version", sc.Version()).
		Dur("read_timeout", sc.ReadTimeout).
		Dur("write_timeout", sc.WriteTimeout).
		Int("max_header_bytes", sc.MaxHeaderBytes).
		Int64("max_body_bytes", sc.MaxBodyBytes).
		Bool("cache_static", cfg.CacheStatic).
		Msg("httpd starting")
	for _, m := range srv.Mounts() {
		log.Info().Str("prefix", m.Prefix).Str("dir", m.Dir).Msg("static mount")
	}
}

// splitAddr parses "host:port" or ":port".
func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}
