package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/wastehub/onboard"
	otelexport "github.com/wastehub/onboard/metrics/export/otel"
	promexport "github.com/wastehub/onboard/metrics/export/prometheus"
	"github.com/wastehub/onboard/middleware"
	"github.com/wastehub/onboard/web"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const meterName = "github.com/wastehub/onboard"

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the onboarding web server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	if ctx == nil {
		ctx = context.Background()
	}

	b := onboard.New().
		WithConfig(cfg.Engine()).
		WithLogger(a.logger)

	if cfg.SessionStore == string(onboard.StoreRedis) {
		rdb, err := newRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		b = b.WithRedis(rdb)
	}

	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("engine build: %w", err)
	}
	defer engine.Close()

	mux := http.NewServeMux()
	mux.Handle("/", web.NewServer(engine, a.logger))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if h := engine.Health(r.Context()); !h.StoreAvailable {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if cfg.MetricsEnabled {
		metricsHandler, err := promexport.NewCollector(engine).Handler()
		if err != nil {
			return fmt.Errorf("metrics handler: %w", err)
		}
		mux.Handle("GET /metrics", metricsHandler)

		exp, err := otelexport.NewExporter(otel.Meter(meterName), engine)
		if err != nil {
			return fmt.Errorf("otel exporter: %w", err)
		}
		defer func() {
			if err := exp.Close(); err != nil {
				a.logger.Warn("otel exporter close failed", zap.Error(err))
			}
		}()
	}

	return listen(a.logger, "onboard", cfg.HTTPAddr, middleware.RequestLogger(a.logger)(mux))
}
