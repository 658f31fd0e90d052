package main

import (
	"context"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/wastehub/onboard/devidp"
	"go.uber.org/zap"
)

func newDevIDPCmd(a *app) *cobra.Command {
	var embedded bool

	cmd := &cobra.Command{
		Use:   "devidp",
		Short: "Run the development identity provider",
		Long: `Runs an identity provider that speaks the same HTTP contract as the
production one. OTP codes are written to the log instead of being sent.
Never expose it to real users.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Production() {
				return fmt.Errorf("devidp refuses to run with APP_ENV=production")
			}
			return a.devidp(cmd.Context(), embedded)
		},
	}
	cmd.Flags().BoolVar(&embedded, "embedded-redis", false, "keep dev provider state in an in-process miniredis")
	return cmd
}

func (a *app) devidp(ctx context.Context, embedded bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var rdb redis.UniversalClient
	if embedded {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		a.logger.Info("using embedded redis", zap.String("addr", mr.Addr()))
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	} else {
		client, err := newRedisClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err != nil {
			return err
		}
		rdb = client
	}
	defer rdb.Close()

	logger := a.logger.Named("devidp")
	p, err := devidp.New(rdb, a.cfg.DevIDP(), logger, devidp.LogNotifier{Logger: logger})
	if err != nil {
		return err
	}
	if err := p.SeedAdministrators(ctx); err != nil {
		return fmt.Errorf("seed administrators: %w", err)
	}

	return listen(logger, "devidp", a.cfg.DevIDPAddr, devidp.NewHandler(p, logger))
}
