package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/api"
	"github.com/pario-ai/querygate/pkg/cache"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, *configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			sweeper, err := cache.NewSweeper(a.cache, a.cfg.Cache.SweepSchedule, a.logger)
			if err != nil {
				return err
			}
			sweeper.Start()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				sweeper.Stop(stopCtx)
			}()

			gin.SetMode(gin.ReleaseMode)
			srv := api.New(a.gw, api.Options{
				Listen:   a.cfg.Listen,
				Admin:    a.cfg.Admin,
				Gatherer: a.registry,
				Logger:   a.logger,
			})

			a.logger.Info("starting querygate",
				zap.String("config", *configPath),
				zap.String("ledger_backend", a.cfg.Ledger.Backend),
				zap.String("cache_backend", a.cfg.Cache.Backend),
			)
			return srv.ListenAndServe(ctx)
		},
	}
}
