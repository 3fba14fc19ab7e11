package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orgstack/directory/modules/directory"
	"github.com/orgstack/directory/pkg/composables"
	"github.com/orgstack/directory/pkg/configuration"
	"github.com/orgstack/directory/pkg/eventbus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	poolCtx, poolCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer poolCancel()
	pool, err := pgxpool.New(poolCtx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = composables.WithPool(ctx, pool)

	module := directory.NewModule(eventbus.NewEventPublisher(logger), logger, conf.Compaction)
	if err := module.RunMigrations(ctx, pool); err != nil {
		logger.WithError(err).Fatal("failed to apply schema")
	}

	go func() {
		if err := module.Compactor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("compactor stopped")
		}
	}()

	if conf.Prometheus.Enabled {
		mux := http.NewServeMux()
		mux.Handle(conf.Prometheus.Path, promhttp.Handler())
		srv := &http.Server{Addr: conf.SocketAddress, Handler: mux}
		go func() {
			logger.Infof("metrics listening on %s%s", conf.SocketAddress, conf.Prometheus.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.WithField("env", conf.GoAppEnvironment).Info("directory service started")
	<-ctx.Done()
	logger.Info("shutting down")
}
