package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/casualhall/gameroom/internal/config"
	"github.com/casualhall/gameroom/internal/devserver"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *devserver.Store
	if cfg.DatabaseDSN != "" {
		store, err = devserver.OpenStore(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal("store", zap.Error(err))
		}
		log.Info("match history store enabled")
	}

	s := devserver.New(ctx, log, store)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: devserver.Routes(s)}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server", zap.Error(err))
	}
}
