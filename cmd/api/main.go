package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/app"
	"github.com/beetslabs/poolsync/app/api"
	"github.com/beetslabs/poolsync/pkg/chain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Initialize(ctx)
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}
	defer a.Close()

	ctler := api.NewController(a.Logger, a.DB, a.Registry, a.Redis, a.Aprs,
		map[chain.Category]api.SyncTrigger{
			chain.CategoryPoolSnapshots:     a.SyncSnapshots,
			chain.CategoryBptBalances:       a.SyncBalances,
			chain.CategoryStakedBptBalances: a.SyncStakedBalances,
			chain.CategoryPoolOnchainData:   a.SyncPoolData,
		})
	srv := api.NewServer(ctler)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	a.Logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("Shutdown failed", zap.Error(err))
	}
}
