package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/app"
	"github.com/beetslabs/poolsync/app/scheduler"
	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/utils"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Initialize(ctx)
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}
	defer a.Close()

	var notifier scheduler.Notifier
	if a.Redis != nil {
		notifier = a.Redis
	}
	sched := scheduler.New(a.Logger, a.Registry, notifier, utils.EnvInt("SYNC_WORKERS", 4))

	jobs := []struct {
		spec     string
		category chain.Category
		job      scheduler.Job
	}{
		{utils.Env("SNAPSHOT_CRON", "@every 5m"), chain.CategoryPoolSnapshots, a.SyncSnapshots},
		{utils.Env("BALANCE_CRON", "@every 2m"), chain.CategoryBptBalances, a.SyncBalances},
		{utils.Env("STAKED_BALANCE_CRON", "@every 2m"), chain.CategoryStakedBptBalances, a.SyncStakedBalances},
		{utils.Env("POOL_DATA_CRON", "@every 30s"), chain.CategoryPoolOnchainData, a.SyncPoolData},
	}
	for _, j := range jobs {
		if err := sched.Register(j.spec, j.category, j.job); err != nil {
			a.Logger.Fatal("Unable to register sync job",
				zap.String("category", string(j.category)),
				zap.Error(err))
		}
	}

	sched.Start()
	a.Logger.Info("Worker started")

	<-ctx.Done()
	a.Logger.Info("Shutting down worker")
	sched.Stop()
}
