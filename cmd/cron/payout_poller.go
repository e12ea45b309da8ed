package main

import (
	"context"
	"errors"
	"time"

	"offerwall/internal/services"

	"github.com/robfig/cron/v3"
	"github.com/samber/do"
	"go.uber.org/zap"
)

type PayoutPollerJob struct {
	poller *services.ServicePayoutPoller
	config *services.ServiceConfig
	ctx    context.Context
}

func NewPayoutPollerJob(container *do.Injector) (*PayoutPollerJob, error) {
	poller, err := do.Invoke[*services.ServicePayoutPoller](container)
	if err != nil {
		return nil, err
	}

	config, err := do.Invoke[*services.ServiceConfig](container)
	if err != nil {
		return nil, err
	}

	return &PayoutPollerJob{poller: poller, config: config, ctx: context.Background()}, nil
}

func (j *PayoutPollerJob) Start(ctx context.Context, cronRunner *cron.Cron) error {
	j.ctx = ctx
	timeline, err := j.config.GetStringConfig(ctx, services.CONFIG_CRONJOB_TIME_PAYOUT_POLLER, services.DEFAULT_CRONJOB_TIME_PAYOUT_POLLER)
	if err != nil {
		return err
	}

	_, err = cronRunner.AddFunc(timeline, j.runScheduledTask)
	if err != nil {
		return err
	}
	zap.L().Info("payout poller scheduled", zap.String("cron", timeline))
	return nil
}

func (j *PayoutPollerJob) runScheduledTask() {
	if err := j.run(j.ctx); err != nil && !errors.Is(err, services.ErrPollerLock) {
		zap.L().Error("payout poller failed", zap.Error(err))
	}
}

func (j *PayoutPollerJob) run(ctx context.Context) error {
	batchSize, err := j.config.GetIntConfig(ctx, services.CONFIG_PAYOUT_POLLER_BATCH_SIZE, services.DEFAULT_PAYOUT_POLLER_BATCH_SIZE)
	if err != nil {
		return err
	}
	staleMinutes, err := j.config.GetIntConfig(ctx, services.CONFIG_PAYOUT_STALE_MINUTES, services.DEFAULT_PAYOUT_STALE_MINUTES)
	if err != nil {
		return err
	}

	report, err := j.poller.SyncProcessing(ctx, batchSize, time.Duration(staleMinutes)*time.Minute)
	if err != nil {
		return err
	}

	zap.L().Info("payout poller finished",
		zap.Int("checked", report.Checked),
		zap.Int("completed", report.Completed),
		zap.Int("released", report.Released),
		zap.Int("errors", report.Errors),
		zap.Int("stale_pending", report.StalePending),
	)
	return nil
}
