package main

import (
	"context"
	"errors"

	"offerwall/internal/interfaces"
	"offerwall/internal/services"

	"github.com/robfig/cron/v3"
	"github.com/samber/do"
	"go.uber.org/zap"
)

type OfferSyncJob struct {
	offers *services.ServiceOffer
	config *services.ServiceConfig
	ctx    context.Context
}

func NewOfferSyncJob(container *do.Injector) (*OfferSyncJob, error) {
	offers, err := do.Invoke[*services.ServiceOffer](container)
	if err != nil {
		return nil, err
	}

	config, err := do.Invoke[*services.ServiceConfig](container)
	if err != nil {
		return nil, err
	}

	return &OfferSyncJob{offers: offers, config: config, ctx: context.Background()}, nil
}

func (j *OfferSyncJob) Start(ctx context.Context, cronRunner *cron.Cron) error {
	j.ctx = ctx
	if len(j.offers.Providers()) == 0 {
		zap.L().Warn("no offer catalog configured, offer sync disabled")
		return nil
	}

	timeline, err := j.config.GetStringConfig(ctx, services.CONFIG_CRONJOB_TIME_OFFER_SYNC, services.DEFAULT_CRONJOB_TIME_OFFER_SYNC)
	if err != nil {
		return err
	}

	_, err = cronRunner.AddFunc(timeline, j.runScheduledTask)
	if err != nil {
		return err
	}
	zap.L().Info("offer sync scheduled", zap.String("cron", timeline), zap.Strings("providers", j.offers.Providers()))
	return nil
}

func (j *OfferSyncJob) runScheduledTask() {
	for _, provider := range j.offers.Providers() {
		result, err := j.offers.SyncFromProvider(j.ctx, provider, interfaces.CatalogFilter{})
		if errors.Is(err, services.ErrOfferSyncLock) {
			continue
		}
		if err != nil {
			zap.L().Error("offer sync failed", zap.String("provider", provider), zap.Error(err))
			continue
		}
		zap.L().Info("offer sync finished",
			zap.String("provider", provider),
			zap.Int("upserted", result.Upserted),
			zap.Int64("deactivated", result.Deactivated),
		)
	}
}
