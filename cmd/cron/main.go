package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"offerwall/internal/app"
	"offerwall/internal/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/samber/do"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func init() {
	// for development
	//nolint:errcheck
	godotenv.Load("../../.env")

	// for production
	//nolint:errcheck
	godotenv.Load("./.env")
}

type CronJob interface {
	Start(ctx context.Context, cronRunner *cron.Cron) error
}

func main() {
	vs, err := app.Envs()
	if err != nil {
		log.Fatal(err)
	}

	l := logger.New(vs["API_MODE"], "cron")
	defer l.Sync() //nolint:errcheck

	container := app.NewContainer(vs)

	cliApp := &cli.App{
		Name: "cronjob",
		Commands: []*cli.Command{
			commandCronjob(container),
			commandPollOnce(container),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		l.Fatal("cron exited", zap.Error(err))
	}
}

func commandCronjob(container *do.Injector) *cli.Command {
	return &cli.Command{
		Name: "cron",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			payoutJob, err := NewPayoutPollerJob(container)
			if err != nil {
				return err
			}
			offerJob, err := NewOfferSyncJob(container)
			if err != nil {
				return err
			}

			cronRunner := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
			for _, job := range []CronJob{payoutJob, offerJob} {
				if err := job.Start(ctx, cronRunner); err != nil {
					return err
				}
			}

			zap.L().Info("start cronjob")
			cronRunner.Start()

			<-ctx.Done()
			zap.L().Info("stopping cronjob, waiting for running jobs")
			<-cronRunner.Stop().Done()
			return nil
		},
	}
}

// commandPollOnce runs one payout poller pass, useful for operators and
// deploy hooks.
func commandPollOnce(container *do.Injector) *cli.Command {
	return &cli.Command{
		Name:  "poll-payouts",
		Usage: "run the payout status poller once",
		Action: func(c *cli.Context) error {
			job, err := NewPayoutPollerJob(container)
			if err != nil {
				return err
			}
			return job.run(c.Context)
		},
	}
}
