package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"offerwall/internal/app"
	"offerwall/internal/datastore"
	"offerwall/internal/pkg/logger"
	"offerwall/internal/pkg/money"
	"offerwall/internal/services"

	"github.com/joho/godotenv"
	"github.com/samber/do"
	"github.com/uptrace/bun"
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

func main() {
	vs, err := app.Envs()
	if err != nil {
		log.Fatal(err)
	}

	l := logger.New(vs["API_MODE"], "migrate")
	defer l.Sync() //nolint:errcheck

	container := app.NewContainer(vs)

	cliApp := &cli.App{
		Name: "migrate",
		Commands: []*cli.Command{
			commandMigration(container),
			commandConfigSeed(container),
			commandConfigSet(container),
			commandPayouts(container),
			commandLedgerCheck(container),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		l.Fatal("migrate exited", zap.Error(err))
	}
}

func commandMigration(container *do.Injector) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create tables and indexes",
		Action: func(c *cli.Context) error {
			db, err := do.Invoke[*bun.DB](container)
			if err != nil {
				return err
			}

			if err := datastore.CreateTables(c.Context, db); err != nil {
				return err
			}
			zap.L().Info("tables created")
			return nil
		},
	}
}

func commandConfigSeed(container *do.Injector) *cli.Command {
	return &cli.Command{
		Name:  "seed-config",
		Usage: "insert default values for every config key",
		Action: func(c *cli.Context) error {
			serviceConfig, err := do.Invoke[*services.ServiceConfig](container)
			if err != nil {
				return err
			}
			return serviceConfig.SeedDefaults(c.Context)
		},
	}
}

func commandConfigSet(container *do.Injector) *cli.Command {
	return &cli.Command{
		Name:      "set-config",
		Usage:     "change a config value",
		ArgsUsage: "<key> <value>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return errors.New("expected <key> <value>")
			}

			serviceConfig, err := do.Invoke[*services.ServiceConfig](container)
			if err != nil {
				return err
			}

			config, err := serviceConfig.SetConfig(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", config.Key, config.Value)
			return nil
		},
	}
}

func parsePayoutID(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, errors.New("expected <payout id>")
	}
	return strconv.ParseInt(c.Args().First(), 10, 64)
}

func commandPayouts(container *do.Injector) *cli.Command {
	return &cli.Command{
		Name:  "payouts",
		Usage: "operator tools for payouts",
		Subcommands: []*cli.Command{
			{
				Name:      "resubmit",
				Usage:     "submit a pending payout to the rail again",
				ArgsUsage: "<payout id>",
				Action: func(c *cli.Context) error {
					payoutID, err := parsePayoutID(c)
					if err != nil {
						return err
					}

					servicePayout, err := do.Invoke[*services.ServicePayout](container)
					if err != nil {
						return err
					}

					receipt, err := servicePayout.Resubmit(c.Context, payoutID)
					if err != nil {
						return err
					}
					fmt.Printf("payout %d: %s (%s)\n", receipt.PayoutID, receipt.Status, receipt.Message)
					return nil
				},
			},
			{
				Name:      "sync",
				Usage:     "query the rail for one processing payout",
				ArgsUsage: "<payout id>",
				Action: func(c *cli.Context) error {
					payoutID, err := parsePayoutID(c)
					if err != nil {
						return err
					}

					poller, err := do.Invoke[*services.ServicePayoutPoller](container)
					if err != nil {
						return err
					}

					outcome, err := poller.SyncPayout(c.Context, payoutID)
					if err != nil {
						return err
					}
					fmt.Printf("payout %d: %s\n", payoutID, outcome)
					return nil
				},
			},
			{
				Name:  "stale",
				Usage: "list pending payouts that never reached the rail",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Value: time.Duration(services.DEFAULT_PAYOUT_STALE_MINUTES) * time.Minute,
					},
				},
				Action: func(c *cli.Context) error {
					poller, err := do.Invoke[*services.ServicePayoutPoller](container)
					if err != nil {
						return err
					}

					payouts, err := poller.ScanStalePending(c.Context, c.Duration("older-than"))
					if err != nil {
						return err
					}
					for _, payout := range payouts {
						fmt.Printf("%d\tuser=%d\tamount=%s\trequested=%s\n",
							payout.ID, payout.UserID, money.Format(payout.Amount), payout.RequestedAt.Format(time.RFC3339))
					}
					fmt.Printf("%d stale pending payouts\n", len(payouts))
					return nil
				},
			},
			{
				Name:  "last-report",
				Usage: "print the latest poller report",
				Action: func(c *cli.Context) error {
					poller, err := do.Invoke[*services.ServicePayoutPoller](container)
					if err != nil {
						return err
					}

					report, err := poller.LastReport(c.Context)
					if err != nil {
						return err
					}
					if report == nil {
						fmt.Println("no report yet")
						return nil
					}
					fmt.Printf("%+v\n", *report)
					return nil
				},
			},
		},
	}
}

func commandLedgerCheck(container *do.Injector) *cli.Command {
	return &cli.Command{
		Name:      "ledger-check",
		Usage:     "verify a user's balance against earnings and payouts",
		ArgsUsage: "<user id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("expected <user id>")
			}
			userID, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return err
			}

			ledger, err := do.Invoke[*services.ServiceLedger](container)
			if err != nil {
				return err
			}

			snapshot, err := ledger.CheckInvariants(context.Background(), userID)
			if err != nil {
				return err
			}
			fmt.Printf("balance=%s earned=%s earnings=%s paid_out=%s\n",
				money.Format(snapshot.Balance), money.Format(snapshot.TotalEarned),
				money.Format(snapshot.EarningsTotal), money.Format(snapshot.PaidOut))
			for _, problem := range snapshot.Problems {
				fmt.Println("problem:", problem)
			}
			return nil
		},
	}
}
