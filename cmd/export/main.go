package main

import (
	"context"
	"encoding/csv"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"offerwall/internal/app"
	"offerwall/internal/datastore"
	"offerwall/internal/models"
	"offerwall/internal/pkg/logger"
	"offerwall/internal/pkg/money"

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

	l := logger.New(vs["API_MODE"], "export")
	defer l.Sync() //nolint:errcheck

	container := app.NewContainer(vs)

	cliApp := &cli.App{
		Name: "export",
		Commands: []*cli.Command{
			commandExportPayouts(container),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		l.Fatal("export exited", zap.Error(err))
	}
}

var payoutHeader = []string{
	"id", "user_id", "amount", "fee", "net_amount", "currency", "method",
	"destination", "status", "batch_id", "item_id", "requested_at", "processed_at", "notes",
}

func payoutRow(payout *models.Payout) []string {
	processedAt := ""
	if payout.ProcessedAt != nil {
		processedAt = payout.ProcessedAt.Format(time.RFC3339)
	}
	batchID, itemID := "", ""
	if payout.BatchID != nil {
		batchID = *payout.BatchID
	}
	if payout.ItemID != nil {
		itemID = *payout.ItemID
	}

	return []string{
		strconv.FormatInt(payout.ID, 10),
		strconv.FormatInt(payout.UserID, 10),
		money.Format(payout.Amount),
		money.Format(payout.Fee),
		money.Format(payout.NetAmount),
		payout.Currency,
		payout.Method,
		payout.Destination,
		payout.Status,
		batchID,
		itemID,
		payout.RequestedAt.Format(time.RFC3339),
		processedAt,
		payout.Notes,
	}
}

// writePayouts pages through payouts in id order and writes them as CSV rows
// after a header. An empty status exports every payout.
func writePayouts(ctx context.Context, db bun.IDB, out io.Writer, status string, limit int) (int, error) {
	w := csv.NewWriter(out)
	if err := w.Write(payoutHeader); err != nil {
		return 0, err
	}

	offset := 0
	total := 0
	for {
		payouts, err := datastore.GetPayoutsSortedByID(ctx, db, status, limit, offset)
		if err != nil {
			return total, err
		}
		if len(payouts) == 0 {
			break
		}
		offset += limit

		for _, payout := range payouts {
			if err := w.Write(payoutRow(payout)); err != nil {
				return total, err
			}
		}
		total += len(payouts)
		zap.L().Info("exported payouts", zap.Int("total", total))
	}

	w.Flush()
	return total, w.Error()
}

// commandExportPayouts writes payouts to CSV for reconciliation against the
// rail's own reports.
func commandExportPayouts(container *do.Injector) *cli.Command {
	return &cli.Command{
		Name: "payouts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "only export payouts in this status",
			},
			&cli.StringFlag{
				Name:  "output",
				Value: "payouts.csv",
			},
		},
		Action: func(c *cli.Context) error {
			db, err := do.InvokeNamed[*bun.DB](container, "db-readonly")
			if err != nil {
				return err
			}

			file, err := os.Create(c.String("output"))
			if err != nil {
				return err
			}
			defer file.Close()

			total, err := writePayouts(c.Context, db, file, c.String("status"), 100)
			if err != nil {
				return err
			}

			zap.L().Info("export done", zap.String("output", c.String("output")), zap.Int("total", total))
			return nil
		},
	}
}
