package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"offerwall/internal/datastore"
	"offerwall/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, datastore.CreateTables(context.Background(), db))
	return db
}

func insertPayout(t *testing.T, db bun.IDB, userID int64, amount, status string) *models.Payout {
	t.Helper()
	payout := &models.Payout{
		UserID:        userID,
		Amount:        decimal.RequireFromString(amount),
		Fee:           decimal.RequireFromString("1.00"),
		NetAmount:     decimal.RequireFromString(amount).Sub(decimal.RequireFromString("1.00")),
		Currency:      "USD",
		Method:        models.PayoutMethodPaypal,
		Destination:   fmt.Sprintf("user%d@example.com", userID),
		Status:        status,
		SenderBatchID: "PAYOUT_" + uuid.NewString(),
	}
	require.NoError(t, datastore.InsertPayout(context.Background(), db, payout))
	return payout
}

func readCSV(t *testing.T, b *bytes.Buffer) [][]string {
	t.Helper()
	records, err := csv.NewReader(b).ReadAll()
	require.NoError(t, err)
	return records
}

func TestPayoutRow(t *testing.T) {
	batchID := "BATCH-1"
	processedAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	payout := &models.Payout{
		ID:          7,
		UserID:      3,
		Amount:      decimal.RequireFromString("25"),
		Fee:         decimal.RequireFromString("0.5"),
		NetAmount:   decimal.RequireFromString("24.5"),
		Currency:    "USD",
		Method:      models.PayoutMethodPaypal,
		Destination: "bob@example.com",
		Status:      models.PayoutStatusCompleted,
		BatchID:     &batchID,
		RequestedAt: processedAt.Add(-time.Hour),
		ProcessedAt: &processedAt,
		Notes:       "paid, with comma",
	}

	row := payoutRow(payout)
	require.Len(t, row, len(payoutHeader))
	assert.Equal(t, []string{
		"7", "3", "25.00", "0.50", "24.50", "USD", "paypal",
		"bob@example.com", "completed", "BATCH-1", "", "2026-03-04T04:06:07Z", "2026-03-04T05:06:07Z", "paid, with comma",
	}, row)
}

func TestWritePayouts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	first := insertPayout(t, db, 1, "10.00", models.PayoutStatusCompleted)
	second := insertPayout(t, db, 2, "20.00", models.PayoutStatusFailed)
	third := insertPayout(t, db, 3, "30.00", models.PayoutStatusCompleted)

	// pages smaller than the table
	var out bytes.Buffer
	total, err := writePayouts(ctx, db, &out, "", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	records := readCSV(t, &out)
	require.Len(t, records, 4)
	assert.Equal(t, payoutHeader, records[0])
	assert.Equal(t, fmt.Sprint(first.ID), records[1][0])
	assert.Equal(t, fmt.Sprint(second.ID), records[2][0])
	assert.Equal(t, fmt.Sprint(third.ID), records[3][0])
	assert.Equal(t, "20.00", records[2][2])
	assert.Equal(t, "failed", records[2][8])

	out.Reset()
	total, err = writePayouts(ctx, db, &out, models.PayoutStatusCompleted, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	records = readCSV(t, &out)
	require.Len(t, records, 3)
	assert.Equal(t, fmt.Sprint(first.ID), records[1][0])
	assert.Equal(t, fmt.Sprint(third.ID), records[2][0])
}

func TestWritePayoutsEmpty(t *testing.T) {
	var out bytes.Buffer
	total, err := writePayouts(context.Background(), newTestDB(t), &out, "", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, [][]string{payoutHeader}, readCSV(t, &out))
}
