package paypal

import (
	"context"
	"errors"
	"strings"
	"sync"

	"offerwall/internal/interfaces"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DemoRailName = "paypal-demo"

	ItemStatusSuccess = "SUCCESS"
)

// DemoRail accepts every batch and reports every item as paid. It stands in
// for PayPal when no credentials are configured.
type DemoRail struct {
	mu      sync.Mutex
	batches map[string]*interfaces.RailBatchStatus
	tokens  map[string]string
}

var _ interfaces.PayoutRail = (*DemoRail)(nil)

func NewDemoRail() *DemoRail {
	zap.L().Warn("paypal credentials not configured, payouts run in demo mode")
	return &DemoRail{
		batches: map[string]*interfaces.RailBatchStatus{},
		tokens:  map[string]string{},
	}
}

func (d *DemoRail) Name() string {
	return DemoRailName
}

func (d *DemoRail) Submit(ctx context.Context, batch interfaces.RailBatch) (*interfaces.RailReceipt, error) {
	if batch.Token == "" || len(batch.Items) == 0 {
		return nil, errors.New("demo rail: empty batch")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tokens[batch.Token]; ok {
		return nil, ErrDuplicateBatch
	}

	status := &interfaces.RailBatchStatus{
		BatchID:     "DEMO_BATCH_" + shortID(),
		BatchStatus: ItemStatusSuccess,
	}
	receipt := &interfaces.RailReceipt{
		BatchID:     status.BatchID,
		BatchStatus: "PENDING",
		ItemIDs:     map[string]string{},
	}
	for _, item := range batch.Items {
		itemID := "DEMO_ITEM_" + shortID()
		receipt.ItemIDs[item.ItemToken] = itemID
		status.Items = append(status.Items, interfaces.RailItemStatus{
			ItemID:    itemID,
			ItemToken: item.ItemToken,
			Status:    ItemStatusSuccess,
		})
	}
	d.batches[status.BatchID] = status
	d.tokens[batch.Token] = status.BatchID

	zap.L().Info("demo payout batch created", zap.String("sender_batch_id", batch.Token), zap.String("payout_batch_id", status.BatchID))
	return receipt, nil
}

func (d *DemoRail) Status(ctx context.Context, batchID string) (*interfaces.RailBatchStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	status, ok := d.batches[batchID]
	if !ok {
		// batches created by another process are reported as paid
		return &interfaces.RailBatchStatus{
			BatchID:     batchID,
			BatchStatus: ItemStatusSuccess,
			Items:       []interfaces.RailItemStatus{{Status: ItemStatusSuccess}},
		}, nil
	}
	return status, nil
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
