package interfaces

import (
	"context"
	"errors"

	"github.com/go-redis/redis_rate/v10"
	"github.com/shopspring/decimal"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) error
}

// RailItem is one transfer of a payout batch.
type RailItem struct {
	Destination string
	Amount      decimal.Decimal
	Currency    string
	Note        string
	ItemToken   string
}

// RailBatch is keyed by a caller-chosen token so a resubmission is
// deduplicated by the rail.
type RailBatch struct {
	Token        string
	EmailSubject string
	EmailMessage string
	Items        []RailItem
}

type RailReceipt struct {
	BatchID     string
	BatchStatus string
	ItemIDs     map[string]string // item token -> rail item id
}

type RailItemStatus struct {
	ItemID    string
	ItemToken string
	Status    string
	Error     string
}

type RailBatchStatus struct {
	BatchID     string
	BatchStatus string
	Items       []RailItemStatus
}

// ErrDuplicateBatch is returned by a rail that has already accepted a batch
// with the same token.
var ErrDuplicateBatch = errors.New("batch token already used")

// PayoutRail is the external payment network.
type PayoutRail interface {
	Name() string
	Submit(ctx context.Context, batch RailBatch) (*RailReceipt, error)
	Status(ctx context.Context, batchID string) (*RailBatchStatus, error)
}

type CatalogFilter struct {
	Categories []string
	Countries  []string
	Devices    []string
}

// CatalogOffer is an offer as listed by a provider, before the platform share
// is applied.
type CatalogOffer struct {
	ExternalOfferID string
	Title           string
	Description     string
	Category        string
	Revenue         decimal.Decimal
	TimeEstimate    string
	Requirements    map[string]interface{}
}

type OfferCatalog interface {
	Provider() string
	FetchOffers(ctx context.Context, filter CatalogFilter) ([]CatalogOffer, error)
}
