package lootably

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"offerwall/internal/interfaces"
	"offerwall/internal/pkg/money"

	"github.com/gojek/heimdall/v7/httpclient"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ProviderName = "lootably"

	CatalogURL = "https://api.lootably.com/api/v2/offers/get"

	// SuccessStatus is the postback status of a completed conversion.
	SuccessStatus = "1"

	OfferTypeSingleStep = "singlestep"
	OfferTypeMultiStep  = "multistep"

	variableAmount = "variable"
)

var ErrNotConfigured = errors.New("lootably credentials not configured")

type Config struct {
	APIKey      string
	PlacementID string
	URL         string
	Timeout     time.Duration
	RetryCount  int
}

type Client struct {
	cfg  Config
	http *httpclient.Client
}

var _ interfaces.OfferCatalog = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.PlacementID == "" {
		return nil, ErrNotConfigured
	}
	if cfg.URL == "" {
		cfg.URL = CatalogURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := httpclient.NewClient(
		httpclient.WithHTTPTimeout(cfg.Timeout),
		httpclient.WithRetryCount(cfg.RetryCount),
	)
	return &Client{cfg: cfg, http: client}, nil
}

func (c *Client) Provider() string {
	return ProviderName
}

type catalogRequest struct {
	APIKey      string   `json:"apiKey"`
	PlacementID string   `json:"placementID"`
	Categories  []string `json:"categories,omitempty"`
	Countries   []string `json:"countries,omitempty"`
	Devices     []string `json:"devices,omitempty"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}

type goal struct {
	Name           string     `json:"name"`
	Revenue        flexString `json:"revenue"`
	CurrencyReward flexString `json:"currencyReward"`
}

type offer struct {
	OfferID        flexString `json:"offerID"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Type           string     `json:"type"`
	Revenue        flexString `json:"revenue"`
	CurrencyReward flexString `json:"currencyReward"`
	Goals          []goal     `json:"goals"`
	Categories     []string   `json:"categories"`
	Countries      []string   `json:"countries"`
	Devices        []string   `json:"devices"`
	Link           string     `json:"link"`
	Image          string     `json:"image"`
	ConversionRate flexString `json:"conversionRate"`
	TimeEstimate   string     `json:"timeEstimate"`
}

type catalogResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Offers []json.RawMessage `json:"offers"`
	} `json:"data"`
}

// FetchOffers lists the placement's catalog. Offers that cannot be parsed are
// skipped and logged.
func (c *Client) FetchOffers(ctx context.Context, filter interfaces.CatalogFilter) ([]interfaces.CatalogOffer, error) {
	b, err := json.Marshal(catalogRequest{
		APIKey:      c.cfg.APIKey,
		PlacementID: c.cfg.PlacementID,
		Categories:  filter.Categories,
		Countries:   filter.Countries,
		Devices:     filter.Devices,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lootably: unexpected status %d", resp.StatusCode)
	}

	var res catalogResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("lootably: decode catalog: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("lootably: %s", res.Message)
	}

	offers := make([]interfaces.CatalogOffer, 0, len(res.Data.Offers))
	for _, raw := range res.Data.Offers {
		o, err := ParseOffer(raw)
		if err != nil {
			zap.L().Warn("lootably offer skipped", zap.Error(err))
			continue
		}
		offers = append(offers, *o)
	}

	zap.L().Info("lootably catalog fetched", zap.Int("offers", len(offers)), zap.Int("raw", len(res.Data.Offers)))
	return offers, nil
}

// ParseOffer converts one catalog entry. Single step offers carry their
// revenue directly, multi step offers are the sum of their goals.
func ParseOffer(raw []byte) (*interfaces.CatalogOffer, error) {
	var o offer
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	if o.OfferID == "" {
		return nil, errors.New("lootably: offer without offerID")
	}
	if o.Name == "" {
		return nil, fmt.Errorf("lootably: offer %s without name", o.OfferID)
	}

	var revenue decimal.Decimal
	switch o.Type {
	case OfferTypeMultiStep:
		for _, g := range o.Goals {
			revenue = revenue.Add(parseAmount(g.Revenue))
		}
	default:
		revenue = parseAmount(o.Revenue)
	}

	category := "other"
	if len(o.Categories) > 0 && o.Categories[0] != "" {
		category = slug.Make(o.Categories[0])
	}

	return &interfaces.CatalogOffer{
		ExternalOfferID: string(o.OfferID),
		Title:           o.Name,
		Description:     o.Description,
		Category:        category,
		Revenue:         money.Round(revenue),
		TimeEstimate:    o.TimeEstimate,
		Requirements: map[string]interface{}{
			"countries":       o.Countries,
			"devices":         o.Devices,
			"conversion_rate": string(o.ConversionRate),
			"tracking_link":   o.Link,
			"image":           o.Image,
			"type":            o.Type,
		},
	}, nil
}

func parseAmount(v flexString) decimal.Decimal {
	if strings.EqualFold(string(v), variableAmount) {
		return decimal.Zero
	}
	return money.ParseProviderAmount(string(v))
}
