package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"offerwall/internal/interfaces"
	"offerwall/internal/pkg/money"

	"github.com/gojek/heimdall/v7/httpclient"
	"go.uber.org/zap"
)

const (
	RailName = "paypal"

	BaseURLSandbox = "https://api-m.sandbox.paypal.com"
	BaseURLLive    = "https://api-m.paypal.com"

	ModeSandbox = "sandbox"
	ModeLive    = "live"

	placeholderClientID = "your_paypal_client_id_here"
)

var (
	ErrNotConfigured  = errors.New("paypal credentials not configured")
	ErrDuplicateBatch = interfaces.ErrDuplicateBatch
)

// APIError is a non-2xx answer from PayPal.
type APIError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal: %d %s: %s", e.StatusCode, e.Name, e.Message)
}

// TokenStore shares access tokens between processes.
type TokenStore interface {
	GetToken(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string, ttl time.Duration) error
	// DropToken forgets token if it is still the stored one.
	DropToken(ctx context.Context, token string) error
}

type Config struct {
	ClientID     string
	ClientSecret string
	Mode         string
	BaseURL      string // overrides Mode
	Timeout      time.Duration
	TokenStore   TokenStore
}

// Configured reports whether real credentials are present.
func (cfg Config) Configured() bool {
	return cfg.ClientID != "" && cfg.ClientID != placeholderClientID && cfg.ClientSecret != ""
}

type Client struct {
	cfg     Config
	baseURL string
	http    *httpclient.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ interfaces.PayoutRail = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseURLSandbox
		if cfg.Mode == ModeLive {
			baseURL = BaseURLLive
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	// submissions are never retried inside a call
	client := httpclient.NewClient(
		httpclient.WithHTTPTimeout(cfg.Timeout),
		httpclient.WithRetryCount(0),
	)

	return &Client{cfg: cfg, baseURL: strings.TrimRight(baseURL, "/"), http: client}, nil
}

func (c *Client) Name() string {
	return RailName
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type senderBatchHeader struct {
	SenderBatchID string `json:"sender_batch_id"`
	EmailSubject  string `json:"email_subject,omitempty"`
	EmailMessage  string `json:"email_message,omitempty"`
}

type payoutItem struct {
	RecipientType string `json:"recipient_type"`
	Amount        amount `json:"amount"`
	Receiver      string `json:"receiver"`
	Note          string `json:"note,omitempty"`
	SenderItemID  string `json:"sender_item_id"`
}

type createPayoutRequest struct {
	SenderBatchHeader senderBatchHeader `json:"sender_batch_header"`
	Items             []payoutItem      `json:"items"`
}

type batchHeader struct {
	PayoutBatchID     string            `json:"payout_batch_id"`
	BatchStatus       string            `json:"batch_status"`
	SenderBatchHeader senderBatchHeader `json:"sender_batch_header"`
}

type itemError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type batchItem struct {
	PayoutItemID      string     `json:"payout_item_id"`
	TransactionStatus string     `json:"transaction_status"`
	PayoutItem        payoutItem `json:"payout_item"`
	Errors            *itemError `json:"errors,omitempty"`
}

type batchResponse struct {
	BatchHeader batchHeader `json:"batch_header"`
	Items       []batchItem `json:"items"`
}

// Submit creates a payout batch. The batch token becomes PayPal's
// sender_batch_id, which PayPal refuses to accept twice.
func (c *Client) Submit(ctx context.Context, batch interfaces.RailBatch) (*interfaces.RailReceipt, error) {
	if batch.Token == "" || len(batch.Items) == 0 {
		return nil, errors.New("paypal: empty batch")
	}

	body := createPayoutRequest{
		SenderBatchHeader: senderBatchHeader{
			SenderBatchID: batch.Token,
			EmailSubject:  batch.EmailSubject,
			EmailMessage:  batch.EmailMessage,
		},
	}
	for _, item := range batch.Items {
		body.Items = append(body.Items, payoutItem{
			RecipientType: "EMAIL",
			Amount: amount{
				Value:    money.Format(item.Amount),
				Currency: item.Currency,
			},
			Receiver:     item.Destination,
			Note:         item.Note,
			SenderItemID: item.ItemToken,
		})
	}

	var res batchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payments/payouts", body, &res); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && strings.Contains(apiErr.Message+apiErr.Name, "SENDER_BATCH_ID_ALREADY_USED") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBatch, batch.Token)
		}
		return nil, err
	}

	if res.BatchHeader.PayoutBatchID == "" {
		return nil, errors.New("paypal: missing payout_batch_id")
	}

	receipt := &interfaces.RailReceipt{
		BatchID:     res.BatchHeader.PayoutBatchID,
		BatchStatus: res.BatchHeader.BatchStatus,
		ItemIDs:     map[string]string{},
	}
	for _, item := range res.Items {
		receipt.ItemIDs[item.PayoutItem.SenderItemID] = item.PayoutItemID
	}

	zap.L().Info("paypal batch created",
		zap.String("sender_batch_id", batch.Token),
		zap.String("payout_batch_id", receipt.BatchID),
		zap.String("batch_status", receipt.BatchStatus))
	return receipt, nil
}

func (c *Client) Status(ctx context.Context, batchID string) (*interfaces.RailBatchStatus, error) {
	var res batchResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/payouts/"+url.PathEscape(batchID), nil, &res); err != nil {
		return nil, err
	}

	status := &interfaces.RailBatchStatus{
		BatchID:     res.BatchHeader.PayoutBatchID,
		BatchStatus: res.BatchHeader.BatchStatus,
	}
	for _, item := range res.Items {
		s := interfaces.RailItemStatus{
			ItemID:    item.PayoutItemID,
			ItemToken: item.PayoutItem.SenderItemID,
			Status:    strings.ToUpper(item.TransactionStatus),
		}
		if item.Errors != nil {
			s.Error = item.Errors.Name + ": " + item.Errors.Message
		}
		status.Items = append(status.Items, s)
	}

	return status, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.dropToken(ctx, token)
	}

	return decodeResponse(resp, out)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	if c.cfg.TokenStore != nil {
		token, err := c.cfg.TokenStore.GetToken(ctx)
		if err != nil {
			zap.L().Warn("paypal token store read failed", zap.Error(err))
		} else if token != "" {
			c.token = token
			c.tokenExpiry = time.Now().Add(time.Minute)
			return token, nil
		}
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var res tokenResponse
	if err := decodeResponse(resp, &res); err != nil {
		return "", err
	}
	if res.AccessToken == "" {
		return "", errors.New("paypal: empty access token")
	}

	// refresh a minute early
	ttl := time.Duration(res.ExpiresIn)*time.Second - time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	c.token = res.AccessToken
	c.tokenExpiry = time.Now().Add(ttl)

	if c.cfg.TokenStore != nil {
		if err := c.cfg.TokenStore.SetToken(ctx, res.AccessToken, ttl); err != nil {
			zap.L().Warn("paypal token store write failed", zap.Error(err))
		}
	}
	return c.token, nil
}

// dropToken forgets a token the rail rejected, locally and in the store.
func (c *Client) dropToken(ctx context.Context, token string) {
	c.mu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.mu.Unlock()

	if c.cfg.TokenStore != nil {
		if err := c.cfg.TokenStore.DropToken(ctx, token); err != nil {
			zap.L().Warn("paypal token store drop failed", zap.Error(err))
		}
	}
}

func decodeResponse(resp *http.Response, out any) error {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(b, apiErr); err != nil || apiErr.Name == "" {
			apiErr.Name = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(b))
		}
		return apiErr
	}

	if out == nil || len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, out)
}
