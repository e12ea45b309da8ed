package services

import (
	"fmt"
	"strings"
	"time"
)

const (
	CONFIG_CRONJOB_TIME_PAYOUT_POLLER = "CRONJOB_TIME_PAYOUT_POLLER"
	CONFIG_CRONJOB_TIME_OFFER_SYNC    = "CRONJOB_TIME_OFFER_SYNC"
	CONFIG_PAYOUT_POLLER_BATCH_SIZE   = "PAYOUT_POLLER_BATCH_SIZE"
	CONFIG_PAYOUT_STALE_MINUTES       = "PAYOUT_STALE_MINUTES"

	DEFAULT_CRONJOB_TIME_PAYOUT_POLLER = "@every 5m"
	DEFAULT_CRONJOB_TIME_OFFER_SYNC    = "@every 15m"
	DEFAULT_PAYOUT_POLLER_BATCH_SIZE   = 100
	DEFAULT_PAYOUT_STALE_MINUTES       = 30

	SERVER_MODE_DEVELOPMENT = "development"
	SERVER_MODE_PRODUCTION  = "production"

	CACHE_TTL_15_SECONDS = 15 * time.Second
	CACHE_TTL_1_MIN      = 1 * time.Minute
	CACHE_TTL_5_MINS     = 5 * time.Minute

	LEDGER_LOCK_EXPIRY = 30 * time.Second
	LEDGER_LOCK_MARGIN = 30 * time.Second
	LEDGER_LOCK_TRIES  = 20

	POSTBACK_RATE_LIMIT_PER_MINUTE       = 600
	PAYOUT_REQUEST_RATE_LIMIT_PER_MINUTE = 5
	LOGIN_RATE_LIMIT_PER_MINUTE          = 10

	DASHBOARD_RECENT_LIMIT = 10

	TOKEN_TTL = 24 * time.Hour

	PAYOUT_EMAIL_SUBJECT = "You have received a payout!"
	PAYOUT_EMAIL_MESSAGE = "Thank you for using our platform. Here's your payment!"
)

// ledger lock, shared by postback reconciliation, payout requests and the poller
func LockKeyUserLedger(userID int64) string {
	return fmt.Sprintf("lock:user-ledger:%d", userID)
}

func LockKeyOfferSync(provider string) string {
	return fmt.Sprintf("lock:offer-sync:%s", strings.ToLower(provider))
}

func LockKeyPayoutPoller() string {
	return "lock:payout-poller"
}

// db
func DBKeyConfig(key string) string {
	return fmt.Sprintf("config:%s", strings.ToLower(key))
}

func DBKeyOffers(provider, category string) string {
	return fmt.Sprintf("offers:active:%s:%s", strings.ToLower(provider), strings.ToLower(category))
}

func DBKeyOffersPattern() string {
	return "offers:active:*"
}

func DBKeyDashboard(userID int64) string {
	return fmt.Sprintf("dashboard:%d", userID)
}

func DBKeyPlatformStats() string {
	return "admin:platform_stats"
}

func LimitKeyPostback(provider, ip string) string {
	return fmt.Sprintf("limit:postback:%s:%s", strings.ToLower(provider), ip)
}

func LimitKeyPayoutRequest(userID int64) string {
	return fmt.Sprintf("limit:payout:%d", userID)
}

func LimitKeyLogin(login string) string {
	return fmt.Sprintf("limit:login:%s", strings.ToLower(login))
}
