package redis_store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const PAYOUT_SYNC_REPORT_TTL = 7 * 24 * time.Hour

func dbKeyPayoutSyncReport() string {
	return "payout_sync:last_report"
}

func dbKeyRailToken(rail string) string {
	return "rail:token:" + rail
}

// PayoutSyncReport summarises one pass of the payout status poller.
type PayoutSyncReport struct {
	StartedAt    time.Time `msgpack:"started_at" json:"started_at"`
	FinishedAt   time.Time `msgpack:"finished_at" json:"finished_at"`
	Checked      int       `msgpack:"checked" json:"checked"`
	Completed    int       `msgpack:"completed" json:"completed"`
	Released     int       `msgpack:"released" json:"released"`
	Unchanged    int       `msgpack:"unchanged" json:"unchanged"`
	Errors       int       `msgpack:"errors" json:"errors"`
	StalePending int       `msgpack:"stale_pending" json:"stale_pending"`
}

func SavePayoutSyncReport(ctx context.Context, cmd redis.Cmdable, v *PayoutSyncReport) error {
	if v == nil {
		return errors.New("invalid report")
	}

	b, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}

	return cmd.Set(ctx, dbKeyPayoutSyncReport(), b, PAYOUT_SYNC_REPORT_TTL).Err()
}

// GetPayoutSyncReport returns nil without error when no pass has been recorded.
func GetPayoutSyncReport(ctx context.Context, cmd redis.Cmdable) (*PayoutSyncReport, error) {
	b, err := cmd.Get(ctx, dbKeyPayoutSyncReport()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var v PayoutSyncReport
	err = msgpack.Unmarshal(b, &v)
	return &v, err
}

// SetRailToken shares a rail access token between the api and cron binaries.
func SetRailToken(ctx context.Context, cmd redis.Cmdable, rail string, token string, ttl time.Duration) error {
	return cmd.Set(ctx, dbKeyRailToken(rail), token, ttl).Err()
}

var dropRailTokenScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// DropRailToken removes the shared token only while it still equals token,
// so a fresh token written by another process survives.
func DropRailToken(ctx context.Context, cmd redis.Scripter, rail string, token string) error {
	return dropRailTokenScript.Run(ctx, cmd, []string{dbKeyRailToken(rail)}, token).Err()
}

func GetRailToken(ctx context.Context, cmd redis.Cmdable, rail string) (string, error) {
	token, err := cmd.Get(ctx, dbKeyRailToken(rail)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}
