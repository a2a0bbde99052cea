package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLeaseHeld is returned by Acquire when another worker owns the campaign.
var ErrLeaseHeld = errors.New("lease held by another worker")

// ErrLeaseLost is returned by Renew when the key expired or changed owner.
var ErrLeaseLost = errors.New("lease lost")

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Leaser hands out per-campaign leases so that concurrent workers process
// disjoint campaigns.
type Leaser struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewLeaser creates a leaser. Keys are prefix + campaign id.
func NewLeaser(c *Client, prefix string, ttl time.Duration, logger *zap.Logger) *Leaser {
	return &Leaser{rdb: c.rdb, prefix: prefix, ttl: ttl, logger: logger}
}

// Lease is one held campaign lease.
type Lease struct {
	leaser *Leaser
	key    string
	token  string
}

// Acquire takes the lease for a campaign or returns ErrLeaseHeld.
func (l *Leaser) Acquire(ctx context.Context, campaignID uuid.UUID) (*Lease, error) {
	key := l.prefix + campaignID.String()
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &Lease{leaser: l, key: key, token: token}, nil
}

// Key is the redis key backing the lease.
func (l *Lease) Key() string { return l.key }

// Renew extends the lease by the leaser's TTL if it is still ours.
func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.leaser.rdb, []string{l.key}, l.token, l.leaser.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renewing lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release deletes the lease if it is still ours. Releasing a lost lease is
// not an error.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.leaser.rdb, []string{l.key}, l.token).Int(); err != nil {
		return fmt.Errorf("releasing lease %s: %w", l.key, err)
	}
	return nil
}

// KeepAlive renews the lease every TTL/3 until ctx is done. It returns
// ErrLeaseLost as soon as a renewal finds the lease gone, and nil when ctx
// ends.
func (l *Lease) KeepAlive(ctx context.Context) error {
	interval := l.leaser.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := l.Renew(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrLeaseLost):
				return err
			case ctx.Err() != nil:
				return nil
			default:
				// transient; the next tick retries before the TTL runs out
				l.leaser.logger.Warn("lease renewal failed", zap.String("key", l.key), zap.Error(err))
			}
		}
	}
}
