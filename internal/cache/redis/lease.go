package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another process holds the lease.
var ErrLeaseHeld = errors.New("lease held by another instance")

// releaseLua deletes the key only if it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends the TTL only if the key still holds the caller's token.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

var (
	releaseScript = redis.NewScript(releaseLua)
	renewScript   = redis.NewScript(renewLua)
)

// Lease is an exclusive, self-renewing claim on a key. Risk and position
// state live in memory, so two processes trading one wallet would each
// enforce their own daily limits; the lease prevents that.
type Lease struct {
	rdb    *redis.Client
	key    string
	token  string
	ttl    time.Duration
	logger *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	lostOnce sync.Once
	lost     chan struct{}
}

func leaseKey(name string) string {
	return keyPrefix + "lease:" + name
}

// AcquireLease claims name for ttl and renews it every ttl/3 until Release.
// It returns ErrLeaseHeld when another holder owns it.
func AcquireLease(ctx context.Context, c *Client, name string, ttl time.Duration, logger *slog.Logger) (*Lease, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l := &Lease{
		rdb:    c.rdb,
		key:    leaseKey(name),
		token:  uuid.NewString(),
		ttl:    ttl,
		logger: logger.With(slog.String("component", "lease"), slog.String("lease", name)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}

	ok, err := l.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", name, ErrLeaseHeld)
	}

	go l.renewLoop()
	return l, nil
}

// Lost is closed when a renewal finds the lease taken over or expired.
func (l *Lease) Lost() <-chan struct{} { return l.lost }

func (l *Lease) renewLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.logger.Warn("lease: renew failed", slog.String("error", err.Error()))
				continue
			}
			if n == 0 {
				l.logger.Error("lease: lost")
				l.lostOnce.Do(func() { close(l.lost) })
				return
			}
		}
	}
}

// Release stops renewal and deletes the key if still owned. It is safe to
// call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
}
