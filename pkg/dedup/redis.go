package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "creatye:dedup:"

// allowScript keeps, per pair, the receive time of the message that last started an
// execution. KEYS[1] pair key; ARGV receivedAt ms, window ms, ttl ms.
var allowScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
local at = tonumber(ARGV[1])
if last then
	local gap = at - tonumber(last)
	if gap < 0 then gap = -gap end
	if gap < tonumber(ARGV[2]) then
		return 0
	end
	if at < tonumber(last) then
		return 1
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// releaseScript deletes the pair key only while it still holds the given receive time.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisGuard keeps one expiring key per (automation, sender) pair holding the receive
// time of the last message that started an execution.
type RedisGuard struct {
	client redis.UniversalClient
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisGuard connects to the Redis server at redisURL and verifies it answers.
func NewRedisGuard(ctx context.Context, redisURL string, window time.Duration, logger *slog.Logger) (*RedisGuard, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger = logger.With("module", "dedup", "guard", "redis")
	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return &RedisGuard{client: client, window: window, logger: logger, now: time.Now}, nil
}

// Allow records receivedAt for the pair unless a message received within the window of
// it already started an execution. The key outlives the window by the dispatch lag so
// that later messages of the same backlog still see it.
func (g *RedisGuard) Allow(ctx context.Context, automationID, senderID string, receivedAt time.Time) (bool, error) {
	ttl := g.window
	if lag := g.now().Sub(receivedAt); lag > 0 {
		ttl += lag
	}

	allowed, err := allowScript.Run(ctx, g.client, []string{pairKey(automationID, senderID)},
		receivedAt.UnixMilli(), g.window.Milliseconds(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}

	if allowed == 0 {
		g.logger.DebugContext(ctx, "suppressing duplicate execution",
			"automation_id", automationID,
			"sender_id", senderID)

		return false, nil
	}

	return true, nil
}

func (g *RedisGuard) Release(ctx context.Context, automationID, senderID string, receivedAt time.Time) error {
	err := releaseScript.Run(ctx, g.client, []string{pairKey(automationID, senderID)},
		strconv.FormatInt(receivedAt.UnixMilli(), 10)).Err()
	if err != nil {
		return fmt.Errorf("failed to release dedup key: %w", err)
	}

	return nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}

func pairKey(automationID, senderID string) string {
	return keyPrefix + automationID + ":" + senderID
}
