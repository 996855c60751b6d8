package redis

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/logger"

	"github.com/go-redis/redis/v8"
)

const defaultSlotLockTTL = 5 * time.Second

// SlotLock serialises stream authorizations for one (user, event) pair so the
// active-session count and the insert that follows are not interleaved.
type SlotLock struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewSlotLock(client *redis.Client, ttl time.Duration, log *logger.Logger) *SlotLock {
	if ttl <= 0 {
		ttl = defaultSlotLockTTL
	}
	return &SlotLock{Client: client, TTL: ttl, Logger: log}
}

func slotKey(userID, eventID string) string {
	return fmt.Sprintf("stream_slot:%s:%s", userID, eventID)
}

// Acquire takes the slot for owner; false means someone else holds it.
func (l *SlotLock) Acquire(ctx context.Context, userID, eventID, owner string) (bool, error) {
	return l.Client.SetNX(ctx, slotKey(userID, eventID), owner, l.TTL).Result()
}

// releaseScript deletes the key only while it still holds the caller's owner value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release drops the slot only if owner still holds it.
func (l *SlotLock) Release(ctx context.Context, userID, eventID, owner string) error {
	key := slotKey(userID, eventID)
	n, err := releaseScript.Run(ctx, l.Client, []string{key}, owner).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		l.Logger.Debug("REDIS", fmt.Sprintf("slot %s no longer held by %s, not releasing", key, owner))
	}
	return nil
}

func (l *SlotLock) held(ctx context.Context, userID, eventID string) (bool, error) {
	n, err := l.Client.Exists(ctx, slotKey(userID, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
