package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// AcquireVerifyLock takes the per-booking settlement verification lock. The
// store CAS is still authoritative; the lock just short-circuits stampedes.
func (c *Cache) AcquireVerifyLock(ctx context.Context, bookingID uuid.UUID, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "settle:"+bookingID.String(), "1", ttl)
	return res.Val(), res.Err()
}

func (c *Cache) ReleaseVerifyLock(ctx context.Context, bookingID uuid.UUID) error {
	return c.client.Del(ctx, "settle:"+bookingID.String()).Err()
}
