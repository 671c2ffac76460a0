package pricing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisFeed reads oracle quotes from a Redis hash per feed reference,
// written by an external market poller. Fields: price (decimal string) and
// updated_at (unix seconds). Staleness is judged against updated_at, never
// against key TTL.
type RedisFeed struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisFeed creates a feed over rdb. Keys are prefix + ref.
func NewRedisFeed(rdb *redis.Client, prefix string) *RedisFeed {
	return &RedisFeed{rdb: rdb, prefix: prefix}
}

func (f *RedisFeed) key(ref string) string {
	return f.prefix + ref
}

// LatestQuote returns the most recent reading for ref.
func (f *RedisFeed) LatestQuote(ctx context.Context, ref string) (Quote, error) {
	fields, err := f.rdb.HGetAll(ctx, f.key(ref)).Result()
	if err != nil {
		return Quote{}, fmt.Errorf("read feed %s: %w", ref, err)
	}
	if len(fields) == 0 {
		return Quote{}, errors.New("no reading published")
	}

	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return Quote{}, fmt.Errorf("malformed price %q: %w", fields["price"], err)
	}
	updated, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("malformed updated_at %q: %w", fields["updated_at"], err)
	}

	return Quote{Price: price, UpdatedAt: time.Unix(updated, 0)}, nil
}

// Live reports whether the feed has a published reading at all.
func (f *RedisFeed) Live(ctx context.Context, ref string) bool {
	n, err := f.rdb.Exists(ctx, f.key(ref)).Result()
	return err == nil && n > 0
}
