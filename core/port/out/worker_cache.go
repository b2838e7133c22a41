package out

import (
	"context"
	"time"
)

// Cache defines the outbound port for caching.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// SetNX claims key for ttl and reports whether this caller won it.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
