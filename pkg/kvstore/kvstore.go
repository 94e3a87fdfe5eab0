package kvstore

import (
	"context"
)

// Store is a small durable key-value store. Put and Delete are atomic: after
// a crash a key is either fully present or absent.
type Store interface {
	Put(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, dst any) (bool, error)
	Delete(ctx context.Context, key string) error
}
