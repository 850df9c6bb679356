package node

import (
	"context"
	"time"
)

// Node is a single independent key-value store taking part in a quorum lock.
type Node interface {
	// TrySetWithExpiry stores value under key with the given ttl only if the
	// key does not exist. It reports whether the value was stored.
	TrySetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only if it currently holds value. It
	// reports whether the key was removed.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// String describes the endpoint for logs and metric labels.
	String() string
}
