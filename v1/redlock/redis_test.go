package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
	"github.com/mirkobrombin/go-redlock/v1/node"
)

func newRedisCluster(t *testing.T, n int) ([]node.Node, []*miniredis.Miniredis) {
	t.Helper()
	nodes := make([]node.Node, n)
	servers := make([]*miniredis.Miniredis, n)
	for i := 0; i < n; i++ {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis run: %v", err)
		}
		client := redis.NewClient(&redis.Options{
			Addr:        mr.Addr(),
			MaxRetries:  -1,
			DialTimeout: 100 * time.Millisecond,
		})
		servers[i] = mr
		nodes[i] = node.NewRedis(client, node.WithTimeout(200*time.Millisecond))
		t.Cleanup(func() {
			_ = client.Close()
			mr.Close()
		})
	}
	return nodes, servers
}

func TestRedisClusterLockLifecycle(t *testing.T) {
	nodes, servers := newRedisCluster(t, 3)
	c := newCoordinator(t, nodes)
	ctx := context.Background()

	lock, err := c.Acquire(ctx, "test", 10*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	for _, mr := range servers {
		if v, _ := mr.Get("redLock:test"); v != lock.Token {
			t.Fatalf("server %s holds %q", mr.Addr(), v)
		}
	}
	if _, err := c.Acquire(ctx, "test", 10*time.Second, WithRetry(1)); !errors.Is(err, rlerrors.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}

	for _, mr := range servers {
		mr.FastForward(11 * time.Second)
	}
	lock, err = c.Acquire(ctx, "test", 20*time.Second)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	c.Release(ctx, lock)
	for _, mr := range servers {
		if mr.Exists("redLock:test") {
			t.Fatalf("server %s kept the key after release", mr.Addr())
		}
	}
	if _, err := c.Acquire(ctx, "test", 5*time.Second, WithRetry(50)); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestRedisClusterSurvivesMinorityOutage(t *testing.T) {
	nodes, servers := newRedisCluster(t, 3)
	c := newCoordinator(t, nodes)
	ctx := context.Background()

	servers[0].Close()
	lock, err := c.Acquire(ctx, "res", time.Minute, WithRetry(0))
	if err != nil {
		t.Fatalf("acquire with 2 of 3 servers: %v", err)
	}
	c.Release(ctx, lock)

	servers[1].Close()
	if _, err := c.Acquire(ctx, "res", time.Minute, WithRetry(1)); !errors.Is(err, rlerrors.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired with 1 of 3 servers, got %v", err)
	}
	if servers[2].Exists("redLock:res") {
		t.Fatal("surviving server kept a partial lock")
	}
}
