package redlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mirkobrombin/go-redlock/v1/node"
)

var errUnreachable = errors.New("connection refused")

// slowNode delays every call to the wrapped node.
type slowNode struct {
	node.Node
	delay time.Duration
}

func (s *slowNode) TrySetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	time.Sleep(s.delay)
	return s.Node.TrySetWithExpiry(ctx, key, value, ttl)
}

func (s *slowNode) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	time.Sleep(s.delay)
	return s.Node.CompareAndDelete(ctx, key, value)
}

// downNode fails every call.
type downNode struct{ name string }

func (d downNode) TrySetWithExpiry(context.Context, string, string, time.Duration) (bool, error) {
	return false, errUnreachable
}

func (d downNode) CompareAndDelete(context.Context, string, string) (bool, error) {
	return false, errUnreachable
}

func (d downNode) String() string { return d.name }

// recordingNode remembers every token it was asked to store.
type recordingNode struct {
	node.Node
	mu     sync.Mutex
	sets   []string
	delete []string
}

func (r *recordingNode) TrySetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	r.sets = append(r.sets, value)
	r.mu.Unlock()
	return r.Node.TrySetWithExpiry(ctx, key, value, ttl)
}

func (r *recordingNode) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	r.mu.Lock()
	r.delete = append(r.delete, value)
	r.mu.Unlock()
	return r.Node.CompareAndDelete(ctx, key, value)
}

func (r *recordingNode) calls() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sets...), append([]string(nil), r.delete...)
}

// lateNode stores the value but reports a timeout, like a request that the
// server applied after the client gave up on it.
type lateNode struct {
	node.Node
}

func (l lateNode) TrySetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	_, _ = l.Node.TrySetWithExpiry(ctx, key, value, ttl)
	return false, context.DeadlineExceeded
}

func memoryNodes(n int) ([]node.Node, []*node.InMemory) {
	nodes := make([]node.Node, n)
	mems := make([]*node.InMemory, n)
	for i := range nodes {
		mems[i] = node.NewInMemory()
		nodes[i] = mems[i]
	}
	return nodes, mems
}
