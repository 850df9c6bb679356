package redlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
	"github.com/mirkobrombin/go-redlock/v1/metrics"
	"github.com/mirkobrombin/go-redlock/v1/node"
	"github.com/mirkobrombin/go-redlock/v1/syncbus"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-redlock/v1/redlock")

// Storage nodes expire keys with 1ms precision, plus 1ms of minimum drift
// for small ttls.
const driftFloor = 2 * time.Millisecond

const (
	opSet    = "set"
	opDelete = "delete"
)

// Lock is the proof of a successful acquisition.
type Lock struct {
	Resource string
	Token    string
	// Validity is the time left on the lock when Acquire returned. It is
	// never refreshed.
	Validity time.Duration
	// AcquiredAt is the instant Validity was computed.
	AcquiredAt time.Time
}

// Deadline returns the instant after which the lock must be considered lost.
func (l *Lock) Deadline() time.Time {
	return l.AcquiredAt.Add(l.Validity)
}

// Expired reports whether the validity window has passed.
func (l *Lock) Expired() bool {
	return !time.Now().Before(l.Deadline())
}

// Coordinator acquires and releases locks on a fixed set of storage nodes.
// It is safe for concurrent use; mutual exclusion between holders comes only
// from the nodes, never from in-process state.
type Coordinator struct {
	nodes       []node.Node
	quorum      int
	prefix      string
	retryCount  int
	retryDelay  time.Duration
	driftFactor float64

	bus     syncbus.Bus
	metrics *metrics.Collectors
	logger  *slog.Logger
	id      string
}

// Quorum returns the strict majority of n nodes.
func Quorum(n int) int {
	return n/2 + 1
}

// New returns a Coordinator over nodes. The slice is copied; at least one
// node is required.
func New(nodes []node.Node, opts ...Option) (*Coordinator, error) {
	if len(nodes) == 0 {
		return nil, rlerrors.ErrNoNodes
	}
	for i, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("%w: node %d is nil", rlerrors.ErrNoNodes, i)
		}
	}
	c := &Coordinator{
		nodes:       append([]node.Node(nil), nodes...),
		quorum:      Quorum(len(nodes)),
		prefix:      DefaultPrefix,
		retryCount:  DefaultRetryCount,
		retryDelay:  DefaultRetryDelay,
		driftFactor: DefaultDriftFactor,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retryCount < 0 {
		return nil, rlerrors.ErrInvalidRetry
	}
	if c.retryDelay < 0 {
		return nil, fmt.Errorf("%w: negative retry delay %v", rlerrors.ErrInvalidRetry, c.retryDelay)
	}
	if c.driftFactor < 0 || c.driftFactor >= 1 {
		return nil, rlerrors.ErrInvalidDriftFactor
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	return c, nil
}

// Quorum returns the number of nodes that must accept a lock.
func (c *Coordinator) Quorum() int { return c.quorum }

// Nodes returns the number of configured nodes.
func (c *Coordinator) Nodes() int { return len(c.nodes) }

// ID returns the owner id published with lock events.
func (c *Coordinator) ID() string { return c.id }

// Acquire tries to lock resource for ttl. It runs up to retry+1 rounds, each
// with a fresh token, and returns rlerrors.ErrNotAcquired when none of them
// reached quorum with a positive validity. Cancelling ctx aborts the pause
// between rounds; once ctx is done the call returns ctx.Err().
func (c *Coordinator) Acquire(ctx context.Context, resource string, ttl time.Duration, opts ...AcquireOption) (*Lock, error) {
	o := acquireOptions{retry: c.retryCount}
	for _, opt := range opts {
		opt(&o)
	}
	if err := c.validate(resource, ttl, o.retry); err != nil {
		c.countAcquire(metrics.ResultRejected)
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Coordinator.Acquire", trace.WithAttributes(
		attribute.String("redlock.resource", resource),
		attribute.Int64("redlock.ttl_ms", ttl.Milliseconds()),
		attribute.Int("redlock.quorum", c.quorum),
	))
	defer span.End()

	start := time.Now()
	key := c.prefix + resource
	attempts := o.retry + 1
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			c.observe(start, attempt-1, metrics.ResultCancelled)
			return nil, err
		}
		lock, err := c.attempt(ctx, key, resource, ttl)
		if err != nil {
			c.observe(start, attempt, metrics.ResultFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if lock != nil {
			c.observe(start, attempt, metrics.ResultAcquired)
			span.SetAttributes(
				attribute.Int("redlock.attempts", attempt),
				attribute.Int64("redlock.validity_ms", lock.Validity.Milliseconds()),
			)
			c.publish(ctx, syncbus.KindAcquired, resource)
			return lock, nil
		}
		if err := ctx.Err(); err != nil {
			c.observe(start, attempt, metrics.ResultCancelled)
			return nil, err
		}
		if attempt >= attempts {
			c.observe(start, attempt, metrics.ResultContended)
			span.SetAttributes(attribute.Int("redlock.attempts", attempt))
			return nil, rlerrors.ErrNotAcquired
		}
		if err := c.wait(ctx, c.jitter(), nil); err != nil {
			c.observe(start, attempt, metrics.ResultCancelled)
			return nil, err
		}
	}
}

func (c *Coordinator) validate(resource string, ttl time.Duration, retry int) error {
	switch {
	case resource == "":
		return rlerrors.ErrEmptyResource
	case ttl <= 0:
		return rlerrors.ErrInvalidTTL
	case retry < 0:
		return rlerrors.ErrInvalidRetry
	}
	return nil
}

// attempt runs one quorum round. It returns a nil Lock when the round failed;
// in that case every node has been asked to drop this round's token.
func (c *Coordinator) attempt(ctx context.Context, key, resource string, ttl time.Duration) (*Lock, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("redlock: generate token: %w", err)
	}

	begin := time.Now()
	hits := c.fanOut(ctx, opSet, func(ctx context.Context, n node.Node) (bool, error) {
		return n.TrySetWithExpiry(ctx, key, token, ttl)
	})
	now := time.Now()

	drift := time.Duration(float64(ttl)*c.driftFactor) + driftFloor
	validity := ttl - now.Sub(begin) - drift
	if hits >= c.quorum && validity > 0 {
		return &Lock{Resource: resource, Token: token, Validity: validity, AcquiredAt: now}, nil
	}

	c.logger.Debug("redlock: round failed",
		"resource", resource, "hits", hits, "quorum", c.quorum, "validity", validity)
	c.unlockAll(context.WithoutCancel(ctx), key, token)
	return nil, nil
}

// fanOut calls fn on every node in parallel and returns how many reported
// success. Errors are logged and count as misses.
func (c *Coordinator) fanOut(ctx context.Context, op string, fn func(context.Context, node.Node) (bool, error)) int {
	var hits atomic.Int32
	var g errgroup.Group
	for _, n := range c.nodes {
		n := n
		g.Go(func() error {
			ok, err := fn(ctx, n)
			if err != nil {
				c.nodeFailed(n, op, err)
				return nil
			}
			if ok {
				hits.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(hits.Load())
}

func (c *Coordinator) unlockAll(ctx context.Context, key, token string) int {
	return c.fanOut(ctx, opDelete, func(ctx context.Context, n node.Node) (bool, error) {
		return n.CompareAndDelete(ctx, key, token)
	})
}

func (c *Coordinator) nodeFailed(n node.Node, op string, err error) {
	if c.metrics != nil {
		c.metrics.NodeErrors.WithLabelValues(n.String(), op).Inc()
	}
	if errors.Is(err, node.ErrCircuitOpen) {
		c.logger.Debug("redlock: node skipped", "node", n.String(), "op", op)
		return
	}
	c.logger.Warn("redlock: node call failed", "node", n.String(), "op", op, "error", err)
}

// Release drops lock from every node that still holds its token. A nil or
// incomplete lock is ignored. The outcome is not reported: released, already
// expired and taken over by another owner are all safe for the caller.
func (c *Coordinator) Release(ctx context.Context, lock *Lock) {
	if lock == nil || lock.Resource == "" || lock.Token == "" {
		return
	}
	ctx, span := tracer.Start(ctx, "Coordinator.Release", trace.WithAttributes(
		attribute.String("redlock.resource", lock.Resource),
	))
	defer span.End()

	removed := c.unlockAll(ctx, c.prefix+lock.Resource, lock.Token)
	span.SetAttributes(attribute.Int("redlock.removed", removed))
	if c.metrics != nil {
		c.metrics.Release.Inc()
	}
	c.publish(ctx, syncbus.KindReleased, lock.Resource)
}

// AcquireWait keeps trying to lock resource until it succeeds or ctx is done.
// Each round is a single quorum attempt. With a Bus configured the pause
// between rounds ends early when another coordinator releases the resource.
func (c *Coordinator) AcquireWait(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	if err := c.validate(resource, ttl, 0); err != nil {
		return nil, err
	}
	var wake <-chan syncbus.Event
	if c.bus != nil {
		ch, err := c.bus.Subscribe(ctx, resource)
		if err != nil {
			c.logger.Warn("redlock: bus subscribe failed, falling back to polling", "resource", resource, "error", err)
		} else {
			wake = ch
			defer func() { _ = c.bus.Unsubscribe(context.Background(), resource, ch) }()
		}
	}
	for {
		lock, err := c.Acquire(ctx, resource, ttl, WithRetry(0))
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, rlerrors.ErrNotAcquired) {
			return nil, err
		}
		if err := c.wait(ctx, c.jitter(), wake); err != nil {
			return nil, err
		}
	}
}

// wait pauses for d, until a release event arrives on wake, or until ctx is
// done, whichever comes first.
func (c *Coordinator) wait(ctx context.Context, d time.Duration, wake <-chan syncbus.Event) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case ev, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			if ev.Kind == syncbus.KindReleased {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// jitter returns a pause drawn uniformly from [retryDelay/2, retryDelay] so
// that colliding coordinators spread out their retries.
func (c *Coordinator) jitter() time.Duration {
	return jitter(c.retryDelay)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d-half)+1))
}

func (c *Coordinator) publish(ctx context.Context, kind syncbus.Kind, resource string) {
	if c.bus == nil {
		return
	}
	ev := syncbus.Event{Kind: kind, Resource: resource, Owner: c.id, At: time.Now()}
	if err := c.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("redlock: publish lock event failed", "resource", resource, "event", kind.String(), "error", err)
	}
}

func (c *Coordinator) countAcquire(result string) {
	if c.metrics != nil {
		c.metrics.Acquire.WithLabelValues(result).Inc()
	}
}

func (c *Coordinator) observe(start time.Time, attempts int, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Acquire.WithLabelValues(result).Inc()
	c.metrics.AcquireDuration.Observe(time.Since(start).Seconds())
	c.metrics.Attempts.Observe(float64(attempts))
}
