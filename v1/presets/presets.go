package presets

import (
	"errors"
	"fmt"
	"io"
	"time"

	sarama "github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
	"github.com/mirkobrombin/go-redlock/v1/node"
	"github.com/mirkobrombin/go-redlock/v1/redlock"
	"github.com/mirkobrombin/go-redlock/v1/syncbus"
)

// RedisOptions configures the connections to a set of independent Redis
// servers. Each address becomes one vote.
type RedisOptions struct {
	Addrs    []string
	Password string
	DB       int
	// Timeout bounds each call to a single server.
	Timeout time.Duration
	// BreakerThreshold enables a circuit breaker per server when positive.
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Redis is a Coordinator together with the Redis clients it owns.
type Redis struct {
	*redlock.Coordinator
	clients []*redis.Client
}

// Close closes every Redis client.
func (r *Redis) Close() error {
	var errs []error
	for _, c := range r.clients {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewRedisNodes dials one client per address and wraps each in a node.
func NewRedisNodes(opts RedisOptions) ([]node.Node, []*redis.Client) {
	nodes := make([]node.Node, 0, len(opts.Addrs))
	clients := make([]*redis.Client, 0, len(opts.Addrs))
	for _, addr := range opts.Addrs {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		var nodeOpts []node.RedisOption
		if opts.Timeout > 0 {
			nodeOpts = append(nodeOpts, node.WithTimeout(opts.Timeout))
		}
		var n node.Node = node.NewRedis(client, nodeOpts...)
		if opts.BreakerThreshold > 0 {
			n = node.NewCircuitBreaker(n, opts.BreakerThreshold, opts.BreakerTimeout)
		}
		nodes = append(nodes, n)
		clients = append(clients, client)
	}
	return nodes, clients
}

// NewRedis creates a Coordinator over the given Redis servers.
func NewRedis(opts RedisOptions, lockOpts ...redlock.Option) (*Redis, error) {
	nodes, clients := NewRedisNodes(opts)
	c, err := redlock.New(nodes, lockOpts...)
	if err != nil {
		for _, cl := range clients {
			_ = cl.Close()
		}
		return nil, err
	}
	return &Redis{Coordinator: c, clients: clients}, nil
}

// NewInMemoryStandalone creates a Coordinator over n in-memory nodes. Useful
// for local development and tests; it offers no protection across processes.
func NewInMemoryStandalone(n int, lockOpts ...redlock.Option) (*redlock.Coordinator, []*node.InMemory, error) {
	if n <= 0 {
		return nil, nil, rlerrors.ErrNoNodes
	}
	mems := make([]*node.InMemory, n)
	nodes := make([]node.Node, n)
	for i := range mems {
		mems[i] = node.NewInMemory(node.WithMemoryName(fmt.Sprintf("memory-%d", i)))
		nodes[i] = mems[i]
	}
	c, err := redlock.New(nodes, lockOpts...)
	if err != nil {
		return nil, nil, err
	}
	return c, mems, nil
}

// Bus kinds understood by NewBus.
const (
	BusNone   = "none"
	BusMemory = "memory"
	BusRedis  = "redis"
	BusNATS   = "nats"
	BusKafka  = "kafka"
)

// BusOptions selects and configures the event bus.
type BusOptions struct {
	Kind string
	// Addr is a Redis address or a NATS URL depending on Kind.
	Addr       string
	Brokers    []string
	KafkaTopic string
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var nopCloser = closerFunc(func() error { return nil })

// NewBus builds the configured Bus. It returns a nil Bus for BusNone.
func NewBus(opts BusOptions) (syncbus.Bus, io.Closer, error) {
	switch opts.Kind {
	case "", BusNone:
		return nil, nopCloser, nil
	case BusMemory:
		return syncbus.NewInMemoryBus(), nopCloser, nil
	case BusRedis:
		client := redis.NewClient(&redis.Options{Addr: opts.Addr})
		bus := syncbus.NewRedisBus(client)
		return bus, closerFunc(func() error {
			_ = bus.Close()
			return client.Close()
		}), nil
	case BusNATS:
		conn, err := nats.Connect(opts.Addr)
		if err != nil {
			return nil, nil, err
		}
		return syncbus.NewNATSBus(conn), closerFunc(func() error {
			conn.Close()
			return nil
		}), nil
	case BusKafka:
		bus, err := syncbus.NewKafkaBus(opts.Brokers, opts.KafkaTopic, sarama.NewConfig())
		if err != nil {
			return nil, nil, err
		}
		return bus, bus, nil
	}
	return nil, nil, fmt.Errorf("presets: unknown bus %q", opts.Kind)
}
