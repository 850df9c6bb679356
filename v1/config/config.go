// Package config loads coordinator settings from flags, environment
// variables, .env files and an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-redlock/v1/presets"
	"github.com/mirkobrombin/go-redlock/v1/redlock"
)

// EnvPrefix is prepended to every environment variable, e.g. REDLOCK_NODES.
const EnvPrefix = "redlock"

// Keys recognised in flags, env and config files.
const (
	KeyNodes            = "nodes"
	KeyPassword         = "password"
	KeyDB               = "db"
	KeyPrefix           = "prefix"
	KeyRetryCount       = "retry-count"
	KeyRetryDelay       = "retry-delay"
	KeyDriftFactor      = "drift-factor"
	KeyNodeTimeout      = "node-timeout"
	KeyBreakerThreshold = "breaker-threshold"
	KeyBreakerTimeout   = "breaker-timeout"
	KeyBus              = "bus"
	KeyBusAddr          = "bus-addr"
	KeyKafkaTopic       = "kafka-topic"
)

const (
	DefaultNodeTimeout    = 500 * time.Millisecond
	DefaultBreakerTimeout = 5 * time.Second
)

// Config is the process level configuration of a coordinator.
type Config struct {
	Nodes            []string
	Password         string
	DB               int
	Prefix           string
	RetryCount       int
	RetryDelay       time.Duration
	DriftFactor      float64
	NodeTimeout      time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
	Bus              string
	BusAddr          string
	KafkaTopic       string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyNodes, "localhost:6379")
	v.SetDefault(KeyPrefix, redlock.DefaultPrefix)
	v.SetDefault(KeyRetryCount, redlock.DefaultRetryCount)
	v.SetDefault(KeyRetryDelay, redlock.DefaultRetryDelay)
	v.SetDefault(KeyDriftFactor, redlock.DefaultDriftFactor)
	v.SetDefault(KeyNodeTimeout, DefaultNodeTimeout)
	v.SetDefault(KeyBreakerThreshold, 0)
	v.SetDefault(KeyBreakerTimeout, DefaultBreakerTimeout)
	v.SetDefault(KeyBus, presets.BusNone)
}

// NewViper returns a viper instance reading REDLOCK_* variables, the .env
// files in the working directory and, when file is not empty, that config
// file.
func NewViper(file string) (*viper.Viper, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	return v, nil
}

// Load reads a Config out of v.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Nodes:            splitList(v.GetString(KeyNodes)),
		Password:         v.GetString(KeyPassword),
		DB:               v.GetInt(KeyDB),
		Prefix:           v.GetString(KeyPrefix),
		RetryCount:       v.GetInt(KeyRetryCount),
		RetryDelay:       v.GetDuration(KeyRetryDelay),
		DriftFactor:      v.GetFloat64(KeyDriftFactor),
		NodeTimeout:      v.GetDuration(KeyNodeTimeout),
		BreakerThreshold: v.GetInt(KeyBreakerThreshold),
		BreakerTimeout:   v.GetDuration(KeyBreakerTimeout),
		Bus:              v.GetString(KeyBus),
		BusAddr:          v.GetString(KeyBusAddr),
		KafkaTopic:       v.GetString(KeyKafkaTopic),
	}
	if len(c.Nodes) == 0 {
		return c, fmt.Errorf("config: %s must list at least one address", KeyNodes)
	}
	if c.RetryCount < 0 {
		return c, fmt.Errorf("config: %s must not be negative", KeyRetryCount)
	}
	return c, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LockOptions converts c into coordinator options.
func (c Config) LockOptions() []redlock.Option {
	return []redlock.Option{
		redlock.WithPrefix(c.Prefix),
		redlock.WithRetryCount(c.RetryCount),
		redlock.WithRetryDelay(c.RetryDelay),
		redlock.WithDriftFactor(c.DriftFactor),
	}
}

// RedisOptions converts c into the options used to dial the nodes.
func (c Config) RedisOptions() presets.RedisOptions {
	return presets.RedisOptions{
		Addrs:            c.Nodes,
		Password:         c.Password,
		DB:               c.DB,
		Timeout:          c.NodeTimeout,
		BreakerThreshold: c.BreakerThreshold,
		BreakerTimeout:   c.BreakerTimeout,
	}
}

// BusOptions converts c into event bus options.
func (c Config) BusOptions() presets.BusOptions {
	return presets.BusOptions{
		Kind:       c.Bus,
		Addr:       c.BusAddr,
		Brokers:    splitList(c.BusAddr),
		KafkaTopic: c.KafkaTopic,
	}
}
