package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-redlock/v1/config"
	"github.com/mirkobrombin/go-redlock/v1/metrics"
	"github.com/mirkobrombin/go-redlock/v1/presets"
	"github.com/mirkobrombin/go-redlock/v1/redlock"
)

const Version = "0.1.0"

var (
	v       *viper.Viper
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "redlock",
		Short: "distributed locks over independent Redis servers",
		Long: fmt.Sprintf(`redlock (v%s)

Acquire and release quorum locks on a set of independent Redis servers.
Every flag can also be set through a REDLOCK_* environment variable,
a .env file or a config file.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of redlock",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "redlock v%s\n", Version)
		},
	}
)

func init() {
	rootCmd.AddCommand(versionCmd, acquireCmd, releaseCmd, runCmd, benchCmd)

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	f.String(config.KeyNodes, "localhost:6379", "comma separated Redis addresses, one per node")
	f.String(config.KeyPassword, "", "Redis password")
	f.Int(config.KeyDB, 0, "Redis database")
	f.String(config.KeyPrefix, redlock.DefaultPrefix, "namespace prepended to every resource")
	f.Int(config.KeyRetryCount, redlock.DefaultRetryCount, "extra rounds after the first one")
	f.Duration(config.KeyRetryDelay, redlock.DefaultRetryDelay, "upper bound of the pause between rounds")
	f.Float64(config.KeyDriftFactor, redlock.DefaultDriftFactor, "fraction of the ttl reserved for clock drift")
	f.Duration(config.KeyNodeTimeout, config.DefaultNodeTimeout, "timeout of a single node call")
	f.Int(config.KeyBreakerThreshold, 0, "consecutive failures before a node is skipped (0 disables)")
	f.Duration(config.KeyBreakerTimeout, config.DefaultBreakerTimeout, "how long a failing node is skipped")
	f.String(config.KeyBus, presets.BusNone, "event bus (none, redis, nats, kafka)")
	f.String(config.KeyBusAddr, "", "bus address, comma separated brokers for kafka")
	f.String(config.KeyKafkaTopic, "", "kafka topic for lock events")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.Bool("trace", false, "print OpenTelemetry spans to stderr")
	f.Bool("verbose", false, "log node failures at debug level")
}

// loadConfig builds the viper instance and binds the flags of cmd to it, so
// that an explicit flag wins over env and files.
func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	v, err = config.NewViper(cfgFile)
	if err != nil {
		return err
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	level := slog.LevelInfo
	if v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// session is everything a command needs to talk to the nodes.
type session struct {
	*presets.Redis
	closers []io.Closer
}

func (s *session) Close() error {
	return errors.Join(s.Redis.Close(), s.closeAll())
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	s := &session{}
	opts := cfg.LockOptions()

	if v.GetBool("trace") {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		s.closers = append(s.closers, closeFunc(func() error {
			return tp.Shutdown(context.WithoutCancel(ctx))
		}))
	}

	if addr := v.GetString("metrics-addr"); addr != "" {
		reg := metrics.NewRegistry()
		opts = append(opts, redlock.WithMetrics(reg))
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("redlock: metrics server stopped", "error", err)
			}
		}()
		s.closers = append(s.closers, srv)
	}

	bus, busCloser, err := presets.NewBus(cfg.BusOptions())
	if err != nil {
		_ = s.closeAll()
		return nil, err
	}
	s.closers = append(s.closers, busCloser)
	if bus != nil {
		opts = append(opts, redlock.WithBus(bus))
	}

	s.Redis, err = presets.NewRedis(cfg.RedisOptions(), opts...)
	if err != nil {
		_ = s.closeAll()
		return nil, err
	}
	return s, nil
}

func (s *session) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }
