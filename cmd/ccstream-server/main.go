// Command ccstream-server accepts caption extraction clients, checks their
// password and relays each client's header and caption stream to an output.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-ccstream/attemptstore"
	"github.com/cyberinferno/go-ccstream/config"
	"github.com/cyberinferno/go-ccstream/logger"
	"github.com/cyberinferno/go-ccstream/metrics"
	"github.com/cyberinferno/go-ccstream/streamserver"
)

const serviceName = "ccstream-server"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

type serverFlags struct {
	configPath  string
	port        string
	password    string
	output      string
	metricsAddr string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	var f serverFlags

	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "Receive caption streams from ccstream clients",
		Long: `ccstream-server listens on all interfaces (port 2048 by default), asks
clients for the shared password when one is configured, and relays every
authenticated client's binary header and caption payload to --output.
Clients are served one at a time.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(f.configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port = f.port
			}
			if flags.Changed("password") {
				cfg.Password = f.password
			}
			if flags.Changed("output") {
				cfg.Output = f.output
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = f.metricsAddr
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = f.logLevel
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "TOML config file")
	cmd.Flags().StringVarP(&f.port, "port", "p", "", "listening port (default 2048)")
	cmd.Flags().StringVar(&f.password, "password", "", "shared password clients must send (env "+config.EnvPassword+")")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", `relay streams to this file, "-" for stdout (default discard)`)
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn, error or disabled")

	return cmd
}

func run(ctx context.Context, cfg config.ServerConfig) error {
	if cfg.Output == "-" {
		cfg.Log.Stderr = true
	}

	log, err := logger.New(cfg.Log, serviceName)
	if err != nil {
		return err
	}
	defer log.Close()

	attempts, closeStore := newAttemptStore(cfg)
	defer func() { _ = closeStore() }()

	out, closeOut, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}
	defer func() { _ = closeOut() }()

	var handler streamserver.StreamHandler = streamserver.DiscardHandler{}
	if out != nil {
		handler = streamserver.NewCopyHandler(out)
	}

	srv := streamserver.New(cfg.StreamServer(), log, attempts, handler)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Serve(gctx)
		if errors.Is(err, streamserver.ErrServerClosed) {
			return nil
		}

		return err
	})

	if cfg.MetricsAddr != "" {
		metrics.RegisterMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info("metrics endpoint started", logger.Field{Key: "addr", Value: cfg.MetricsAddr})
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint: %w", err)
			}

			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return hs.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// newAttemptStore builds the failure store selected by cfg and returns its
// release function.
func newAttemptStore(cfg config.ServerConfig) (attemptstore.Store, func() error) {
	if cfg.AttemptStore.Backend == config.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.AttemptStore.RedisAddr,
			Password: cfg.AttemptStore.RedisPassword,
			DB:       cfg.AttemptStore.RedisDB,
		})

		return attemptstore.NewRedisStore(client, cfg.AttemptStore.RedisPrefix, cfg.Lockout.Window), client.Close
	}

	return attemptstore.NewMemoryStore(cfg.Lockout.Window), func() error { return nil }
}

// openOutput opens the relay destination. An empty path returns a nil writer.
func openOutput(path string) (io.Writer, func() error, error) {
	switch path {
	case "":
		return nil, func() error { return nil }, nil
	case "-":
		return os.Stdout, func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}

	return f, f.Close, nil
}
