package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ramory-l/sioclient"
	"github.com/ramory-l/sioclient/engine"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath  string
		logLevel    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "siocat [url]",
		Short: "Talk to a Socket.IO 0.9 server from the terminal",
		Long: `siocat connects to a Socket.IO 0.9 server and bridges stdin/stdout.

Each input line is sent to the endpoint named by the URL path:

  hello world            plain message
  json {"id":1}          JSON message
  emit move [10,20]      event with a JSON args array

Inbound messages and events are printed one per line.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.URL = args[0]
			}
			if cfg.URL == "" {
				return errors.New("no url given")
			}
			if cmd.Flags().Changed("log-level") {
				level, err := zerolog.ParseLevel(logLevel)
				if err != nil {
					return fmt.Errorf("parse log level: %w", err)
				}
				cfg.LogLevel = level
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func newLogger(level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", "siocat").Logger()
}

func run(ctx context.Context, cfg cliConfig, in io.Reader, out io.Writer) error {
	logger := newLogger(cfg.LogLevel)

	opts := []sioclient.Option{
		sioclient.WithEngineConfig(cfg.Engine),
		sioclient.WithLogger(logger),
	}

	if cfg.MetricsAddr != "" {
		opts = append(opts, sioclient.WithMetrics(engine.NewMetrics(prometheus.DefaultRegisterer)))
		srv := metricsServer(cfg.MetricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server failed")
			}
		}()
		defer srv.Close()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	registry := sioclient.NewRegistry(opts...)
	defer registry.Close()

	client, err := registry.Connect(cfg.URL)
	if err != nil {
		return err
	}

	printer := newPrinter(out)
	client.OnConnect(func() { logger.Info().Str("uri", client.URI()).Msg("connected") })
	client.OnDisconnect(func() { logger.Info().Str("uri", client.URI()).Msg("endpoint disconnected") })
	client.OnMessage(printer.message)
	client.OnJSON(printer.json)
	client.OnAny(printer.event)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := sendLine(client, line); err != nil {
				logger.Warn().Err(err).Msg("send failed")
			}
		}
	}
}

func metricsServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
