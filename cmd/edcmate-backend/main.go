// edcmate-backend serves the connector-facing publisher endpoints and
// the SSE streaming endpoints backed by the correlated delivery engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	edcmate "github.com/glimte/edcmate-go"
	"github.com/glimte/edcmate-go/backend"
	"github.com/glimte/edcmate-go/config"
	"github.com/glimte/edcmate-go/stream"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		logLevel   string
		consumerID string
	)

	rootCmd := &cobra.Command{
		Use:   "edcmate-backend",
		Short: "Consumer backend for dataspace transfers",
		Long: `edcmate-backend bridges an EDC-style dataspace connector and RabbitMQ.
It receives endpoint data references and pushed payloads from the connector,
publishes them to the topic exchange, and serves SSE endpoints that wait for
the message correlated to a transfer process.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), logLevel, consumerID)
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&consumerID, "consumer-id", "edcmate-backend", "Consumer identity used for queue naming")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logLevel, consumerID string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.RabbitURL == "" {
		return fmt.Errorf("EDC_RABBIT_URL is not set")
	}

	client, err := edcmate.NewClient(consumerID,
		edcmate.WithBrokerURL(cfg.RabbitURL),
		edcmate.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	publisher, err := client.Publisher(ctx)
	if err != nil {
		return err
	}
	defer publisher.Close()

	decoder := backend.NewAuthCodeDecoder(cfg.CertPath, logger)

	backendHandler := backend.NewHandler(publisher, decoder,
		backend.WithBroker(cfg.RabbitURL),
		backend.WithExchange(client.Exchange()),
		backend.WithPinger(publisher),
		backend.WithHandlerLogger(logger),
	)

	streamHandler := stream.NewHandler(client.PullStreamFactory(), client.PushStreamFactory(),
		stream.WithAPIKey(cfg.APIAuthKey),
		stream.WithStreamLogger(logger),
	)
	if cfg.APIAuthKey == "" {
		logger.Warn("API_AUTH_KEY is not set, streaming endpoints will refuse every request")
	}

	mux := http.NewServeMux()
	backendHandler.RegisterRoutes(mux)
	streamHandler.RegisterRoutes(mux)

	server := backend.NewServer(fmt.Sprintf(":%d", cfg.HTTPAPIPort), mux,
		backend.WithServerLogger(logger),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not complete cleanly", "error", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
