package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	gamenight "github.com/gamenight-app/gamenight/sdk/golang"
)

var (
	relayAddr   string
	relaySecret string
)

func init() {
	relayCmd.Flags().StringVar(&relayAddr, "addr", ":8787", "Listen address")
	relayCmd.Flags().StringVar(&relaySecret, "secret", "", "Webhook signing secret (or GAMENIGHT_WEBHOOK_SECRET)")
	rootCmd.AddCommand(relayCmd)
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Accept signed push webhooks and republish them on the push transport",
	Long: `Runs an HTTP endpoint that verifies the X-Gamenight-Signature header of
incoming push deliveries and publishes each event on the configured NATS or
Redis transport, where subscribed clients pick it up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		secret := valueOrDefault(relaySecret, os.Getenv("GAMENIGHT_WEBHOOK_SECRET"))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		transport, closeTransport, err := newTransport(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeTransport()
		publisher, ok := transport.(gamenight.Publisher)
		if !ok {
			return fmt.Errorf("push.transport %q cannot publish; use nats or redis", cfg.Push.Transport)
		}

		hook, err := gamenight.NewPushWebhook(secret, publisher, slog.Default())
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/webhook", hook.HTTPHandler())
		srv := &http.Server{Addr: relayAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		fmt.Fprintf(os.Stderr, "Relaying webhooks on %s/webhook\n", relayAddr)

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
