package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	gamenight "github.com/gamenight-app/gamenight/sdk/golang"
	"github.com/gamenight-app/gamenight/sdk/golang/natspush"
	"github.com/gamenight-app/gamenight/sdk/golang/redispush"
)

// requireAuth loads the resolved config and checks that a user is set.
func requireAuth() (*Config, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.Token == "" || cfg.Auth.UserID == "" {
		return nil, fmt.Errorf("not signed in; run 'gamenight init <token> <user-id>' first")
	}
	return cfg, nil
}

// newClient creates the HTTP remote store from config.
func newClient(cfg *Config) (*gamenight.Client, error) {
	var opts []gamenight.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, gamenight.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.Timeout != "" {
		d, err := time.ParseDuration(cfg.Default.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid default.timeout: %w", err)
		}
		opts = append(opts, gamenight.WithTimeout(d))
	}
	return gamenight.NewClient(cfg.Auth.Token, opts...), nil
}

// newTransport connects the configured push transport. The returned close
// function is never nil.
func newTransport(ctx context.Context, cfg *Config) (gamenight.PushTransport, func(), error) {
	logger := slog.Default()
	switch cfg.Push.Transport {
	case "", "none":
		return nil, func() {}, nil
	case "ws":
		url := cfg.Push.URL
		if url == "" {
			url = valueOrDefault(cfg.Default.BaseURL, gamenight.DefaultBaseURL)
		}
		ws := gamenight.NewWSTransport(url, &gamenight.RealtimeConfig{
			Token:         cfg.Auth.Token,
			AutoReconnect: true,
			Logger:        logger,
		})
		if err := ws.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return ws, func() { ws.Close() }, nil
	case "nats":
		nc, err := nats.Connect(valueOrDefault(cfg.Push.URL, nats.DefaultURL), nats.Token(cfg.Auth.Token))
		if err != nil {
			return nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		return natspush.New(nc, logger), nc.Close, nil
	case "redis":
		opts, err := redis.ParseURL(valueOrDefault(cfg.Push.URL, "redis://localhost:6379/0"))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid push.url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return redispush.New(rdb, logger), func() { rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown push transport %q", cfg.Push.Transport)
	}
}

// sessionOptions maps [cache] onto session options.
func sessionOptions(cfg *Config) ([]gamenight.SessionOption, error) {
	opts := []gamenight.SessionOption{gamenight.WithLogger(slog.Default())}
	if cfg.Cache.TTL != "" {
		d, err := time.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid cache.ttl: %w", err)
		}
		opts = append(opts, gamenight.WithCacheTTL(d))
	}
	if cfg.Cache.Size > 0 {
		opts = append(opts, gamenight.WithCacheSize(cfg.Cache.Size))
	}
	return opts, nil
}

// openSession signs the configured user into a new session. Push is only
// connected when withPush is set.
func openSession(ctx context.Context, withPush bool) (*gamenight.Session, func(), error) {
	cfg, err := requireAuth()
	if err != nil {
		return nil, nil, err
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts, err := sessionOptions(cfg)
	if err != nil {
		return nil, nil, err
	}

	var transport gamenight.PushTransport
	closeTransport := func() {}
	if withPush {
		transport, closeTransport, err = newTransport(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
	}

	session := gamenight.NewSession(client, transport, opts...)
	if err := session.SignIn(ctx, cfg.Auth.UserID); err != nil {
		closeTransport()
		return nil, nil, err
	}
	return session, func() {
		session.SignOut()
		closeTransport()
	}, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// mutationError turns a failed result into a command error.
func mutationError(res gamenight.MutationResult) error {
	if res.Error != nil {
		return fmt.Errorf("API error: %s: %s", res.Error.Code, res.Error.Message)
	}
	return fmt.Errorf("API returned an error (no details)")
}

// maskKey shows the first 4 and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
