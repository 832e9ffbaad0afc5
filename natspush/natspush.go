// Package natspush carries gamenight push events over NATS subjects. Trace
// context travels in message headers.
package natspush

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	gamenight "github.com/gamenight-app/gamenight/sdk/golang"
)

// DefaultSubjectPrefix namespaces push topics on the NATS server.
const DefaultSubjectPrefix = "gamenight.push."

// Transport publishes and subscribes push events on NATS.
type Transport struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// New wraps an established connection.
func New(nc *nats.Conn, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{nc: nc, prefix: DefaultSubjectPrefix, logger: logger}
}

// Subject returns the NATS subject of a push topic.
func (t *Transport) Subject(topic string) string {
	return t.prefix + topic
}

func (t *Transport) Publish(ctx context.Context, ev gamenight.PushEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}
	msg := &nats.Msg{
		Subject: t.Subject(ev.Topic),
		Data:    data,
		Header:  nats.Header{},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	t.logger.Debug("publishing push event", "subject", msg.Subject, "event", ev.Name)
	return t.nc.PublishMsg(msg)
}

type subscription struct{ sub *nats.Subscription }

func (s subscription) Unsubscribe() error { return s.sub.Unsubscribe() }

func (t *Transport) Subscribe(_ context.Context, topic string, handler gamenight.PushHandler) (gamenight.Subscription, error) {
	tracer := otel.Tracer("github.com/gamenight-app/gamenight/sdk/golang/natspush")
	sub, err := t.nc.Subscribe(t.Subject(topic), func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
		ctx, span := tracer.Start(ctx, "gamenight.push.receive", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		var ev gamenight.PushEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			span.RecordError(err)
			t.logger.Error("invalid push event", "subject", msg.Subject, "error", err)
			return
		}
		if ev.Topic == "" {
			ev.Topic = topic
		}
		handler(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", t.Subject(topic), err)
	}
	return subscription{sub: sub}, nil
}

var (
	_ gamenight.PushTransport = (*Transport)(nil)
	_ gamenight.Publisher     = (*Transport)(nil)
)
