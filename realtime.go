package gamenight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Format
// ============================================================================

// Frame types exchanged with the push gateway.
const (
	frameAuthenticated = "authenticated"
	frameSubscribe     = "subscribe"
	frameUnsubscribe   = "unsubscribe"
	framePush          = "push"
	frameError         = "error"
)

// RealtimeEnvelope is the wire format of every frame.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type topicPayload struct {
	Topic string `json:"topic"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures a WSTransport.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
	Logger               *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay grows exponentially with jitter. A connection that stayed up
// for a minute resets the attempt count.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// WSTransport
// ============================================================================

// WSTransport is a PushTransport over the push gateway's WebSocket. Topics
// subscribed before or during an outage are re-subscribed on every
// (re)connect.
type WSTransport struct {
	baseURL string
	config  *RealtimeConfig
	recon   *reconnector
	logger  *slog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc
	nextID           uint64
	topics           map[string]map[uint64]PushHandler
}

// NewWSTransport creates a transport for the gateway at baseURL.
func NewWSTransport(baseURL string, config *RealtimeConfig) *WSTransport {
	if config == nil {
		config = &RealtimeConfig{}
	}
	config.defaults()
	return &WSTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  config,
		recon:   newReconnector(config),
		logger:  config.Logger,
		state:   StateDisconnected,
		topics:  make(map[string]map[uint64]PushHandler),
	}
}

// State returns the current connection state.
func (ws *WSTransport) State() RealtimeState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Connect establishes the WebSocket connection.
func (ws *WSTransport) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.state == StateConnected || ws.state == StateConnecting {
		ws.mu.Unlock()
		return nil
	}
	ws.state = StateConnecting
	ws.intentionalClose = false
	ws.mu.Unlock()

	conn, err := ws.dial(ctx)
	if err != nil {
		ws.setState(StateDisconnected)
		return err
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ws.mu.Lock()
	ws.conn = conn
	ws.state = StateConnected
	ws.cancelFn = cancel
	topics := make([]string, 0, len(ws.topics))
	for topic := range ws.topics {
		topics = append(topics, topic)
	}
	ws.mu.Unlock()
	ws.recon.markConnected()

	for _, topic := range topics {
		if err := ws.send(ctx, conn, frameSubscribe, topicPayload{Topic: topic}); err != nil {
			ws.logger.Warn("resubscribe failed", "topic", topic, "error", err)
		}
	}
	ws.logger.Info("push connected", "url", ws.baseURL, "topics", len(topics))

	go ws.readLoop(connCtx, conn)
	go ws.heartbeatLoop(connCtx, conn)
	return nil
}

func (ws *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := strings.Replace(ws.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + url.QueryEscape(ws.config.Token)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: ws.config.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	// First frame must be "authenticated".
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("read auth message: %w", err)
	}
	var env RealtimeEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != frameAuthenticated {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("expected '%s', got '%s'", frameAuthenticated, env.Type)
	}
	return conn, nil
}

// Close gracefully closes the connection and stops reconnecting.
func (ws *WSTransport) Close() error {
	ws.mu.Lock()
	ws.intentionalClose = true
	if ws.cancelFn != nil {
		ws.cancelFn()
		ws.cancelFn = nil
	}
	conn := ws.conn
	ws.conn = nil
	ws.state = StateDisconnected
	ws.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

type wsSub struct {
	ws    *WSTransport
	topic string
	id    uint64
	once  sync.Once
}

func (s *wsSub) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.ws.unsubscribe(s.topic, s.id) })
	return err
}

// Subscribe registers handler for topic. The gateway is told about the
// topic now if connected, otherwise on the next connect.
func (ws *WSTransport) Subscribe(ctx context.Context, topic string, handler PushHandler) (Subscription, error) {
	ws.mu.Lock()
	ws.nextID++
	id := ws.nextID
	first := len(ws.topics[topic]) == 0
	if first {
		ws.topics[topic] = make(map[uint64]PushHandler)
	}
	ws.topics[topic][id] = handler
	conn := ws.conn
	ws.mu.Unlock()

	if first && conn != nil {
		if err := ws.send(ctx, conn, frameSubscribe, topicPayload{Topic: topic}); err != nil {
			ws.unsubscribe(topic, id)
			return nil, err
		}
	}
	return &wsSub{ws: ws, topic: topic, id: id}, nil
}

func (ws *WSTransport) unsubscribe(topic string, id uint64) error {
	ws.mu.Lock()
	subs := ws.topics[topic]
	delete(subs, id)
	last := subs != nil && len(subs) == 0
	if last {
		delete(ws.topics, topic)
	}
	conn := ws.conn
	ws.mu.Unlock()

	if last && conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.send(ctx, conn, frameUnsubscribe, topicPayload{Topic: topic})
	}
	return nil
}

func (ws *WSTransport) send(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(RealtimeEnvelope{Type: typ, Payload: raw})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (ws *WSTransport) setState(s RealtimeState) {
	ws.mu.Lock()
	ws.state = s
	ws.mu.Unlock()
}

func (ws *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			intentional := ws.intentionalClose
			if !intentional {
				ws.state = StateDisconnected
				ws.conn = nil
				if ws.cancelFn != nil {
					ws.cancelFn()
					ws.cancelFn = nil
				}
			}
			ws.mu.Unlock()
			if intentional {
				return
			}

			ws.logger.Warn("push disconnected", "error", err)
			if ws.config.AutoReconnect {
				ws.reconnect()
			}
			return
		}

		var env RealtimeEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		switch env.Type {
		case framePush:
			var ev PushEvent
			if err := json.Unmarshal(env.Payload, &ev); err != nil {
				ws.logger.Warn("bad push frame", "error", err)
				continue
			}
			ws.dispatch(ctx, ev)
		case frameError:
			ws.logger.Warn("push gateway error", "payload", string(env.Payload))
		}
	}
}

func (ws *WSTransport) dispatch(ctx context.Context, ev PushEvent) {
	ws.mu.Lock()
	subs := ws.topics[ev.Topic]
	handlers := make([]PushHandler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	ws.mu.Unlock()
	// Handlers outlive the connection that delivered the event.
	hctx := context.WithoutCancel(ctx)
	for _, h := range handlers {
		go h(hctx, ev)
	}
}

func (ws *WSTransport) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				// Closing makes the read loop fail and reconnect.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (ws *WSTransport) reconnect() {
	for ws.recon.shouldReconnect() {
		delay := ws.recon.nextDelay()
		ws.setState(StateReconnecting)
		ws.logger.Info("push reconnecting", "attempt", ws.recon.attempt, "delay", delay)
		time.Sleep(delay)

		ws.mu.Lock()
		stop := ws.intentionalClose
		if !stop {
			ws.state = StateDisconnected
		}
		ws.mu.Unlock()
		if stop {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), ws.config.ReconnectMaxDelay)
		err := ws.Connect(ctx)
		cancel()
		if err == nil {
			ws.recon.attempt = 0
			return
		}
		ws.logger.Warn("push reconnect failed", "attempt", ws.recon.attempt, "error", err)
	}
	ws.setState(StateDisconnected)
}

var _ PushTransport = (*WSTransport)(nil)
