// Package transport owns the persistent WebSocket connection to the
// notification backend: connection lifecycle, reconnection with linear
// backoff, and a typed subscription surface for inbound events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/huddleup/huddle-notify/internal/notify/filter"
	"github.com/huddleup/huddle-notify/internal/notify/model"
	"github.com/huddleup/huddle-notify/internal/platform/logger"
	"github.com/huddleup/huddle-notify/internal/platform/metrics"
)

// Status is the connection state
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Well-known event names on the socket
const (
	EventJoin         = "join"
	EventNotification = "notification"
)

// Envelope is the wire frame for every socket message
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EventHandler receives the raw payload of a generic event
type EventHandler func(data json.RawMessage)

// NotificationHandler receives each accepted notification exactly once
type NotificationHandler func(rec model.Record)

// Config holds transport construction options
type Config struct {
	SocketURL string
	// ProbeURL is hit with a short GET before dialing; failure is logged,
	// never fatal.
	ProbeURL     string
	ProbeTimeout time.Duration

	BaseDelay   time.Duration
	MaxAttempts int

	PingInterval  time.Duration
	ReadDeadline  time.Duration
	WriteDeadline time.Duration

	Dialer  *websocket.Dialer
	Filter  *filter.Filter
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// Client maintains a single live connection per logged-in user
type Client struct {
	cfg    Config
	logger logger.Logger

	mu       sync.Mutex
	status   Status
	conn     *websocket.Conn
	userID   string
	token    string
	socketID string
	cancel   context.CancelFunc

	writeMu sync.Mutex

	subMu     sync.Mutex
	nextSub   int
	subs      map[string]map[int]EventHandler
	notifSubs map[int]NotificationHandler
	failSubs  map[int]func()
}

// New creates a transport client
func New(cfg Config) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadDeadline <= 0 {
		cfg.ReadDeadline = 60 * time.Second
	}
	if cfg.WriteDeadline <= 0 {
		cfg.WriteDeadline = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	return &Client{
		cfg:       cfg,
		logger:    cfg.Logger,
		subs:      make(map[string]map[int]EventHandler),
		notifSubs: make(map[int]NotificationHandler),
		failSubs:  make(map[int]func()),
	}
}

// Connect establishes the connection for the given user. It is idempotent
// per user: a second call while connected or connecting is a no-op. Dialing
// and retrying happen in the background; connection errors are logged and
// surfaced only through Status and the failure signal.
func (c *Client) Connect(userID, token string) error {
	if userID == "" {
		return errors.New("transport: userID is required")
	}

	c.mu.Lock()
	if c.userID == userID && (c.status == StatusConnecting || c.status == StatusConnected || c.status == StatusReconnecting) {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.userID = userID
	c.token = token
	c.status = StatusConnecting
	c.mu.Unlock()

	c.observeStatus(StatusConnecting)
	c.probe(ctx)

	go c.run(ctx)
	return nil
}

// Disconnect tears down the connection, cancels any in-flight backoff and
// clears all subscriptions and internal counters. Safe to call when not
// connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.status = StatusDisconnected
	c.userID = ""
	c.token = ""
	c.socketID = ""
	c.mu.Unlock()

	c.subMu.Lock()
	c.subs = make(map[string]map[int]EventHandler)
	c.notifSubs = make(map[int]NotificationHandler)
	c.failSubs = make(map[int]func())
	c.subMu.Unlock()

	if c.cfg.Filter != nil {
		c.cfg.Filter.Reset()
	}
	c.observeStatus(StatusDisconnected)
}

// OnNotification registers a callback invoked for each inbound notification
// that passes the dedup/staleness filter. The returned function removes
// exactly that callback.
func (c *Client) OnNotification(cb NotificationHandler) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.notifSubs[id] = cb
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.notifSubs, id)
	}
}

// OnConnectionFailed registers a callback fired once when a reconnection
// cycle exhausts its attempts.
func (c *Client) OnConnectionFailed(cb func()) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.failSubs[id] = cb
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.failSubs, id)
	}
}

// On registers a handler for a generic event and returns its unsubscribe
func (c *Client) On(event string, cb EventHandler) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.subs[event] == nil {
		c.subs[event] = make(map[int]EventHandler)
	}
	id := c.nextSub
	c.nextSub++
	c.subs[event][id] = cb
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs[event], id)
	}
}

// Off removes every handler for an event
func (c *Client) Off(event string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subs, event)
}

// Emit sends a generic event to the server; a no-op when not connected
func (c *Client) Emit(event string, payload interface{}) {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Debug("Emit skipped, not connected", "event", event)
		return
	}
	if err := c.write(conn, event, payload); err != nil {
		c.logger.Warn("Emit failed", "event", event, "error", err)
	}
}

// IsConnected reports whether the connection is live
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

// Status returns the connection state
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SocketID returns the id of the current connection, empty when offline
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// UserID returns the user the client is connected as
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// probe checks backend reachability before dialing, best-effort
func (c *Client) probe(ctx context.Context) {
	if c.cfg.ProbeURL == "" {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.cfg.ProbeURL, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.logger.Warn("Backend reachability probe failed, connecting anyway", "error", err)
		return
	}
	_ = resp.Body.Close()
}

// run is the connection loop: dial, pump, and on drop retry with linear
// backoff until the attempt budget is exhausted.
func (c *Client) run(ctx context.Context) {
	attempt := 0

	for {
		conn, err := c.dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}

		if err == nil {
			attempt = 0
			if !c.onConnected(ctx, conn) {
				return
			}
			c.readLoop(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Connection dropped", "user_id", c.UserID())
		} else {
			c.logger.Warn("Connect failed", "error", err)
		}

		attempt++
		if attempt > c.cfg.MaxAttempts {
			c.setStatus(StatusFailed)
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ReconnectFailures.Inc()
			}
			c.fireFailure()
			return
		}

		c.setStatus(StatusReconnecting)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ReconnectAttempts.Inc()
		}

		// Linear backoff: delay grows with the attempt number
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.BaseDelay * time.Duration(attempt)):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	c.mu.Lock()
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	url := c.cfg.SocketURL + "?userId=" + c.userID
	c.mu.Unlock()

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// onConnected installs the new connection and re-announces the user's
// identity; server-side push routing depends on the join. It reports false
// when a concurrent Disconnect won: Disconnect cancels under the same
// mutex, so checking the context here keeps a dial that raced logout from
// resurrecting the connection.
func (c *Client) onConnected(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.status = StatusConnected
	c.socketID = uuid.New().String()
	userID := c.userID
	c.mu.Unlock()

	c.observeStatus(StatusConnected)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ConnectsTotal.Inc()
	}

	if err := c.write(conn, EventJoin, map[string]string{"userId": userID}); err != nil {
		c.logger.Error("Join announcement failed", "error", err)
	}

	c.logger.Info("Socket connected", "user_id", userID, "socket_id", c.SocketID())
	go c.pingLoop(ctx, conn)
	return true
}

// readLoop pumps inbound frames until the connection drops
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.socketID = ""
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadDeadline))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				c.logger.Warn("Socket read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadDeadline))

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Discarding undecodable frame", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteDeadline))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound frame. Notification events pass through the
// filter; every subscriber sees an accepted event exactly once.
func (c *Client) dispatch(env Envelope) {
	if env.Event != EventNotification {
		c.subMu.Lock()
		handlers := make([]EventHandler, 0, len(c.subs[env.Event]))
		for _, h := range c.subs[env.Event] {
			handlers = append(handlers, h)
		}
		c.subMu.Unlock()

		for _, h := range handlers {
			h(env.Data)
		}
		return
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.PushesReceived.Inc()
	}

	var rec model.Record
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		c.logger.Warn("Discarding undecodable notification", "error", err)
		return
	}

	if c.cfg.Filter != nil {
		if v := c.cfg.Filter.Decide(&rec, time.Now()); v != filter.VerdictAccepted {
			c.logger.Debug("Notification dropped", "id", rec.ID, "reason", string(v))
			return
		}
	}

	c.subMu.Lock()
	handlers := make([]NotificationHandler, 0, len(c.notifSubs))
	for _, h := range c.notifSubs {
		handlers = append(handlers, h)
	}
	c.subMu.Unlock()

	for _, h := range handlers {
		h(rec)
	}
}

func (c *Client) write(conn *websocket.Conn, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteDeadline))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	c.observeStatus(s)
}

func (c *Client) fireFailure() {
	c.subMu.Lock()
	handlers := make([]func(), 0, len(c.failSubs))
	for _, h := range c.failSubs {
		handlers = append(handlers, h)
	}
	c.subMu.Unlock()

	c.logger.Error("Reconnection attempts exhausted", "user_id", c.UserID(), "max_attempts", c.cfg.MaxAttempts)
	for _, h := range handlers {
		h()
	}
}

func (c *Client) observeStatus(s Status) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ConnectionStatus.Set(float64(s))
	}
}
