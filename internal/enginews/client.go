package enginews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/recordcore/internal/diaglog"
	"github.com/tiroq/recordcore/internal/engine"
)

// Options configures a Client.
type Options struct {
	URL      string
	Password string

	HandshakeTimeout time.Duration // default 10s
	RequestTimeout   time.Duration // default 10s

	// Reconnect re-dials with exponential backoff and jitter after the
	// connection drops, starting at ReconnectDelay (default 5s) and capped at
	// MaxReconnectDelay (default 60s).
	Reconnect         bool
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = 60 * time.Second
	}
	return o
}

// pendingRequest is a request awaiting its response. Queries wait on resp;
// commands have no waiter and only surface failures to the listener.
type pendingRequest struct {
	requestType string
	resp        chan *Response
}

// Client is an engine.Engine backed by a WebSocket connection.
type Client struct {
	opts Options

	mu            sync.RWMutex
	conn          *websocket.Conn
	connected     bool
	engineVersion string

	// gorilla/websocket allows a single concurrent writer.
	writeMu sync.Mutex

	requestID atomic.Uint64
	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	listenerMu sync.RWMutex
	listener   engine.Listener

	reconnectEnabled atomic.Bool
	stopChan         chan struct{}
	closeOnce        sync.Once

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

var _ engine.Engine = (*Client)(nil)
var _ engine.FrameRateQuerier = (*Client)(nil)

// NewClient creates a client; call Connect before use.
func NewClient(opts Options) *Client {
	c := &Client{
		opts:     opts.withDefaults(),
		pending:  make(map[string]*pendingRequest),
		stopChan: make(chan struct{}),
	}
	c.reconnectEnabled.Store(opts.Reconnect)
	return c
}

// Factory returns an engine.Factory that dials a fresh client per handle.
func Factory(opts Options, logger *diaglog.Logger) engine.Factory {
	return func(ctx context.Context) (engine.Engine, error) {
		c := NewClient(opts)
		c.SetLogger(logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// SetLogger injects a diaglog.Logger. Passing nil disables logging.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if entry.Component == "" {
		entry.Component = diaglog.ComponentEngineClient
	}
	l.Log(entry)
}

// Connect dials the engine and completes the Hello/Identify handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if connected {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.opts.URL, err)
	}

	version, err := c.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.engineVersion = version
	c.mu.Unlock()

	c.log(diaglog.LogEntry{
		Event:   diaglog.EventWSConnect,
		Payload: map[string]interface{}{"url": c.opts.URL, "engine_version": version},
	})

	go c.readMessages(conn)
	return nil
}

// handshake reads Hello, answers with Identify and waits for Identified. It
// runs before the reader goroutine exists, so it reads the socket directly.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) (string, error) {
	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("%w: waiting for Hello: %w", ErrHandshake, err)
	}
	if msg.Op != OpHello {
		return "", fmt.Errorf("%w: expected Hello, got op %d", ErrHandshake, msg.Op)
	}
	var hello HelloData
	if err := json.Unmarshal(msg.D, &hello); err != nil {
		return "", fmt.Errorf("%w: bad Hello: %w", ErrHandshake, err)
	}

	identify := IdentifyData{RPCVersion: RPCVersion}
	if hello.Authentication != nil {
		if c.opts.Password == "" {
			return "", fmt.Errorf("%w: %w", ErrHandshake, ErrAuthRequired)
		}
		identify.Authentication = AuthResponse(c.opts.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	out, err := newMessage(OpIdentify, identify)
	if err != nil {
		return "", err
	}
	_ = conn.SetWriteDeadline(deadline)
	err = conn.WriteJSON(out)
	_ = conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return "", fmt.Errorf("%w: sending Identify: %w", ErrHandshake, err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code == CloseAuthFailed {
			return "", fmt.Errorf("%w: authentication rejected", ErrHandshake)
		}
		return "", fmt.Errorf("%w: waiting for Identified: %w", ErrHandshake, err)
	}
	if msg.Op != OpIdentified {
		return "", fmt.Errorf("%w: expected Identified, got op %d", ErrHandshake, msg.Op)
	}
	return hello.EngineVersion, nil
}

// readMessages dispatches frames until the connection drops.
func (c *Client) readMessages(conn *websocket.Conn) {
	defer func() {
		c.dropConnection(conn)
		if c.reconnectEnabled.Load() && !c.stopped() {
			c.reconnect()
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			payload := map[string]interface{}{"error": err.Error()}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				payload["close_code"] = closeErr.Code
				if closeErr.Code == CloseSessionTakenOver {
					log.Printf("Warning: engine session taken over by another controller: %s", closeErr.Text)
				}
			}
			if !c.stopped() {
				c.log(diaglog.LogEntry{Event: diaglog.EventWSDisconnect, Payload: payload})
			}
			return
		}

		var rawMsg interface{}
		if err := json.Unmarshal(msg.D, &rawMsg); err == nil {
			c.log(diaglog.LogEntry{
				Event:   diaglog.EventWSRecv,
				Payload: map[string]interface{}{"op": msg.Op, "d": rawMsg},
			})
		}

		switch msg.Op {
		case OpEvent:
			var event Event
			if err := json.Unmarshal(msg.D, &event); err == nil {
				c.handleEvent(&event)
			}
		case OpRequestResponse:
			var resp Response
			if err := json.Unmarshal(msg.D, &resp); err == nil {
				c.handleResponse(&resp)
			}
		}
	}
}

func (c *Client) currentListener() engine.Listener {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	return c.listener
}

// handleEvent forwards push events to the listener on the reader goroutine.
func (c *Client) handleEvent(event *Event) {
	l := c.currentListener()
	if l == nil {
		return
	}
	switch event.EventType {
	case EventRecordingStateChanged:
		var data struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(event.EventData, &data); err == nil {
			l.OnStateChanged(data.State)
		}
	case EventRecordingComplete:
		var data struct {
			OutputPath string `json:"outputPath"`
		}
		if err := json.Unmarshal(event.EventData, &data); err == nil {
			l.OnComplete(data.OutputPath)
		}
	case EventRecordingError:
		var data struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(event.EventData, &data); err == nil {
			l.OnError(data.Message)
		}
	}
}

// handleResponse routes a response to its waiter. A failed command has no
// waiter, so its failure goes to the listener as an engine error.
func (c *Client) handleResponse(resp *Response) {
	c.pendingMu.Lock()
	p, ok := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	if p.resp != nil {
		p.resp <- resp
		return
	}
	if !resp.RequestStatus.Result {
		if l := c.currentListener(); l != nil {
			l.OnError(requestError(p.requestType, resp).Error())
		}
	}
}

func requestError(requestType string, resp *Response) *RequestError {
	return &RequestError{
		RequestType: requestType,
		Code:        resp.RequestStatus.Code,
		Comment:     resp.RequestStatus.Comment,
	}
}

// send writes a request and registers it as pending. Queries get a channel
// for the response.
func (c *Client) send(requestType string, data interface{}, query bool) (string, chan *Response, error) {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected || conn == nil {
		return "", nil, ErrNotConnected
	}

	id := strconv.FormatUint(c.requestID.Add(1), 10)
	msg, err := newMessage(OpRequest, Request{RequestType: requestType, RequestID: id, RequestData: data})
	if err != nil {
		return "", nil, err
	}

	p := &pendingRequest{requestType: requestType}
	if query {
		p.resp = make(chan *Response, 1)
	}
	c.pendingMu.Lock()
	c.pending[id] = p
	c.pendingMu.Unlock()

	c.log(diaglog.LogEntry{
		Event:   diaglog.EventWSSend,
		Payload: map[string]interface{}{"request_type": requestType, "request_id": id},
	})

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.RequestTimeout))
	err = conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return "", nil, err
	}
	return id, p.resp, nil
}

func (c *Client) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// command issues a fire-and-forget request. The returned error covers the
// write only.
func (c *Client) command(ctx context.Context, requestType string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := c.send(requestType, data, false); err != nil {
		return fmt.Errorf("%s: %w", requestType, err)
	}
	return nil
}

// request issues a query and waits for its response.
func (c *Client) request(ctx context.Context, requestType string, data interface{}) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, ch, err := c.send(requestType, data, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", requestType, err)
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", requestType, ErrDisconnected)
		}
		if !resp.RequestStatus.Result {
			return nil, requestError(requestType, resp)
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("%w after %s (request: %s)", ErrRequestTimeout, c.opts.RequestTimeout, requestType)
	}
}

// dropConnection tears down conn if it is still current and fails whatever
// was pending on it.
func (c *Client) dropConnection(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.pendingMu.Unlock()

	l := c.currentListener()
	for _, p := range pending {
		if p.resp != nil {
			close(p.resp)
			continue
		}
		if l != nil && !c.stopped() {
			l.OnError(fmt.Sprintf("%s: %v before the engine acknowledged it", p.requestType, ErrDisconnected))
		}
	}
}

func (c *Client) stopped() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

// reconnect re-dials with exponential backoff and jitter. It never issues a
// recording command on its own; the session catches up through polling.
func (c *Client) reconnect() {
	delay := c.opts.ReconnectDelay
	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
			attempt++
			c.log(diaglog.LogEntry{
				Event:     diaglog.EventWSReconnectAttempt,
				Component: diaglog.ComponentReconnect,
				Payload:   map[string]interface{}{"attempt": attempt, "delay_ms": delay.Milliseconds()},
			})
			if err := c.Connect(context.Background()); err == nil {
				c.log(diaglog.LogEntry{
					Event:     diaglog.EventWSReconnectSuccess,
					Component: diaglog.ComponentReconnect,
					Payload:   map[string]interface{}{"attempt": attempt},
				})
				return
			} else {
				c.log(diaglog.LogEntry{
					Event:     diaglog.EventWSReconnectFailed,
					Component: diaglog.ComponentReconnect,
					Payload:   map[string]interface{}{"attempt": attempt, "error": err.Error()},
				})
			}

			delay = nextDelay(delay, c.opts.MaxReconnectDelay)
		}
	}
}

// nextDelay doubles delay up to ceiling and adds ±10% jitter.
func nextDelay(delay, ceiling time.Duration) time.Duration {
	delay *= 2
	if delay > ceiling {
		delay = ceiling
	}
	jitter := time.Duration(float64(delay) * 0.2 * (rand.Float64() - 0.5))
	delay += jitter
	if delay < 100*time.Millisecond {
		delay = 100 * time.Millisecond
	}
	return delay
}

// Close disconnects and stops reconnecting. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.reconnectEnabled.Store(false)
		close(c.stopChan)
	})

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.dropConnection(conn)

	c.log(diaglog.LogEntry{
		Event:   diaglog.EventWSDisconnect,
		Reason:  "close",
		Payload: map[string]interface{}{"url": c.opts.URL},
	})
	return nil
}

// IsConnected reports whether the handshake completed and the socket is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// EngineVersion is the version the engine announced in Hello.
func (c *Client) EngineVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engineVersion
}

// SetReconnectEnabled enables/disables automatic reconnection.
func (c *Client) SetReconnectEnabled(enabled bool) {
	c.reconnectEnabled.Store(enabled)
}
