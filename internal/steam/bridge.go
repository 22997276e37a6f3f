// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package steam

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/picsync/internal/logging"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
)

// Bridge frame opcodes. Requests carry a correlation id echoed by the
// matching *_result frame; disconnected and error frames are pushed without
// an id.
const (
	opLogon             = "logon"
	opLogonResult       = "logon_result"
	opProductInfo       = "product_info"
	opProductInfoResult = "product_info_result"
	opChangesSince      = "changes_since"
	opChangesResult     = "changes_result"
	opDisconnected      = "disconnected"
	opError             = "error"
)

type logonFrame struct {
	Op        string `json:"op"`
	ID        uint64 `json:"id"`
	Anonymous bool   `json:"anonymous"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

type logonResultFrame struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type productInfoFrame struct {
	Op     string   `json:"op"`
	ID     uint64   `json:"id"`
	AppIDs []uint32 `json:"appids"`
}

type productInfoResultFrame struct {
	Apps map[string]RawApp `json:"apps"`
}

type changesSinceFrame struct {
	Op             string `json:"op"`
	ID             uint64 `json:"id"`
	Since          uint64 `json:"since"`
	AppChanges     bool   `json:"app_changes"`
	PackageChanges bool   `json:"package_changes"`
}

type changesResultFrame struct {
	CurrentChangeNumber uint64 `json:"current_change_number"`
	AppChanges          []struct {
		AppID uint32 `json:"appid"`
	} `json:"app_changes"`
}

// bridgeEnvelope carries the fields needed to route an incoming frame.
// Response payloads are decoded a second time by the waiting caller.
type bridgeEnvelope struct {
	Op      string `json:"op"`
	ID      uint64 `json:"id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// BridgeClient is a Conn backed by a WebSocket connection to the PICS bridge
// sidecar. One client equals one connection lifetime: after the connection is
// lost or Close is called the client is done and a new one must be dialed.
type BridgeClient struct {
	bridgeURL string

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	nextID  atomic.Uint64
	pending map[uint64]chan []byte
	pendMu  sync.Mutex

	handlerMu    sync.RWMutex
	onDisconnect func(reason string)

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialBridge returns a DialFunc that opens a fresh bridge connection per
// call.
func DialBridge(bridgeURL string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		c := NewBridgeClient(bridgeURL)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// NewBridgeClient creates a client for the given bridge URL. The client is
// not connected until Connect is called.
func NewBridgeClient(bridgeURL string) *BridgeClient {
	return &BridgeClient{
		bridgeURL: bridgeURL,
		pending:   make(map[uint64]chan []byte),
		stopChan:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the reader and
// keepalive goroutines. Calling Connect on an already connected client is a
// no-op.
func (c *BridgeClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return nil
	}

	wsURL, err := c.buildBridgeURL()
	if err != nil {
		return fmt.Errorf("build bridge url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("bridge dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("bridge dial: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Warn().Err(err).Msg("bridge: failed to set initial read deadline")
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.conn = conn
	logging.Info().Str("url", wsURL).Msg("bridge connected")

	c.wg.Add(1)
	go c.listen()

	c.wg.Add(1)
	go c.pingLoop()

	return nil
}

// buildBridgeURL normalizes the configured URL, converting http(s) schemes
// to their WebSocket equivalents and defaulting the path to /ws.
func (c *BridgeClient) buildBridgeURL() (string, error) {
	parsed, err := url.Parse(c.bridgeURL)
	if err != nil {
		return "", fmt.Errorf("parse bridge url: %w", err)
	}

	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported bridge url scheme %q", parsed.Scheme)
	}

	if parsed.Path == "" {
		parsed.Path = "/ws"
	}
	return parsed.String(), nil
}

// LogOn asks the bridge to establish the upstream session.
func (c *BridgeClient) LogOn(ctx context.Context, creds Credentials) error {
	id := c.nextID.Add(1)
	data, err := c.call(ctx, id, logonFrame{
		Op:        opLogon,
		ID:        id,
		Anonymous: creds.Anonymous(),
		Username:  creds.Username,
		Password:  creds.Password,
	})
	if err != nil {
		return err
	}

	var result logonResultFrame
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("decode logon result: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", ErrLogonFailed, result.Error)
	}
	return nil
}

// ProductInfo requests full PICS metadata for the given app ids.
func (c *BridgeClient) ProductInfo(ctx context.Context, appIDs []uint32) (map[uint32]RawApp, error) {
	id := c.nextID.Add(1)
	data, err := c.call(ctx, id, productInfoFrame{Op: opProductInfo, ID: id, AppIDs: appIDs})
	if err != nil {
		return nil, err
	}

	var result productInfoResultFrame
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode product info result: %w", err)
	}

	apps := make(map[uint32]RawApp, len(result.Apps))
	for key, raw := range result.Apps {
		appid, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			logging.Warn().Str("appid", key).Msg("dropping product info entry with malformed appid")
			continue
		}
		apps[uint32(appid)] = raw
	}
	return apps, nil
}

// ChangesSince requests the catalog delta after the given change number.
func (c *BridgeClient) ChangesSince(ctx context.Context, since uint64, appChanges, packageChanges bool) (*ChangeDelta, error) {
	id := c.nextID.Add(1)
	data, err := c.call(ctx, id, changesSinceFrame{
		Op:             opChangesSince,
		ID:             id,
		Since:          since,
		AppChanges:     appChanges,
		PackageChanges: packageChanges,
	})
	if err != nil {
		return nil, err
	}

	var result changesResultFrame
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode changes result: %w", err)
	}

	delta := &ChangeDelta{
		CurrentChangeNumber: result.CurrentChangeNumber,
		AppIDs:              make([]uint32, 0, len(result.AppChanges)),
	}
	for _, change := range result.AppChanges {
		delta.AppIDs = append(delta.AppIDs, change.AppID)
	}
	return delta, nil
}

// SetDisconnectHandler registers fn to be invoked once when the connection
// is lost for any reason other than Close. The handler runs on its own
// goroutine, so it may call back into the client.
func (c *BridgeClient) SetDisconnectHandler(fn func(reason string)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onDisconnect = fn
}

// Close tears down the connection and waits for the background goroutines to
// finish. The disconnect handler is not invoked. Safe for concurrent calls.
func (c *BridgeClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.closeConnection()
		c.wg.Wait()
	})
	return nil
}

// IsConnected reports whether the WebSocket connection is established.
func (c *BridgeClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// call sends a request frame and waits for the response carrying the same
// id.
func (c *BridgeClient) call(ctx context.Context, id uint64, frame any) ([]byte, error) {
	ch := make(chan []byte, 1)

	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case data, ok := <-ch:
		if !ok {
			// Channel closed by failPending: connection died mid-call.
			return nil, ErrNotConnected
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopChan:
		return nil, ErrNotConnected
	}
}

func (c *BridgeClient) writeFrame(frame any) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// listen reads frames until the connection dies or Close is called. A read
// failure outside Close tears the connection down and fires the disconnect
// handler; the client does not reconnect itself, the session owns that.
func (c *BridgeClient) listen() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopChan:
				// Intentional close.
				return
			default:
			}

			reason := err.Error()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "connection closed by bridge"
			}
			logging.Warn().Err(err).Msg("bridge read failed")
			c.closeConnection()
			c.fireDisconnect(reason)
			return
		}

		c.handleFrame(message)
	}
}

// handleFrame routes one incoming frame: responses are delivered to the
// waiting caller by id, pushed events are handled in place.
func (c *BridgeClient) handleFrame(data []byte) {
	var env bridgeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logging.Error().Err(err).Msg("malformed bridge frame")
		return
	}

	switch env.Op {
	case opLogonResult, opProductInfoResult, opChangesResult:
		c.pendMu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.pendMu.Unlock()

		if !ok {
			logging.Debug().Uint64("id", env.ID).Str("op", env.Op).Msg("bridge response with no waiter")
			return
		}
		ch <- data

	case opDisconnected:
		logging.Warn().Str("reason", env.Reason).Msg("bridge reported upstream disconnect")
		c.closeConnection()
		c.fireDisconnect(env.Reason)

	case opError:
		logging.Error().Str("message", env.Message).Msg("bridge error")

	default:
		logging.Debug().Str("op", env.Op).Msg("unknown bridge frame")
	}
}

// pingLoop keeps the connection alive; the bridge answers pings with pongs
// that extend the read deadline.
func (c *BridgeClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logging.Warn().Err(err).Msg("bridge ping failed")
				c.closeConnection()
				return
			}
		}
	}
}

// closeConnection closes the socket and fails all outstanding calls. Safe
// for concurrent calls.
func (c *BridgeClient) closeConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		deadline := time.Now().Add(time.Second)
		if err := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		); err != nil {
			logging.Debug().Err(err).Msg("bridge close message not sent")
		}
		if err := c.conn.Close(); err != nil {
			logging.Debug().Err(err).Msg("bridge connection close failed")
		}
		c.conn = nil
	}
	c.connMu.Unlock()

	c.failPending()
}

func (c *BridgeClient) failPending() {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *BridgeClient) fireDisconnect(reason string) {
	c.handlerMu.RLock()
	handler := c.onDisconnect
	c.handlerMu.RUnlock()

	if handler != nil {
		go handler(reason)
	}
}
