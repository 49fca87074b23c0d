package knx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"
)

// Timeouts and limits for knxd communication.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute
	readBufferSize           = 256
	callbackQueueSize        = 100
)

// Logger defines the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Driver is the duplex channel the core consumes: outbound group
// writes in, inbound telegrams out via the callback.
type Driver interface {
	Send(ctx context.Context, ga GroupAddress, data []byte) error
	SendRead(ctx context.Context, ga GroupAddress) error
	SetOnTelegram(callback func(Telegram))
	IsConnected() bool
	Close() error
}

// Ensure Client implements Driver.
var _ Driver = (*Client)(nil)

// Config holds knxd connection settings.
type Config struct {
	// Connection is the knxd URL: "unix:///run/knxd" or
	// "tcp://localhost:6720".
	Connection string

	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	ReconnectInterval time.Duration
}

// Client is a knxd group-socket client.
//
// Thread Safety: all methods are safe for concurrent use. Telegram
// callbacks run on a dedicated goroutine; a full callback queue drops
// telegrams rather than blocking the receive loop.
//
// The client reconnects automatically with exponential backoff until
// Close is called.
type Client struct {
	cfg Config

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool

	callbackMu sync.RWMutex
	onTelegram func(Telegram)
	queue      chan Telegram

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup

	logger Logger
}

// Connect dials knxd and opens group communication mode.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	c := &Client{
		cfg:    cfg,
		queue:  make(chan Telegram, callbackQueueSize),
		done:   make(chan struct{}),
		logger: noopLogger{},
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", ErrConnectionFailed, err)
	}

	if err := c.openGroupCon(conn); err != nil {
		conn.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("%w: handshake: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	c.wg.Add(2)
	go c.callbackWorker()
	go c.receiveLoop()
	return c, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// parseConnectionURL splits a knxd URL into dial arguments.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:6720"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// openGroupCon performs the EIB_OPEN_GROUPCON handshake on a fresh
// connection: reserved(1) + write_only(1=0x00 for bidirectional) +
// reserved(1), answered with the same message type.
func (c *Client) openGroupCon(conn net.Conn) error {
	msg := EncodeMessage(EIBOpenGroupCon, []byte{0x00, 0x00, 0x00})

	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	sizeBytes := make([]byte, 2)
	if _, err := io.ReadFull(conn, sizeBytes); err != nil {
		return fmt.Errorf("read response size: %w", err)
	}
	size := binary.BigEndian.Uint16(sizeBytes)
	if size < 2 || size > readBufferSize {
		return fmt.Errorf("invalid response size %d", size)
	}

	resp := make([]byte, 2+int(size))
	copy(resp[:2], sizeBytes)
	if _, err := io.ReadFull(conn, resp[2:]); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	msgType, _, err := ParseMessage(resp)
	if err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if msgType != EIBOpenGroupCon {
		return fmt.Errorf("unexpected response type 0x%04X", msgType)
	}
	return nil
}

// receiveLoop reads telegrams until Close, reconnecting on failure.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		msgType, payload, err := c.readMessage(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // idle bus, keep waiting
			}
			if c.isClosed() {
				return
			}
			c.markDisconnected()
			if !c.reconnect() {
				return
			}
			continue
		}

		if msgType == EIBGroupPacket && len(payload) >= 6 {
			tel, parseErr := ParseTelegram(payload)
			if parseErr != nil {
				c.logger.Warn("telegram parse failed", "error", parseErr)
				continue
			}
			select {
			case c.queue <- tel:
			default:
				// Queue full: drop rather than stall the bus reader.
				c.logger.Warn("telegram callback queue full, dropping")
			}
		}
	}
}

// readMessage reads one framed knxd message.
func (c *Client) readMessage(buf []byte) (uint16, []byte, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return 0, nil, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return 0, nil, fmt.Errorf("set deadline: %w", err)
	}
	if _, err := io.ReadFull(conn, buf[:2]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	size := binary.BigEndian.Uint16(buf[:2])
	total := 2 + int(size)
	if size < 2 || total > len(buf) {
		// Oversized frames cannot be skipped safely; force a clean
		// reconnect instead of risking misframed reads.
		conn.Close() //nolint:errcheck // desync recovery
		return 0, nil, ErrProtocolDesync
	}
	if _, err := io.ReadFull(conn, buf[2:total]); err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return ParseMessage(buf[:total])
}

// callbackWorker delivers queued telegrams to the registered callback.
func (c *Client) callbackWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case tel := <-c.queue:
			c.callbackMu.RLock()
			cb := c.onTelegram
			c.callbackMu.RUnlock()
			if cb == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error("telegram callback panic", "panic", r)
					}
				}()
				cb(tel)
			}()
		}
	}
}

// markDisconnected flips the connection state.
func (c *Client) markDisconnected() {
	c.connMu.Lock()
	if c.connected {
		c.logger.Info("knxd connection lost, reconnecting")
	}
	c.connected = false
	c.connMu.Unlock()
}

// reconnect re-establishes the connection with exponential backoff.
// Returns false when shutdown was signalled.
func (c *Client) reconnect() bool {
	network, address, err := parseConnectionURL(c.cfg.Connection)
	if err != nil {
		c.logger.Error("reconnect: invalid connection URL", "error", err)
		return false
	}

	backoff := c.cfg.ReconnectInterval
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close() //nolint:errcheck // replacing connection
			c.conn = nil
		}
		c.connMu.Unlock()

		dialCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		var dialer net.Dialer
		conn, err := dialer.DialContext(dialCtx, network, address)
		cancel()
		if err == nil {
			err = c.openGroupCon(conn)
			if err != nil {
				conn.Close() //nolint:errcheck // handshake failed
			}
		}
		if err != nil {
			c.logger.Warn("reconnect attempt failed", "error", err, "backoff", backoff.String())
			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > maxReconnectInterval {
				backoff = maxReconnectInterval
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connected = true
		c.connMu.Unlock()
		c.logger.Info("knxd reconnected")
		return true
	}
}

// isClosed reports whether Close was called.
func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send transmits a group write telegram.
func (c *Client) Send(ctx context.Context, ga GroupAddress, data []byte) error {
	return c.send(ctx, NewWriteTelegram(ga, data))
}

// SendRead transmits a group read request.
func (c *Client) SendRead(ctx context.Context, ga GroupAddress) error {
	return c.send(ctx, NewReadTelegram(ga))
}

func (c *Client) send(ctx context.Context, t Telegram) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTelegramFailed, ctx.Err())
	default:
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrTelegramFailed, err)
	}
	if _, err := conn.Write(EncodeMessage(EIBGroupPacket, t.Encode())); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTelegramFailed, err)
	}
	return nil
}

// SetOnTelegram registers the inbound telegram callback.
func (c *Client) SetOnTelegram(callback func(Telegram)) {
	c.callbackMu.Lock()
	c.onTelegram = callback
	c.callbackMu.Unlock()
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Close shuts the client down and waits for its goroutines.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.doneOnce.Do(func() { close(c.done) })

	c.connMu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck // unblocks pending reads
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}
