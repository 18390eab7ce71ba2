package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxlink/internal/ports"
)

// ErrClosed is returned by Send once the connection has shut down.
var ErrClosed = errors.New("socket closed")

// Config controls websocket dialing.
type Config struct {
	HandshakeTimeout time.Duration
	Header           http.Header
	SendBuffer       int
	ReceiveBuffer    int
}

// Dialer implements ports.SocketDialer on top of gorilla/websocket.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewDialer(cfg Config) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.ReceiveBuffer <= 0 {
		cfg.ReceiveBuffer = 64
	}
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, url string) (ports.SocketConn, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("socket url is not configured")
	}

	ws, _, err := d.dialer.DialContext(ctx, url, d.cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	conn := &Conn{
		ws:       ws,
		messages: make(chan []byte, d.cfg.ReceiveBuffer),
		outbound: make(chan []byte, d.cfg.SendBuffer),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}

	conn.wg.Add(2)
	go conn.readLoop()
	go conn.writeLoop()
	go func() {
		conn.wg.Wait()
		close(conn.messages)
		close(conn.done)
		_ = ws.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-conn.done:
		}
	}()

	return conn, nil
}

// Conn is one open websocket. Messages are delivered in arrival order on a
// single channel; outbound payloads are written by a single goroutine.
type Conn struct {
	ws *websocket.Conn

	messages chan []byte
	outbound chan []byte
	done     chan struct{}
	stop     chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Send queues a text message. It blocks while the send buffer is full and
// fails once the connection is closed.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.stop:
		return ErrClosed
	default:
	}

	copied := append([]byte(nil), payload...)
	select {
	case c.outbound <- copied:
		return nil
	case <-c.stop:
		return ErrClosed
	case <-c.done:
		if err := c.waitErr(); err != nil {
			return err
		}
		return ErrClosed
	}
}

func (c *Conn) Messages() <-chan []byte {
	return c.messages
}

// Wait blocks until both loops have exited and returns the first abnormal
// error, if any.
func (c *Conn) Wait() error {
	<-c.done
	return c.waitErr()
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
	})
	<-c.done
	return c.waitErr()
}

func (c *Conn) waitErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}
	select {
	case <-c.stop:
		return
	default:
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stop:
			return
		case payload := <-c.outbound:
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.setErr(fmt.Errorf("failed to write message: %w", err))
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.setErr(fmt.Errorf("failed to read message: %w", err))
			c.closeOnce.Do(func() { close(c.stop) })
			return
		}
		select {
		case c.messages <- payload:
		case <-c.stop:
			return
		}
	}
}
