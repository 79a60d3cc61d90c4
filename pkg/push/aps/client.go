// Package aps implements a client for the Apple Push Notification service
// binary gateway: the enhanced notification frame format over persistent
// TLS, the asynchronous error-response stream, and the separate feedback
// channel that reports unregistered device tokens.
package aps

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/catch/postal/pkg/push"
)

// Gateway and feedback endpoints. Production or sandbox is selected by
// configuration; the sandbox hosts parallel the production ones.
const (
	GatewayHost         = "gateway.push.apple.com:2195"
	SandboxGatewayHost  = "gateway.sandbox.push.apple.com:2195"
	FeedbackHost        = "feedback.push.apple.com:2196"
	SandboxFeedbackHost = "feedback.sandbox.push.apple.com:2196"
)

// State is the connection state of the client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisposed
)

// Dialer opens the transport to a gateway endpoint. The default dialer
// performs a TLS handshake with the configured client certificate; tests
// substitute in-memory pipes.
type Dialer interface {
	DialContext(ctx context.Context, addr string) (net.Conn, error)
}

type tlsDialer struct {
	conf *tls.Config
}

func (d *tlsDialer) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	td := &tls.Dialer{NetDialer: &net.Dialer{}, Config: d.conf}
	return td.DialContext(ctx, "tcp", addr)
}

// Config carries the client settings.
type Config struct {
	GatewayAddr  string
	FeedbackAddr string

	// CertFile and KeyFile locate the PEM client certificate presented to
	// Apple. A load failure is surfaced on Deliver as ErrTLSNotAvailable.
	CertFile string
	KeyFile  string

	// FeedbackInterval is how often the feedback channel is polled.
	// Defaults to 10 minutes.
	FeedbackInterval time.Duration

	// AckTimeout is how long a send stays pending before success is
	// inferred. Apple replies only on failure, so absence of an error frame
	// within this window is the positive acknowledgement. Defaults to 2s.
	AckTimeout time.Duration

	// ConnectTimeout bounds gateway and feedback connects. Defaults to 60s.
	ConnectTimeout time.Duration

	// Dialer overrides transport dialing. When set, CertFile/KeyFile are
	// not loaded.
	Dialer Dialer
}

type pendingSend struct {
	token string
	done  chan error
}

// Client is a persistent-connection sender for the APNs binary gateway.
// Frames are written in Deliver order; completions fire out of order as
// timers and error frames interleave, so callers must not assume per-token
// ordering.
type Client struct {
	cfg       Config
	logger    zerolog.Logger
	dialer    Dialer
	tlsErr    error
	onRemoved push.IdentityRemovedFunc

	mu      sync.Mutex
	wmu     sync.Mutex
	state   State
	conn    net.Conn
	lastID  uint32
	pending map[uint32]*pendingSend
	queue   [][]byte

	done         chan struct{}
	feedbackOnce sync.Once
}

// NewClient returns a client for the configured gateway. The TLS certificate
// is loaded eagerly; a load failure is remembered and reported on the first
// Deliver rather than aborting construction.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.GatewayAddr == "" {
		cfg.GatewayAddr = GatewayHost
	}
	if cfg.FeedbackAddr == "" {
		cfg.FeedbackAddr = FeedbackHost
	}
	if cfg.FeedbackInterval <= 0 {
		cfg.FeedbackInterval = 10 * time.Minute
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 2 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 60 * time.Second
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger.With().Str("component", "aps-client").Logger(),
		dialer:  cfg.Dialer,
		pending: make(map[uint32]*pendingSend),
		lastID:  rand.Uint32(),
		done:    make(chan struct{}),
	}

	if c.dialer == nil {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to load TLS certificate")
			c.tlsErr = ErrTLSNotAvailable
		} else {
			c.dialer = &tlsDialer{conf: &tls.Config{Certificates: []tls.Certificate{cert}}}
		}
	}
	return c
}

// OnIdentityRemoved registers the callback invoked when the gateway reports
// a token as no longer deliverable (error status 8 or a feedback record).
// It must be set before the first Deliver.
func (c *Client) OnIdentityRemoved(fn push.IdentityRemovedFunc) {
	c.onRemoved = fn
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Deliver sends message to the device identified by deviceToken (64
// lowercase hex characters) and blocks until the send reaches a terminal
// state: an error frame naming it, inferred success after AckTimeout or on
// connection EOF, or cancellation of ctx.
func (c *Client) Deliver(ctx context.Context, deviceToken string, message *Message) error {
	if c.tlsErr != nil {
		return c.tlsErr
	}

	token, err := decodeToken(deviceToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return ErrCancelled
	}
	c.lastID++
	id := c.lastID
	frame := encodeFrame(id, message.ExpiresAt(), token, message.JSON())
	p := &pendingSend{token: deviceToken, done: make(chan error, 1)}
	c.pending[id] = p

	var conn net.Conn
	if c.state == StateConnected {
		conn = c.conn
	} else {
		c.queue = append(c.queue, frame)
		if c.state == StateIdle {
			c.state = StateConnecting
			go c.connect()
		}
	}
	c.mu.Unlock()

	if conn != nil {
		c.writeFrame(conn, frame)
	}

	timer := time.AfterFunc(c.cfg.AckTimeout, func() {
		c.complete(id, nil)
	})
	defer timer.Stop()

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		c.complete(id, ErrCancelled)
		return ErrCancelled
	}
}

// Dispose shuts the client down: the gateway connection is closed, queued
// frames are dropped, every outstanding completion fails with ErrCancelled
// and the feedback poller stops. A disposed client is terminal.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisposed
	conn := c.conn
	c.conn = nil
	pend := c.pending
	c.pending = make(map[uint32]*pendingSend)
	c.queue = nil
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	for _, p := range pend {
		p.done <- ErrCancelled
	}
}

// complete resolves a pending send, if it is still pending. Both the ack
// timer and the error-frame reader funnel through here, so whichever fires
// first wins and the loser finds the map entry gone.
func (c *Client) complete(id uint32, result error) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		p.done <- result
	}
}

func (c *Client) connect() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		dialCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		conn, err := c.dialer.DialContext(dialCtx, c.cfg.GatewayAddr)
		cancel()

		if err == nil {
			c.mu.Lock()
			if c.state == StateDisposed {
				c.mu.Unlock()
				conn.Close()
				return
			}
			c.state = StateConnected
			c.conn = conn
			queued := c.queue
			c.queue = nil
			// Take the write lock before publishing the connection so that
			// no direct write from Deliver can overtake the queued frames.
			c.wmu.Lock()
			c.mu.Unlock()

			var werr error
			for _, frame := range queued {
				if _, werr = conn.Write(frame); werr != nil {
					break
				}
			}
			c.wmu.Unlock()
			if werr != nil {
				c.logger.Warn().Err(werr).Msg("gateway write failed")
				c.connectionLost(conn)
			}
			go c.readGateway(conn)
			c.feedbackOnce.Do(func() {
				go c.feedbackLoop()
			})
			return
		}

		c.logger.Warn().Err(err).Str("gateway", c.cfg.GatewayAddr).Msg("failed to connect to gateway")

		select {
		case <-c.done:
			return
		case <-time.After(bo.NextBackOff()):
		}

		c.mu.Lock()
		if c.state != StateConnecting {
			c.mu.Unlock()
			return
		}
		if len(c.pending) == 0 {
			// Every queued frame's completion has already been resolved.
			c.state = StateIdle
			c.queue = nil
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Client) writeFrame(conn net.Conn, frame []byte) {
	c.wmu.Lock()
	_, err := conn.Write(frame)
	c.wmu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Msg("gateway write failed")
		c.connectionLost(conn)
	}
}

// readGateway consumes the gateway input. Apple replies only on failure,
// with exactly six bytes: command 8, a status, and the request id of the
// frame that failed. Any read error or short read is EOF: the gateway has
// closed the connection.
func (c *Client) readGateway(conn net.Conn) {
	buf := make([]byte, 6)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			c.connectionLost(conn)
			return
		}
		if buf[0] != 8 {
			c.logger.Warn().Uint8("command", buf[0]).Msg("unexpected gateway frame")
			c.connectionLost(conn)
			return
		}
		status := buf[1]
		id := binary.BigEndian.Uint32(buf[2:6])
		c.dispatchError(id, status)
	}
}

func (c *Client) dispatchError(id uint32, status uint8) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if status == statusInvalidToken && c.onRemoved != nil {
		c.onRemoved(p.token)
	}
	p.done <- errorForStatus(status)
}

// connectionLost handles EOF on the gateway: every completion still pending
// is marked successful (the gateway discarded nothing it acknowledged by
// silence) and the client returns to idle until the next Deliver.
func (c *Client) connectionLost(conn net.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.state != StateDisposed {
		c.state = StateIdle
	}
	pend := c.pending
	c.pending = make(map[uint32]*pendingSend)
	c.queue = nil
	c.mu.Unlock()

	conn.Close()
	for _, p := range pend {
		p.done <- nil
	}
}

func (c *Client) feedbackLoop() {
	ticker := time.NewTicker(c.cfg.FeedbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.readFeedback()
		}
	}
}

// readFeedback opens a fresh connection to the feedback service and streams
// its fixed 38-byte records until EOF. Each record names a token that is no
// longer registered.
func (c *Client) readFeedback() {
	dialCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	conn, err := c.dialer.DialContext(dialCtx, c.cfg.FeedbackAddr)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Str("feedback", c.cfg.FeedbackAddr).Msg("failed to connect to feedback service")
		return
	}
	defer conn.Close()

	buf := make([]byte, 38)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		tokenLen := binary.BigEndian.Uint16(buf[4:6])
		if tokenLen != 32 {
			c.logger.Warn().Uint16("token_length", tokenLen).Msg("malformed feedback record")
			return
		}
		if c.onRemoved != nil {
			c.onRemoved(hex.EncodeToString(buf[6:38]))
		}
	}
}

// encodeFrame builds an enhanced-format notification frame.
func encodeFrame(requestID uint32, expiresAt *time.Time, token, payload []byte) []byte {
	frame := make([]byte, 0, 45+len(payload))
	frame = append(frame, 1)
	frame = binary.BigEndian.AppendUint32(frame, requestID)
	var expiry uint32
	if expiresAt != nil {
		expiry = uint32(expiresAt.Unix())
	}
	frame = binary.BigEndian.AppendUint32(frame, expiry)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(token)))
	frame = append(frame, token...)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)
	return frame
}

// decodeToken validates and decodes a device token. The gateway requires 32
// raw bytes, carried as 64 lowercase hex characters.
func decodeToken(deviceToken string) ([]byte, error) {
	if len(deviceToken) != 64 {
		return nil, ErrInvalidTokenSize
	}
	if deviceToken != strings.ToLower(deviceToken) {
		return nil, ErrInvalidToken
	}
	token, err := hex.DecodeString(deviceToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return token, nil
}
