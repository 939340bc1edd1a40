package conn

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dshills/floo/internal/floourl"
	"github.com/dshills/floo/internal/workspace"
)

// Transport is a connected, framed, duplex channel. ReadFrame and WriteFrame
// may be called concurrently with each other but not with themselves.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Dialer opens a transport to a workspace's host.
type Dialer interface {
	Dial(ctx context.Context, u floourl.URL) (Transport, error)
}

// MaxFrameSize bounds one inbound frame. It leaves room for a base64 or
// JSON escaped file of workspace.MaxFileSize plus the message envelope.
const MaxFrameSize = 3*workspace.MaxFileSize + 64*1024

// ErrFrameTooLarge is returned when a frame exceeds the transport's limit.
var ErrFrameTooLarge = errors.New("frame too large")

// DialTimeout bounds connection setup when the context has no deadline.
const DialTimeout = 15 * time.Second

// LineTransport frames messages as newline-terminated JSON over a stream.
type LineTransport struct {
	// MaxFrame is the longest accepted line, terminator included.
	MaxFrame int

	conn   net.Conn
	reader *bufio.Reader

	wmu    sync.Mutex
	closed atomic.Bool
}

// NewLineTransport wraps c.
func NewLineTransport(c net.Conn) *LineTransport {
	return &LineTransport{
		MaxFrame: MaxFrameSize,
		conn:     c,
		reader:   bufio.NewReaderSize(c, 64*1024),
	}
}

// ReadFrame returns the next non-empty line without its terminator.
func (t *LineTransport) ReadFrame() ([]byte, error) {
	for {
		line, err := t.readLine()
		if err != nil {
			if t.closed.Load() {
				return nil, ErrClosed
			}
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
	}
}

// readLine reads up to and including the next newline, failing once the
// line grows past MaxFrame.
func (t *LineTransport) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := t.reader.ReadSlice('\n')
		if len(line)+len(chunk) > t.MaxFrame {
			return nil, ErrFrameTooLarge
		}
		line = append(line, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return line, err
	}
}

// WriteFrame writes frame followed by a newline.
func (t *LineTransport) WriteFrame(frame []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	_, err := t.conn.Write(buf)
	return err
}

// Close closes the underlying stream. It is idempotent.
func (t *LineTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.conn.Close()
}

// TCPDialer connects with newline framing, over TLS when the workspace URL
// is secure.
type TCPDialer struct {
	// TLSConfig is used for secure URLs. ServerName defaults to the host.
	TLSConfig *tls.Config
	Timeout   time.Duration
}

// Dial implements Dialer.
func (d TCPDialer) Dial(ctx context.Context, u floourl.URL) (Transport, error) {
	nd := &net.Dialer{Timeout: d.timeout(), KeepAlive: 30 * time.Second}
	if !u.Secure {
		c, err := nd.DialContext(ctx, "tcp", u.Address())
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.Address(), err)
		}
		return NewLineTransport(c), nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = u.Host
	}
	td := &tls.Dialer{NetDialer: nd, Config: cfg}
	c, err := td.DialContext(ctx, "tcp", u.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Address(), err)
	}
	return NewLineTransport(c), nil
}

func (d TCPDialer) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DialTimeout
}

// WebSocketTransport carries one message per text frame.
type WebSocketTransport struct {
	ws     *websocket.Conn
	closed atomic.Bool
}

// NewWebSocketTransport wraps ws.
func NewWebSocketTransport(ws *websocket.Conn) *WebSocketTransport {
	ws.SetReadLimit(MaxFrameSize)
	return &WebSocketTransport{ws: ws}
}

// ReadFrame returns the next text or binary message. Empty messages are
// keepalives and are skipped.
func (t *WebSocketTransport) ReadFrame() ([]byte, error) {
	for {
		messageType, message, err := t.ws.ReadMessage()
		if err != nil {
			if t.closed.Load() {
				return nil, ErrClosed
			}
			return nil, err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			if len(message) == 0 {
				continue
			}
			return message, nil
		}
	}
}

// WriteFrame sends frame as a text message.
func (t *WebSocketTransport) WriteFrame(frame []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	return t.ws.WriteMessage(websocket.TextMessage, frame)
}

// Close closes the websocket. It is idempotent.
func (t *WebSocketTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.ws.Close()
}

// WebSocketDialer connects to the service's websocket endpoint.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	// Path defaults to /ws.
	Path string
}

// URL returns the websocket endpoint for u.
func (d WebSocketDialer) URL(u floourl.URL) string {
	scheme := "ws"
	if u.Secure {
		scheme = "wss"
	}
	p := d.Path
	if p == "" {
		p = "/ws"
	}
	return (&url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(u.Host, strconv.Itoa(u.Port)),
		Path:   p,
	}).String()
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, u floourl.URL) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: DialTimeout,
		}
	}
	endpoint := d.URL(u)
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return NewWebSocketTransport(ws), nil
}
