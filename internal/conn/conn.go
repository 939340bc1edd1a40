package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/floo/internal/floourl"
	"github.com/dshills/floo/internal/protocol"
)

// ErrClosed is returned by transports used after Close.
var ErrClosed = errors.New("connection closed")

// Callbacks receive connection events. Each may be nil.
type Callbacks struct {
	// OnConnect is called once the transport is up, before any message is
	// read.
	OnConnect func()
	// OnMessage is called for every decoded frame, in arrival order, one at a
	// time, on the read goroutine.
	OnMessage func(name string, payload json.RawMessage)
	// OnClose is called exactly once after Start, when the connection ends.
	// err is nil when Shutdown ended it.
	OnClose func(err error)
}

// Conn is one connection to the service.
type Conn struct {
	url    floourl.URL
	dialer Dialer
	cb     Callbacks

	mu        sync.Mutex
	queue     [][]byte
	transport Transport
	cancel    context.CancelFunc
	started   bool
	closed    bool

	notify   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// New returns an unstarted connection to u.
func New(u floourl.URL, dialer Dialer, cb Callbacks) *Conn {
	return &Conn{
		url:    u,
		dialer: dialer,
		cb:     cb,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start dials in the background. Calling it more than once, or after
// Shutdown, has no effect.
func (c *Conn) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Done is closed once the connection has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Write encodes m and queues it for sending. It never blocks. Messages
// written after Shutdown are dropped.
func (c *Conn) Write(m protocol.Message) {
	frame, err := protocol.Encode(m)
	if err != nil {
		glog.Errorf("[conn]encode %s error = %s\n", m.MessageName(), err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		glog.V(2).Infof("[conn]drop %s->\n", m.MessageName())
		return
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Shutdown closes the connection. It is idempotent and may be called from
// any goroutine, including a callback.
func (c *Conn) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	cancel := c.cancel
	t := c.transport
	started := c.started
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		t.Close()
	}
	if !started {
		c.doneOnce.Do(func() { close(c.done) })
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) run(ctx context.Context) {
	err := c.connectAndServe(ctx)
	if c.isClosed() {
		err = nil
	}
	if err != nil {
		glog.Infof("[conn]%s closed error = %s\n", c.url, err)
	} else {
		glog.V(1).Infof("[conn]%s closed\n", c.url)
	}

	c.mu.Lock()
	c.closed = true
	c.queue = nil
	c.mu.Unlock()

	if c.cb.OnClose != nil {
		c.cb.OnClose(err)
	}
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Conn) connectAndServe(ctx context.Context) error {
	glog.Infof("[conn]connecting to %s\n", c.url.Address())
	t, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Close()
		return ErrClosed
	}
	c.transport = t
	c.mu.Unlock()
	defer t.Close()

	glog.Infof("[conn]connected to %s\n", c.url.Address())
	if c.cb.OnConnect != nil {
		c.cb.OnConnect()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.writeLoop(gctx, t)
	})
	g.Go(func() error {
		return c.readLoop(t)
	})
	g.Go(func() error {
		<-gctx.Done()
		t.Close()
		return nil
	})
	return g.Wait()
}

func (c *Conn) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := c.queue
	c.queue = nil
	return frames
}

func (c *Conn) writeLoop(ctx context.Context, t Transport) error {
	for {
		for _, frame := range c.drain() {
			if err := t.WriteFrame(frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			glog.V(2).Infof("[conn]->%d bytes\n", len(frame))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-c.notify:
		}
	}
}

func (c *Conn) readLoop(t Transport) error {
	for {
		frame, err := t.ReadFrame()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		name, payload, err := protocol.Decode(frame)
		if err != nil {
			glog.Warningf("[conn]drop frame error = %s\n", err)
			continue
		}
		glog.V(2).Infof("[conn]<-%s\n", name)
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(name, payload)
		}
	}
}
