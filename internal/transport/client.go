package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/gazectl/internal/logging"
	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/protocol/session"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownKind  = errors.New("transport: unknown kind")
	ErrNotConnected = errors.New("transport: not connected")
)

// Handler receives inbound replies and connectivity changes. Implementations
// must not block: both methods run on the connection's read loop.
type Handler interface {
	HandleResponse(resp protocol.Response, call *session.Call)
	OnConnectionStateChanged(connected bool)
}

type Config struct {
	Kind    Kind
	WSPath  string
	Session session.Config
}

func DefaultConfig() Config {
	return Config{
		Kind:    KindTCP,
		Session: session.DefaultConfig(),
	}
}

// link is one connection generation.
type link struct {
	conn wireConn
	done chan struct{}
}

// Client is the tracker transport. It is safe for concurrent use.
type Client struct {
	cfg     Config
	handler Handler
	log     zerolog.Logger
	pending *session.Pending

	mu        sync.Mutex
	writeMu   sync.Mutex
	link      *link
	connected atomic.Bool
}

func NewClient(cfg Config, handler Handler) *Client {
	cfg.Session = cfg.Session.WithDefaults()
	if strings.TrimSpace(string(cfg.Kind)) == "" {
		cfg.Kind = KindTCP
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		log:     logging.Component("transport"),
		pending: session.NewPending(),
	}
}

// Connect dials host:port, replacing any existing connection. It reports
// whether the connection is up; dial errors are logged, not returned.
func (c *Client) Connect(host string, port int, timeout time.Duration) bool {
	c.Close()
	if timeout <= 0 {
		timeout = c.cfg.Session.ConnectTimeout
	}
	addr := hostPort(host, port)

	var (
		conn wireConn
		err  error
	)
	switch c.cfg.Kind {
	case KindWebSocket:
		conn, err = dialWebSocket(context.Background(), addr, c.cfg.WSPath, timeout, c.cfg.Session.MaxMessageSize)
	default:
		conn, err = dialTCP(context.Background(), addr, timeout, c.cfg.Session.MaxMessageSize)
	}
	if err != nil {
		c.log.Warn().Str("addr", addr).Str("kind", string(c.cfg.Kind)).Err(err).Msg("dial failed")
		return false
	}

	l := &link{conn: conn, done: make(chan struct{})}
	c.mu.Lock()
	c.link = l
	c.connected.Store(true)
	c.mu.Unlock()

	go c.readLoop(l)
	c.log.Debug().Str("addr", addr).Str("kind", string(c.cfg.Kind)).Msg("connected")
	return true
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close tears the connection down and releases every pending call. It does
// not notify the handler.
func (c *Client) Close() {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.connected.Store(false)
	c.mu.Unlock()
	if l == nil {
		return
	}
	_ = l.conn.Close()
	<-l.done
	c.releasePending()
}

// PendingCount returns the number of requests awaiting a reply.
func (c *Client) PendingCount() int {
	return c.pending.Len()
}

func (c *Client) readLoop(l *link) {
	defer close(l.done)
	for {
		resp, err := l.conn.ReadResponse()
		if err != nil {
			if errors.Is(err, protocol.ErrEmptyMessage) {
				continue
			}
			// The bad line was consumed whole, so the stream is still framed.
			if errors.Is(err, protocol.ErrDecode) {
				c.log.Warn().Err(err).Msg("reply skipped")
				continue
			}
			c.dropped(l, err)
			return
		}
		var call *session.Call
		if resp.ID != nil {
			call, _ = c.pending.Resolve(*resp.ID)
		}
		c.handler.HandleResponse(resp, call)
	}
}

// dropped handles a read failure. Only the current generation reports a
// disconnect; a link replaced by Close or Connect exits quietly.
func (c *Client) dropped(l *link, err error) {
	c.mu.Lock()
	current := c.link == l
	if current {
		c.link = nil
		c.connected.Store(false)
	}
	c.mu.Unlock()
	if !current {
		return
	}
	_ = l.conn.Close()
	c.log.Warn().Err(err).Msg("connection lost")
	c.releasePending()
	c.handler.OnConnectionStateChanged(false)
}

func (c *Client) releasePending() {
	for _, call := range c.pending.Drain() {
		call.Finish(false)
	}
}

// Send issues req and returns its call. The call is nil when no connection
// is up and already finished unsuccessfully when the write fails.
func (c *Client) Send(req protocol.Request) *session.Call {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		c.log.Debug().Str("category", req.Category).Str("request", req.Request).Err(ErrNotConnected).Msg("request dropped")
		return nil
	}

	call := c.pending.Track(req)
	c.writeMu.Lock()
	err := l.conn.WriteRequest(call.Request, time.Now().Add(c.cfg.Session.WriteTimeout))
	c.writeMu.Unlock()
	if err != nil {
		c.pending.Resolve(call.ID)
		call.Finish(false)
		c.log.Warn().Int("id", call.ID).Str("category", req.Category).Str("request", req.Request).Err(err).Msg("write failed")
	}
	return call
}

func (c *Client) RequestTracker(version int) *session.Call {
	return c.Send(protocol.TrackerSetVersion(version))
}

func (c *Client) RequestAllStates() *session.Call {
	return c.Send(protocol.TrackerGet(protocol.AllStateKeys...))
}

func (c *Client) RequestCalibrationStates() *session.Call {
	return c.Send(protocol.TrackerGet(protocol.CalibrationStateKeys...))
}

func (c *Client) RequestScreenStates() *session.Call {
	return c.Send(protocol.TrackerGet(protocol.ScreenStateKeys...))
}

func (c *Client) RequestTrackerState() *session.Call {
	return c.Send(protocol.TrackerGet(protocol.TrackerStateKeys...))
}

func (c *Client) RequestScreenSwitch(index, resW, resH int, physW, physH float64) *session.Call {
	return c.Send(protocol.TrackerSetScreen(index, resW, resH, physW, physH))
}

func (c *Client) RequestCalibrationStart(pointCount int) *session.Call {
	return c.Send(protocol.CalibrationStart(pointCount))
}

func (c *Client) RequestCalibrationPointStart(x, y int) *session.Call {
	return c.Send(protocol.CalibrationPointStart(x, y))
}

func (c *Client) RequestCalibrationPointEnd() *session.Call {
	return c.Send(protocol.CalibrationPointEnd())
}

func (c *Client) RequestCalibrationAbort() *session.Call {
	return c.Send(protocol.CalibrationAbort())
}

func (c *Client) RequestCalibrationClear() *session.Call {
	return c.Send(protocol.CalibrationClear())
}
