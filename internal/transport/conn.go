package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/gorilla/websocket"
)

// Kind selects the wire carrier.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "websocket"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindTCP:
		return KindTCP, nil
	case KindWebSocket, "ws":
		return KindWebSocket, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// wireConn is one established carrier.
type wireConn interface {
	WriteRequest(req protocol.Request, deadline time.Time) error
	ReadResponse() (protocol.Response, error)
	Close() error
}

type tcpConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	maxSize int
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration, maxSize int) (wireConn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpConn{conn: conn, reader: bufio.NewReader(conn), maxSize: maxSize}, nil
}

func (c *tcpConn) WriteRequest(req protocol.Request, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return protocol.WriteMessage(c.conn, req)
}

func (c *tcpConn) ReadResponse() (protocol.Response, error) {
	return protocol.ReadResponse(c.reader, c.maxSize)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

type wsConn struct {
	conn *websocket.Conn
}

func dialWebSocket(ctx context.Context, addr, path string, timeout time.Duration, maxSize int) (wireConn, error) {
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, _, err := dialer.DialContext(ctx, "ws://"+addr+path, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(int64(maxSize))
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) WriteRequest(req protocol.Request, deadline time.Time) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) ReadResponse() (protocol.Response, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return protocol.Response{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		return protocol.DecodeResponse(data)
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
