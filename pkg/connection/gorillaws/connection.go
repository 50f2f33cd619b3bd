package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kuppel/kuppel.go/internal/rand"
	"github.com/kuppel/kuppel.go/pkg/connection"
	"github.com/kuppel/kuppel.go/pkg/constants"

	gorilla "github.com/gorilla/websocket"
)

// DefaultDialer is the gorilla default dialer with compression enabled
// and the "cbor" subprotocol requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

type Option func(ws *Connection) error

var _ connection.Connection = (*Connection)(nil)

type Connection struct {
	connection.Toolkit

	Conn *gorilla.Conn
	// connLock guards Conn for writes and for Close.
	connLock sync.Mutex

	// Timeout bounds the wait for an RPC response after the request was
	// written. Zero disables it and leaves the deadline to ctx.
	Timeout time.Duration

	// Header is sent with the upgrade request, e.g. the project API key.
	Header http.Header

	Option []Option

	// connCloseCh is closed once the connection is shutting down or lost.
	connCloseCh    chan int
	connCloseError error
	closeOnce      sync.Once

	closed bool
}

func New(p *connection.Config) *Connection {
	return &Connection{
		Toolkit: connection.NewToolkit(p),
		Timeout: constants.DefaultWSTimeout,
	}
}

// IsClosed reports whether the connection was closed or lost.
// A closed Connection cannot be reused; create a new one.
func (c *Connection) IsClosed() bool {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.closed
}

func (c *Connection) Connect(ctx context.Context) error {
	if err := c.PreConnectionChecks(); err != nil {
		return err
	}

	conn, res, err := DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/rpc", c.BaseURL), c.Header)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	c.connLock.Lock()
	defer c.connLock.Unlock()

	c.Conn = conn
	for _, option := range c.Option {
		if err := option(c); err != nil {
			return err
		}
	}

	c.connCloseCh = make(chan int)

	go c.readLoop()

	return nil
}

func (c *Connection) SetTimeOut(timeout time.Duration) *Connection {
	c.Option = append(c.Option, func(ws *Connection) error {
		ws.Timeout = timeout
		return nil
	})
	return c
}

func (c *Connection) SetCompression(compress bool) *Connection {
	c.Option = append(c.Option, func(ws *Connection) error {
		ws.Conn.EnableWriteCompression(compress)
		return nil
	})
	return c
}

// Close sends a close frame and closes the socket.
//
// The close frame write is bounded by ctx; the socket is closed locally
// even if the write fails or ctx expires. Every live notification
// channel is closed as well.
func (c *Connection) Close(ctx context.Context) error {
	c.connLock.Lock()
	if c.closed || c.Conn == nil {
		c.connLock.Unlock()
		return nil
	}
	c.closed = true
	conn := c.Conn
	c.connLock.Unlock()

	c.signalClosed(constants.ErrConnectionClosed)

	writeErr := make(chan error, 1)
	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetWriteDeadline(deadline); err != nil {
				writeErr <- err
				return
			}
		}
		c.connLock.Lock()
		err := conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
		c.connLock.Unlock()
		writeErr <- err
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.Logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	c.CloseAllLiveNotifications()

	return conn.Close()
}

// Send writes one request and waits for the matching response.
//
// The wait is bounded by c.Timeout when set, and always by ctx.
func (c *Connection) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	select {
	case <-c.connCloseCh:
		return nil, c.connCloseError
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	id := rand.NewRequestID(constants.RequestIDLength)
	request := &connection.RPCRequest{
		ID:     id,
		Method: method,
		Params: params,
	}

	responseChan, err := c.CreateResponseChannel(id)
	if err != nil {
		return nil, err
	}
	defer c.RemoveResponseChannel(id)

	if err := c.write(request); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", constants.ErrTimeout, method)
		}
		return nil, ctx.Err()
	case <-c.connCloseCh:
		return nil, c.connCloseError
	case res := <-responseChan:
		if res.Error != nil {
			return nil, res.Error
		}
		return &res, nil
	}
}

func (c *Connection) write(v any) error {
	data, err := c.Marshaler.Marshal(v)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.Conn == nil || c.closed {
		return constants.ErrConnectionClosed
	}
	err = c.Conn.WriteMessage(gorilla.BinaryMessage, data)

	if errors.Is(err, gorilla.ErrCloseSent) {
		c.closed = true
		c.signalClosed(err)
	}

	return err
}

func (c *Connection) signalClosed(err error) {
	c.closeOnce.Do(func() {
		c.connCloseError = err
		close(c.connCloseCh)
	})
}

// readLoop runs until the socket fails. gorilla returns the same error
// for every read after the first failure, so any read error ends it.
func (c *Connection) readLoop() {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.handleError(err)
			c.connLock.Lock()
			c.closed = true
			c.connLock.Unlock()
			c.CloseAllLiveNotifications()
			return
		}
		c.handleResponse(data)
	}
}

func (c *Connection) handleError(err error) {
	switch {
	case errors.Is(err, net.ErrClosed):
		c.signalClosed(net.ErrClosed)
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway):
		c.signalClosed(constants.ErrConnectionClosed)
	case gorilla.IsUnexpectedCloseError(err):
		c.Logger.Warn("connection closed unexpectedly", "error", err)
		c.signalClosed(io.ErrClosedPipe)
	default:
		c.Logger.Error("read failed", "error", err)
		c.signalClosed(err)
	}
}

func (c *Connection) handleResponse(res []byte) {
	var rpcRes connection.RPCResponse[cbor.RawMessage]
	if err := c.Unmarshaler.Unmarshal(res, &rpcRes); err != nil {
		c.Logger.Error("undecodable message", "error", err, "bytes", len(res))
		return
	}

	if rpcRes.ID != nil && rpcRes.ID != "" {
		id := fmt.Sprintf("%v", rpcRes.ID)
		responseChan, ok := c.GetResponseChannel(id)
		if !ok {
			c.Logger.Error("unavailable response channel", "id", id)
			return
		}
		// buffered with capacity 1, and each id gets one response
		responseChan <- rpcRes
		return
	}

	if rpcRes.Result == nil {
		// errors without an id cannot be routed to a caller
		if rpcRes.Error != nil {
			c.Logger.Error("error response without id", "error", rpcRes.Error.Error())
		}
		return
	}

	var notification connection.Notification
	if err := c.Unmarshaler.Unmarshal(*rpcRes.Result, &notification); err != nil {
		c.Logger.Error("error unmarshaling as notification", "error", err)
		return
	}

	if notification.ID == "" {
		c.Logger.Error("notification did not contain an 'id' field")
		return
	}

	c.DeliverNotification(notification)
}
