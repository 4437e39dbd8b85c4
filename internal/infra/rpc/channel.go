package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go_http_interceptor/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// HandlerFunc receives every message that is not a reply. It runs on the read loop,
// so anything slow must be handed off.
type HandlerFunc func(ch *Channel, msg *Message)

// Channel is a bidirectional, ordered message stream with request/reply correlation.
type Channel struct {
	conn    *websocket.Conn
	handler HandlerFunc

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *Message

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Dial connects to a websocket endpoint such as ws://localhost:4000/.interceptor/rpc.
func Dial(ctx context.Context, endpoint string, handler HandlerFunc) (*Channel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return NewChannel(conn, handler), nil
}

// NewChannel wraps an established connection and starts its read loop.
func NewChannel(conn *websocket.Conn, handler HandlerFunc) *Channel {
	c := &Channel{
		conn:    conn,
		handler: handler,
		pending: make(map[string]chan *Message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Request sends a message and waits for its reply.
func (c *Channel) Request(ctx context.Context, typ MessageType, data any) (*Message, error) {
	msg, err := newMessage(typ, "", data)
	if err != nil {
		return nil, err
	}

	replyCh := make(chan *Message, 1)
	c.pendingMu.Lock()
	if c.isClosed() {
		c.pendingMu.Unlock()
		return nil, c.closedErr()
	}
	c.pending[msg.ID] = replyCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-c.done:
		return nil, c.closedErr()
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s reply: %w", typ, ctx.Err())
	}
}

// Reply answers req.
func (c *Channel) Reply(req *Message, typ MessageType, data any) error {
	msg, err := newMessage(typ, req.ID, data)
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Done is closed once the connection is gone.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns why the channel closed, nil while it is open.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
		return nil
	}
}

func (c *Channel) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(nil)
	return nil
}

func (c *Channel) write(msg *Message) error {
	if c.isClosed() {
		return c.closedErr()
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.shutdown(err)
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

func (c *Channel) readLoop() {
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(nil)
			} else {
				c.shutdown(err)
			}
			return
		}

		if msg.ReplyTo != "" {
			c.pendingMu.Lock()
			replyCh, ok := c.pending[msg.ReplyTo]
			c.pendingMu.Unlock()
			if ok {
				select {
				case replyCh <- &msg:
				default:
				}
			} else {
				utils.GetLogger().WithField("replyTo", msg.ReplyTo).Debug("dropping reply without a pending request")
			}
			continue
		}

		if c.handler != nil {
			c.handler(c, &msg)
		}
	}
}

func (c *Channel) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.pendingMu.Lock()
		c.err = err
		close(c.done)
		c.pendingMu.Unlock()
		_ = c.conn.Close()
		if err != nil {
			utils.GetLogger().WithError(err).Warn("interceptor rpc connection lost")
		}
	})
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Channel) closedErr() error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.err != nil && !errors.Is(c.err, ErrConnectionClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, c.err)
	}
	return ErrConnectionClosed
}

func newMessage(typ MessageType, replyTo string, data any) (*Message, error) {
	msg := &Message{ID: uuid.NewString(), Type: typ, ReplyTo: replyTo}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s message: %w", typ, err)
		}
		msg.Data = raw
	}
	return msg, nil
}
