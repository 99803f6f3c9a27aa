// Package peerclient is a minimal WebSocket client that speaks the host protocol. It
// backs the peerctl tool and end-to-end tests.
package peerclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/minigolf/internal/protocol"
)

// ErrClosed is returned by Next after the connection has ended.
var ErrClosed = errors.New("peerclient: connection closed")

// Client is one emulated game client.
type Client struct {
	conn   *gws.Conn
	codec  *protocol.Codec
	frame  int
	logger *zap.Logger

	writeMu sync.Mutex
	inbound chan protocol.Message
	done    chan struct{}
	err     error
}

// Dial connects to url and starts reading.
//
// Precondition: url is a ws:// or wss:// URL; codec is non-nil.
// Postcondition: the caller must Close the returned client.
func Dial(ctx context.Context, url string, codec *protocol.Codec, logger *zap.Logger) (*Client, error) {
	conn, resp, err := gws.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	frame := gws.TextMessage
	if codec.Envelope() == protocol.EnvelopeBinary {
		frame = gws.BinaryMessage
	}
	c := &Client{
		conn:    conn,
		codec:   codec,
		frame:   frame,
		logger:  logger,
		inbound: make(chan protocol.Message, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		msg, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable message", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		select {
		case c.inbound <- msg:
		case <-time.After(time.Second):
			c.logger.Warn("inbound buffer full, dropping message", zap.String("tag", string(msg.Tag)))
		}
	}
}

// Send encodes msg and writes one frame.
func (c *Client) Send(msg protocol.Message) error {
	data, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(c.frame, data); err != nil {
		return fmt.Errorf("writing %s: %w", msg.Tag, err)
	}
	return nil
}

// Init announces the client identity.
func (c *Client) Init(id, username, email string) error {
	return c.Send(protocol.InitPlayerConnection(id, username, email))
}

// HeartBeat sends one heartbeat for id.
func (c *Client) HeartBeat(id string) error {
	msg, err := protocol.PacketHeartBeat(protocol.HeartBeat{PlayerID: id})
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Next returns the next inbound message.
//
// Postcondition: returns ErrClosed once the connection has ended and the buffer is empty.
func (c *Client) Next(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.done:
		select {
		case msg := <-c.inbound:
			return msg, nil
		default:
		}
		if c.err != nil {
			return protocol.Message{}, fmt.Errorf("%w: %v", ErrClosed, c.err)
		}
		return protocol.Message{}, ErrClosed
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Await returns the first inbound message with tag, discarding others.
func (c *Client) Await(ctx context.Context, tag protocol.Tag) (protocol.Message, error) {
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			return protocol.Message{}, err
		}
		if msg.Tag == tag {
			return msg, nil
		}
	}
}

// FullMapSets requests the whole catalog and waits for the reply.
func (c *Client) FullMapSets(ctx context.Context, id string) ([]protocol.MapSet, error) {
	if err := c.Send(protocol.RequestFullMapSets(id)); err != nil {
		return nil, err
	}
	msg, err := c.Await(ctx, protocol.TagFullMapSets)
	if err != nil {
		return nil, err
	}
	return msg.MapSets()
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}
