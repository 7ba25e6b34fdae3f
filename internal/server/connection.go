package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var ErrConnectionClosed = websocket.ErrCloseSent

// Connection wraps one websocket client. Each connection gets a fresh id;
// player identity across reconnects lives in the stable account id instead.
type Connection struct {
	id        string
	conn      *websocket.Conn
	send      chan *Message
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	service   *GameService
}

// NewConnection creates a connection wrapper around an upgraded websocket.
func NewConnection(conn *websocket.Conn, logger *log.Logger, service *GameService) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	return &Connection{
		id:      id,
		conn:    conn,
		send:    make(chan *Message, 256),
		logger:  logger.WithPrefix("conn").With("conn", id[:8]),
		ctx:     ctx,
		cancel:  cancel,
		service: service,
	}
}

// ID returns the volatile connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Start begins handling the connection.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues a message for the client without blocking; a client
// that cannot drain its buffer is dropped.
func (c *Connection) SendMessage(msg *Message) error {
	defer func() {
		if r := recover(); r != nil {
			// Channel closed during shutdown.
			c.logger.Debug("Attempted to send on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		_ = c.Close()
		return ErrConnectionClosed
	}
}

// readPump handles incoming messages from the client.
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage routes a client request to the game service.
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type)

	switch msg.Type {
	case MessageTypeCreateRoom:
		var data CreateRoomData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendParseError(msg)
			return
		}
		c.service.HandleCreateRoom(c, data, msg.RequestID)

	case MessageTypeJoinRoom:
		var data JoinRoomData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendParseError(msg)
			return
		}
		c.service.HandleJoinRoom(c, data, msg.RequestID)

	case MessageTypeMarkNumber:
		var data MarkNumberData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendParseError(msg)
			return
		}
		c.service.HandleMarkNumber(c, data, msg.RequestID)

	case MessageTypeClaimWin:
		var data ClaimWinData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendParseError(msg)
			return
		}
		c.service.HandleClaimWin(c, data, msg.RequestID)

	case MessageTypeRejoinRequest:
		var data RejoinData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendParseError(msg)
			return
		}
		c.service.HandleRejoin(c, data, msg.RequestID)

	case MessageTypeRequestRematch:
		var data RequestRematchData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendParseError(msg)
			return
		}
		c.service.HandleRequestRematch(c, data)

	case MessageTypeRespondRematch:
		var data RespondRematchData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendParseError(msg)
			return
		}
		c.service.HandleRespondRematch(c, data, msg.RequestID)

	default:
		errorMsg, err := NewResponse(MessageTypeError, ErrorData{
			Code:    "unknown_message_type",
			Message: "Unknown message type: " + msg.Type.String(),
		}, msg.RequestID)
		if err == nil {
			_ = c.SendMessage(errorMsg)
		}
	}
}

func (c *Connection) sendParseError(msg *Message) {
	errorMsg, err := NewResponse(MessageTypeError, ErrorData{
		Code:    "invalid_message",
		Message: "Failed to parse " + msg.Type.String() + " data",
	}, msg.RequestID)
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}
	_ = c.SendMessage(errorMsg)
}
