package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/geta-app/geta/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	eventTimeout   = 10 * time.Second
)

type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        zerolog.Logger
	user       types.User
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once
	ctx        context.Context
	cancel     context.CancelFunc

	// gen is assigned by the chat server when the client is registered.
	gen uint64
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l.With().Int("user_id", user.Id).Logger(),
		user:       user,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Str("event", msg.Event).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		c.handleMessage(&msg)
	}
}

// handleMessage runs one client event to completion. Events from a single
// connection are therefore processed in the order they were received.
func (c *Client) handleMessage(msg *ClientMessage) {
	if !c.chatServer.beginEvent() {
		return
	}
	defer c.chatServer.endEvent()

	ctx, cancel := context.WithTimeout(c.ctx, eventTimeout)
	defer cancel()

	switch msg.Event {
	case EventGetConversations:
		c.getConversations(ctx, msg)
	case EventGetMessages:
		c.getMessages(ctx, msg)
	case EventSendMessage:
		c.sendChatMessage(ctx, msg)
	case EventCreateConversation:
		c.createConversation(ctx, msg)
	case EventMarkRead:
		c.markRead(ctx, msg)
	default:
		c.queueMessage(ErrUnknownEvent(msg.Id, msg.Event))
	}
}

func (c *Client) getConversations(ctx context.Context, msg *ClientMessage) {
	conversations, err := c.chatServer.ListConversations(ctx, c.user.Id)
	if err != nil {
		c.handleError(msg, err)
		return
	}

	c.queueMessage(NewServerMessage(msg.Id, EventConversationsList, conversations))
}

func (c *Client) getMessages(ctx context.Context, msg *ClientMessage) {
	var req GetMessagesRequest
	if !c.decodeData(msg, &req) || !c.requireConversation(msg, req.ConversationId) {
		return
	}

	messages, err := c.chatServer.GetMessages(ctx, c.user.Id, req.ConversationId, req.Limit, req.Offset)
	if err != nil {
		c.handleError(msg, err)
		return
	}

	c.queueMessage(NewServerMessage(msg.Id, EventMessagesList, MessagesList{
		ConversationId: req.ConversationId,
		Messages:       messages,
	}))
}

// sendChatMessage needs no direct reply: the sender receives the
// new_message fan-out like every other online participant.
func (c *Client) sendChatMessage(ctx context.Context, msg *ClientMessage) {
	var req SendMessageRequest
	if !c.decodeData(msg, &req) || !c.requireConversation(msg, req.ConversationId) {
		return
	}

	if _, err := c.chatServer.SendMessage(ctx, c.user, req.ConversationId, req.Content); err != nil {
		c.handleError(msg, err)
	}
}

func (c *Client) createConversation(ctx context.Context, msg *ClientMessage) {
	var req CreateConversationRequest
	if !c.decodeData(msg, &req) {
		return
	}

	conversation, err := c.chatServer.CreateConversation(ctx, c.user.Id, req.ParticipantIds)
	if err != nil {
		c.handleError(msg, err)
		return
	}

	c.queueMessage(NewServerMessage(msg.Id, EventConversationCreated, conversation))
}

func (c *Client) markRead(ctx context.Context, msg *ClientMessage) {
	var req MarkReadRequest
	if !c.decodeData(msg, &req) || !c.requireConversation(msg, req.ConversationId) {
		return
	}

	n, err := c.chatServer.MarkRead(ctx, c.user.Id, req.ConversationId)
	if err != nil {
		c.handleError(msg, err)
		return
	}

	c.queueMessage(NewServerMessage(msg.Id, EventMessagesRead, MessagesRead{
		ConversationId: req.ConversationId,
		Count:          n,
	}))
}

func (c *Client) decodeData(msg *ClientMessage, dst any) bool {
	if len(msg.Data) == 0 {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return false
	}

	if err := json.Unmarshal(msg.Data, dst); err != nil {
		c.log.Debug().Err(err).Str("event", msg.Event).Msg("invalid event data")
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return false
	}

	return true
}

func (c *Client) requireConversation(msg *ClientMessage, conversationId int) bool {
	if conversationId <= 0 {
		c.queueMessage(ErrorMessage(msg.Id, "conversation_id is required"))
		return false
	}
	return true
}

// handleError reports a failed event to this client only. Store failures
// are logged and surfaced as a generic error.
func (c *Client) handleError(msg *ClientMessage, err error) {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidContent),
		errors.Is(err, ErrInvalidParticipants):
		c.queueMessage(ErrorMessage(msg.Id, err.Error()))
	default:
		c.log.Error().Err(err).Str("event", msg.Event).Msg("chat operation failed")
		c.queueMessage(ErrInternalError(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Str("event", msg.Event).Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.deregister(c)
	c.cancel()
	c.stopClient()
}
