package server

import (
	"encoding/json"
	"time"

	"github.com/geta-app/geta/internal/types"
)

// Client-to-server events.
const (
	EventGetConversations   = "get_conversations"
	EventGetMessages        = "get_messages"
	EventSendMessage        = "send_message"
	EventCreateConversation = "create_conversation"
	EventMarkRead           = "mark_read"
)

// Server-to-client events.
const (
	EventConversationsList   = "conversations_list"
	EventMessagesList        = "messages_list"
	EventNewMessage          = "new_message"
	EventConversationCreated = "conversation_created"
	EventNewConversation     = "new_conversation"
	EventMessagesRead        = "messages_read"
	EventUserConnected       = "user_connected"
	EventUserDisconnected    = "user_disconnected"
	EventError               = "error"
)

// ClientMessage is a frame received from a client. Data is decoded
// according to Event once the event is known.
type ClientMessage struct {
	Id    int             `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	Id        int       `json:"id,omitempty"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type GetMessagesRequest struct {
	ConversationId int `json:"conversation_id"`
	Limit          int `json:"limit,omitempty"`
	Offset         int `json:"offset,omitempty"`
}

type SendMessageRequest struct {
	ConversationId int    `json:"conversation_id"`
	Content        string `json:"content"`
}

type CreateConversationRequest struct {
	ParticipantIds []int `json:"participant_ids"`
}

type MarkReadRequest struct {
	ConversationId int `json:"conversation_id"`
}

type MessagesList struct {
	ConversationId int             `json:"conversation_id"`
	Messages       []types.Message `json:"messages"`
}

type MessagesRead struct {
	ConversationId int `json:"conversation_id"`
	Count          int `json:"count"`
}

type Presence struct {
	UserId int `json:"user_id"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func NewServerMessage(id int, event string, data any) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Event:     event,
		Timestamp: Now(),
		Data:      data,
	}
}

func ErrorMessage(id int, message string) *ServerMessage {
	return NewServerMessage(id, EventError, ErrorData{Message: message})
}

func ErrInternalError(id int) *ServerMessage {
	return ErrorMessage(id, "internal server error")
}

func ErrInvalidMessage(id int) *ServerMessage {
	if id < 0 {
		id = 0
	}
	return ErrorMessage(id, "invalid message format")
}

func ErrUnknownEvent(id int, event string) *ServerMessage {
	return ErrorMessage(id, "unknown event: "+event)
}

func UserConnected(userId int) *ServerMessage {
	return NewServerMessage(0, EventUserConnected, Presence{UserId: userId})
}

func UserDisconnected(userId int) *ServerMessage {
	return NewServerMessage(0, EventUserDisconnected, Presence{UserId: userId})
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}
