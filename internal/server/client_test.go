package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/geta-app/geta/internal/database"
	"github.com/geta-app/geta/internal/testutil"
	"github.com/geta-app/geta/internal/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		Id:        1,
		Event:     EventMessagesRead,
		Timestamp: Now(),
		Data:      MessagesRead{ConversationId: 4, Count: 2},
	}

	expected := `{"id":1,"event":"messages_read","timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","data":{"conversation_id":4,"count":2}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected stopClient to be idempotent")

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func TestHandleMessage(t *testing.T) {
	tcases := []struct {
		name        string
		msg         ClientMessage
		setup       func(db *database.MockRepository)
		expectEvent string
		expectError string
	}{
		{
			name:        "unknown event",
			msg:         ClientMessage{Id: 1, Event: "join_room"},
			expectEvent: EventError,
			expectError: "unknown event: join_room",
		},
		{
			name:        "missing data",
			msg:         ClientMessage{Id: 2, Event: EventSendMessage},
			expectEvent: EventError,
			expectError: "invalid message format",
		},
		{
			name:        "malformed data",
			msg:         ClientMessage{Id: 3, Event: EventGetMessages, Data: json.RawMessage(`{"conversation_id":"five"}`)},
			expectEvent: EventError,
			expectError: "invalid message format",
		},
		{
			name:        "missing conversation id",
			msg:         ClientMessage{Id: 4, Event: EventMarkRead, Data: json.RawMessage(`{}`)},
			expectEvent: EventError,
			expectError: "conversation_id is required",
		},
		{
			name: "forbidden",
			msg:  ClientMessage{Id: 5, Event: EventGetMessages, Data: json.RawMessage(`{"conversation_id":9}`)},
			setup: func(db *database.MockRepository) {
				db.On("IsParticipant", alice.Id, 9).Return(false, nil).Once()
			},
			expectEvent: EventError,
			expectError: ErrForbidden.Error(),
		},
		{
			name:        "blank content",
			msg:         ClientMessage{Id: 6, Event: EventSendMessage, Data: json.RawMessage(`{"conversation_id":9,"content":" "}`)},
			expectEvent: EventError,
			expectError: ErrInvalidContent.Error(),
		},
		{
			name: "store failure is generic",
			msg:  ClientMessage{Id: 7, Event: EventGetConversations},
			setup: func(db *database.MockRepository) {
				db.On("ListConversations", alice.Id).Return(nil, errors.New("pq: relation does not exist")).Once()
			},
			expectEvent: EventError,
			expectError: "internal server error",
		},
		{
			name: "get conversations",
			msg:  ClientMessage{Id: 8, Event: EventGetConversations},
			setup: func(db *database.MockRepository) {
				db.On("ListConversations", alice.Id).Return([]database.Conversation{}, nil).Once()
			},
			expectEvent: EventConversationsList,
		},
		{
			name: "mark read",
			msg:  ClientMessage{Id: 9, Event: EventMarkRead, Data: json.RawMessage(`{"conversation_id":9}`)},
			setup: func(db *database.MockRepository) {
				db.On("IsParticipant", alice.Id, 9).Return(true, nil).Once()
				db.On("MarkRead", alice.Id, 9).Return(4, nil).Once()
			},
			expectEvent: EventMessagesRead,
		},
		{
			name: "create conversation",
			msg:  ClientMessage{Id: 10, Event: EventCreateConversation, Data: json.RawMessage(`{"participant_ids":[2]}`)},
			setup: func(db *database.MockRepository) {
				db.On("FindDirectConversation", alice.Id, bob.Id).Return(3, nil).Once()
				db.On("GetConversation", 3, alice.Id).Return(database.Conversation{Id: 3}, nil).Once()
			},
			expectEvent: EventConversationCreated,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)
			if tc.setup != nil {
				tc.setup(db)
			}

			cs := newTestChatServer(t, db, permissiveStats())
			c := newTestClient(t, cs, alice)

			c.handleMessage(&tc.msg)

			msgs := drain(c)
			require.Len(t, msgs, 1)
			assert.Equal(t, tc.msg.Id, msgs[0].Id, "expected reply to carry the request id")
			assert.Equal(t, tc.expectEvent, msgs[0].Event)
			if tc.expectError != "" {
				assert.Equal(t, ErrorData{Message: tc.expectError}, msgs[0].Data)
			}
		})
	}
}

// wsTestServer serves chat connections for the user named by the "user"
// query parameter.
func wsTestServer(t *testing.T, cs *ChatServer, users map[int]types.User) *httptest.Server {
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.URL.Query().Get("user"))
		user, ok := users[id]
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		client := NewClient(user, conn, cs, testutil.TestLogger(t))
		if !cs.Register(client) {
			conn.Close()
			return
		}
		go client.Write()
		go client.Read()
	}))
}

func dial(t *testing.T, ts *httptest.Server, userId int) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?user=" + strconv.Itoa(userId)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireMessage struct {
	Id    int             `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readUntil reads frames until one with the given event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) wireMessage {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", event)
		if msg.Event == event {
			return msg
		}
	}
}

func TestLiveMessageDelivery(t *testing.T) {
	db := &database.MockRepository{}
	db.On("IsParticipant", alice.Id, 5).Return(true, nil)
	db.On("CreateMessage", 5, alice.Id, "hi").Return(database.Message{
		Id: 1, ConversationId: 5, SenderId: alice.Id, Content: "hi", CreatedAt: time.Now().UTC(),
	}, nil).Once()
	db.On("GetParticipantIds", 5).Return([]int{alice.Id, bob.Id}, nil)

	cs := newTestChatServer(t, db, permissiveStats())
	go cs.Run()

	ts := wsTestServer(t, cs, map[int]types.User{alice.Id: alice, bob.Id: bob})
	defer ts.Close()

	bobConn := dial(t, ts, bob.Id)
	require.Eventually(t, func() bool { return cs.IsOnline(bob.Id) }, time.Second, 10*time.Millisecond)

	aliceConn := dial(t, ts, alice.Id)
	require.Eventually(t, func() bool { return cs.IsOnline(alice.Id) }, time.Second, 10*time.Millisecond)

	connected := readUntil(t, bobConn, EventUserConnected)
	assert.JSONEq(t, `{"user_id":1}`, string(connected.Data))

	require.NoError(t, aliceConn.WriteJSON(map[string]any{
		"id":    1,
		"event": EventSendMessage,
		"data":  map[string]any{"conversation_id": 5, "content": "hi"},
	}))

	for _, conn := range []*websocket.Conn{bobConn, aliceConn} {
		got := readUntil(t, conn, EventNewMessage)

		var msg types.Message
		require.NoError(t, json.Unmarshal(got.Data, &msg))
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, alice.Id, msg.SenderId)
		assert.Equal(t, "alice", msg.SenderUsername)
		assert.Equal(t, 5, msg.ConversationId)
	}

	require.NoError(t, aliceConn.WriteMessage(websocket.TextMessage, []byte("not json")))
	bad := readUntil(t, aliceConn, EventError)
	assert.JSONEq(t, `{"message":"invalid message format"}`, string(bad.Data))

	aliceConn.Close()
	gone := readUntil(t, bobConn, EventUserDisconnected)
	assert.JSONEq(t, `{"user_id":1}`, string(gone.Data))
	assert.False(t, cs.IsOnline(alice.Id))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx))

	db.AssertCalled(t, "CreateMessage", 5, alice.Id, "hi")
	db.AssertNotCalled(t, "CreateMessage", mock.Anything, bob.Id, mock.Anything)
}
