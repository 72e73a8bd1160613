package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/geta-app/geta/internal/database"
	"github.com/geta-app/geta/internal/types"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200
)

var (
	ErrForbidden           = errors.New("not a participant of this conversation")
	ErrInvalidContent      = errors.New("message content cannot be empty")
	ErrInvalidParticipants = errors.New("a conversation needs at least two distinct participants")
)

func (cs *ChatServer) ListConversations(ctx context.Context, userId int) ([]types.Conversation, error) {
	rows, err := cs.db.ListConversations(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	conversations := make([]types.Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, toConversation(row))
	}

	return conversations, nil
}

// GetMessages returns a page of a conversation's history, newest first.
func (cs *ChatServer) GetMessages(ctx context.Context, userId, conversationId, limit, offset int) ([]types.Message, error) {
	if err := cs.checkParticipant(ctx, userId, conversationId); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := cs.db.GetMessages(ctx, conversationId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	messages := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, toMessage(row))
	}

	return messages, nil
}

// CreateConversation opens a conversation between creator and the given
// participants. A two-party conversation is returned as-is if it already
// exists. Other online participants are notified only when a new
// conversation was created.
func (cs *ChatServer) CreateConversation(ctx context.Context, creatorId int, participantIds []int) (types.Conversation, error) {
	ids, err := normalizeParticipants(creatorId, participantIds)
	if err != nil {
		return types.Conversation{}, err
	}

	var (
		id      int
		created bool
	)
	if len(ids) == 2 {
		id, err = cs.db.FindDirectConversation(ctx, ids[0], ids[1])
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return types.Conversation{}, fmt.Errorf("find direct conversation: %w", err)
		}
	}

	if id == 0 {
		id, created, err = cs.db.CreateConversation(ctx, ids)
		if errors.Is(err, database.ErrNotFound) {
			return types.Conversation{}, fmt.Errorf("%w: unknown user", ErrInvalidParticipants)
		}
		if err != nil {
			return types.Conversation{}, fmt.Errorf("create conversation: %w", err)
		}
	}

	row, err := cs.db.GetConversation(ctx, id, creatorId)
	if err != nil {
		return types.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	conversation := toConversation(row)

	if created {
		cs.stats.Incr(metricConversationsCreated)
		cs.log.Info().
			Int("conversation_id", id).
			Ints("participants", ids).
			Msg("conversation created")

		others := slices.DeleteFunc(slices.Clone(ids), func(uid int) bool { return uid == creatorId })
		cs.notifyNewConversation(ctx, id, others)
	}

	return conversation, nil
}

// notifyNewConversation sends every online user in userIds the
// conversation as that user sees it.
func (cs *ChatServer) notifyNewConversation(ctx context.Context, conversationId int, userIds []int) {
	for _, uid := range userIds {
		if !cs.IsOnline(uid) {
			continue
		}

		row, err := cs.db.GetConversation(ctx, conversationId, uid)
		if err != nil {
			cs.log.Error().Err(err).
				Int("conversation_id", conversationId).
				Int("user_id", uid).
				Msg("load conversation for notification")
			continue
		}

		cs.deliver([]int{uid}, NewServerMessage(0, EventNewConversation, toConversation(row)))
	}
}

// SendMessage persists a message and then delivers it to every online
// participant, the sender included. Nothing is delivered if the write fails.
func (cs *ChatServer) SendMessage(ctx context.Context, sender types.User, conversationId int, content string) (types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrInvalidContent
	}

	if err := cs.checkParticipant(ctx, sender.Id, conversationId); err != nil {
		return types.Message{}, err
	}

	row, err := cs.db.CreateMessage(ctx, conversationId, sender.Id, content)
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}
	row.SenderUsername = sender.Username
	msg := toMessage(row)

	cs.stats.Incr(metricMessagesSent)

	participants, err := cs.db.GetParticipantIds(ctx, conversationId)
	if err != nil {
		// the message is already stored
		cs.log.Error().Err(err).Int("conversation_id", conversationId).Msg("load participants for delivery")
		return msg, nil
	}

	cs.deliver(participants, NewServerMessage(0, EventNewMessage, msg))

	return msg, nil
}

// MarkRead marks every unread message from other participants as read and
// returns how many were updated.
func (cs *ChatServer) MarkRead(ctx context.Context, userId, conversationId int) (int, error) {
	if err := cs.checkParticipant(ctx, userId, conversationId); err != nil {
		return 0, err
	}

	n, err := cs.db.MarkRead(ctx, userId, conversationId)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	return n, nil
}

func (cs *ChatServer) checkParticipant(ctx context.Context, userId, conversationId int) error {
	ok, err := cs.db.IsParticipant(ctx, userId, conversationId)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// normalizeParticipants adds the creator, drops duplicates and
// non-positive ids, and returns the ids in ascending order.
func normalizeParticipants(creatorId int, participantIds []int) ([]int, error) {
	ids := make([]int, 0, len(participantIds)+1)
	ids = append(ids, creatorId)
	for _, id := range participantIds {
		if id > 0 {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)
	ids = slices.Compact(ids)

	if len(ids) < 2 {
		return nil, ErrInvalidParticipants
	}

	return ids, nil
}

func toConversation(c database.Conversation) types.Conversation {
	conv := types.Conversation{
		Id:           c.Id,
		Participants: make([]types.Participant, 0, len(c.Participants)),
		UnreadCount:  c.UnreadCount,
		CreatedAt:    c.CreatedAt,
	}

	for _, p := range c.Participants {
		conv.Participants = append(conv.Participants, types.Participant{
			Id:        p.UserId,
			Username:  p.Username,
			AvatarUrl: p.AvatarUrl,
		})
	}

	if c.LastMessage.Valid {
		conv.LastMessage = c.LastMessage.String
	}
	if c.LastMessageTime.Valid {
		t := c.LastMessageTime.Time
		conv.LastMessageTime = &t
	}

	return conv
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		SenderId:       m.SenderId,
		SenderUsername: m.SenderUsername,
		Content:        m.Content,
		IsRead:         m.IsRead,
		Timestamp:      m.CreatedAt,
	}
}
