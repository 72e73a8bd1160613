package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRepository records calls without their context argument so tests can
// set expectations on the meaningful parameters only.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(ctx context.Context, userId int) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetProfile(ctx context.Context, userId int) (Profile, error) {
	args := m.Called(userId)
	return args.Get(0).(Profile), args.Error(1)
}
func (m *MockRepository) UpsertProfile(ctx context.Context, params UpsertProfileParams) (Profile, error) {
	args := m.Called(params)
	return args.Get(0).(Profile), args.Error(1)
}
func (m *MockRepository) CreatePublication(ctx context.Context, params CreatePublicationParams) (Publication, error) {
	args := m.Called(params)
	return args.Get(0).(Publication), args.Error(1)
}
func (m *MockRepository) GetPublication(ctx context.Context, id int) (Publication, error) {
	args := m.Called(id)
	return args.Get(0).(Publication), args.Error(1)
}
func (m *MockRepository) ListPublications(ctx context.Context) ([]Publication, error) {
	args := m.Called()
	if p, ok := args.Get(0).([]Publication); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) UpdatePublication(ctx context.Context, params UpdatePublicationParams) (Publication, error) {
	args := m.Called(params)
	return args.Get(0).(Publication), args.Error(1)
}
func (m *MockRepository) DeletePublication(ctx context.Context, id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRepository) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	args := m.Called(query, limit)
	if u, ok := args.Get(0).([]User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) SearchProfiles(ctx context.Context, query string, limit int) ([]UserSearchRow, error) {
	args := m.Called(query, limit)
	if r, ok := args.Get(0).([]UserSearchRow); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) SearchPublications(ctx context.Context, query string, limit, previewLen int) ([]PublicationSearchRow, error) {
	args := m.Called(query, limit, previewLen)
	if r, ok := args.Get(0).([]PublicationSearchRow); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) ListConversations(ctx context.Context, userId int) ([]Conversation, error) {
	args := m.Called(userId)
	if c, ok := args.Get(0).([]Conversation); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) GetConversation(ctx context.Context, conversationId, userId int) (Conversation, error) {
	args := m.Called(conversationId, userId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) IsParticipant(ctx context.Context, userId, conversationId int) (bool, error) {
	args := m.Called(userId, conversationId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) GetParticipantIds(ctx context.Context, conversationId int) ([]int, error) {
	args := m.Called(conversationId)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) FindDirectConversation(ctx context.Context, userA, userB int) (int, error) {
	args := m.Called(userA, userB)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) CreateConversation(ctx context.Context, participantIds []int) (int, bool, error) {
	args := m.Called(participantIds)
	return args.Int(0), args.Bool(1), args.Error(2)
}
func (m *MockRepository) CreateMessage(ctx context.Context, conversationId, senderId int, content string) (Message, error) {
	args := m.Called(conversationId, senderId, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(ctx context.Context, conversationId, limit, offset int) ([]Message, error) {
	args := m.Called(conversationId, limit, offset)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) MarkRead(ctx context.Context, userId, conversationId int) (int, error) {
	args := m.Called(userId, conversationId)
	return args.Int(0), args.Error(1)
}
