package database

import "context"

type Repository interface {
	Ping(ctx context.Context) error

	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, userId int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)

	GetProfile(ctx context.Context, userId int) (Profile, error)
	UpsertProfile(ctx context.Context, params UpsertProfileParams) (Profile, error)

	CreatePublication(ctx context.Context, params CreatePublicationParams) (Publication, error)
	GetPublication(ctx context.Context, id int) (Publication, error)
	ListPublications(ctx context.Context) ([]Publication, error)
	UpdatePublication(ctx context.Context, params UpdatePublicationParams) (Publication, error)
	DeletePublication(ctx context.Context, id int) error

	SearchUsers(ctx context.Context, query string, limit int) ([]User, error)
	SearchProfiles(ctx context.Context, query string, limit int) ([]UserSearchRow, error)
	SearchPublications(ctx context.Context, query string, limit, previewLen int) ([]PublicationSearchRow, error)

	ListConversations(ctx context.Context, userId int) ([]Conversation, error)
	GetConversation(ctx context.Context, conversationId, userId int) (Conversation, error)
	IsParticipant(ctx context.Context, userId, conversationId int) (bool, error)
	GetParticipantIds(ctx context.Context, conversationId int) ([]int, error)
	FindDirectConversation(ctx context.Context, userA, userB int) (int, error)
	CreateConversation(ctx context.Context, participantIds []int) (id int, created bool, err error)
	CreateMessage(ctx context.Context, conversationId, senderId int, content string) (Message, error)
	GetMessages(ctx context.Context, conversationId, limit, offset int) ([]Message, error)
	MarkRead(ctx context.Context, userId, conversationId int) (int, error)
}

const (
	UserSearchLimit = 10
	SearchAllLimit  = 20
	PreviewLength   = 150
)
