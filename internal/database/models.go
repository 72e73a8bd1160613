package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Profile struct {
	Id        int
	UserId    int
	Username  string
	Email     string
	Bio       string
	Location  string
	AvatarUrl string
	Details   map[string]string
	// MemberSince is the owning account's creation time.
	MemberSince time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Publication struct {
	Id            int
	UserId        int
	Username      string
	UserAvatarUrl string
	Title         string
	Content       string
	Type          string
	Status        string
	Budget        sql.NullFloat64
	Deadline      sql.NullTime
	Tags          []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Conversation struct {
	Id              int
	Participants    []Participant
	LastMessage     sql.NullString
	LastMessageTime sql.NullTime
	UnreadCount     int
	CreatedAt       time.Time
}

type Participant struct {
	UserId    int
	Username  string
	AvatarUrl string
}

type Message struct {
	Id             int
	ConversationId int
	SenderId       int
	SenderUsername string
	Content        string
	IsRead         bool
	CreatedAt      time.Time
}

type UserSearchRow struct {
	Id        int
	Username  string
	AvatarUrl string
	Bio       string
	Location  string
}

type PublicationSearchRow struct {
	Id        int
	UserId    int
	Username  string
	Title     string
	Type      string
	Status    string
	Preview   string
	Tags      []string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

// UpsertProfileParams carries the optional profile fields. A nil field is
// left untouched on update and defaults to empty on insert.
type UpsertProfileParams struct {
	UserId    int
	Bio       *string
	Location  *string
	AvatarUrl *string
	Details   map[string]string
}

type CreatePublicationParams struct {
	UserId   int
	Title    string
	Content  string
	Type     string
	Status   string
	Budget   *float64
	Deadline *time.Time
	Tags     []string
}

type UpdatePublicationParams struct {
	Id       int
	Title    string
	Content  string
	Type     string
	Status   string
	Budget   *float64
	Deadline *time.Time
	Tags     []string
}
