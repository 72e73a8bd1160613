package types

import (
	"time"
)

// User is the public-safe summary of an account. The password hash never
// leaves the database package.
type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

type Profile struct {
	UserId      int               `json:"user_id"`
	Username    string            `json:"username"`
	Email       string            `json:"email,omitempty"`
	Bio         string            `json:"bio"`
	Location    string            `json:"location"`
	AvatarUrl   string            `json:"avatar_url"`
	Details     map[string]string `json:"details,omitempty"`
	MemberSince time.Time         `json:"member_since"`
}

type Publication struct {
	Id            int        `json:"id"`
	UserId        int        `json:"user_id"`
	Username      string     `json:"username"`
	UserAvatarUrl string     `json:"user_avatar_url,omitempty"`
	Title         string     `json:"title,omitempty"`
	Content       string     `json:"content"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Budget        *float64   `json:"budget,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Tags          []string   `json:"tags"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type PublicationPreview struct {
	Id        int       `json:"id"`
	UserId    int       `json:"user_id"`
	Username  string    `json:"username"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Preview   string    `json:"preview"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

type UserSearchResult struct {
	Id        int    `json:"id"`
	Username  string `json:"username"`
	AvatarUrl string `json:"avatar_url,omitempty"`
	Bio       string `json:"bio,omitempty"`
	Location  string `json:"location,omitempty"`
}

type SearchResults struct {
	Users        []UserSearchResult   `json:"users"`
	Publications []PublicationPreview `json:"publications"`
}

type Participant struct {
	Id        int    `json:"id"`
	Username  string `json:"username"`
	AvatarUrl string `json:"avatar_url,omitempty"`
}

type Conversation struct {
	Id              int           `json:"id"`
	Participants    []Participant `json:"participants"`
	LastMessage     string        `json:"last_message,omitempty"`
	LastMessageTime *time.Time    `json:"last_message_time,omitempty"`
	UnreadCount     int           `json:"unread_count"`
	CreatedAt       time.Time     `json:"created_at"`
}

type Message struct {
	Id             int       `json:"id"`
	ConversationId int       `json:"conversation_id"`
	SenderId       int       `json:"sender_id"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	Timestamp      time.Time `json:"timestamp"`
}
