package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	createProfileQuery = "INSERT INTO profiles (user_id, created_at, updated_at) VALUES ($1, $2, $2)"

	publicationSelect = `
		SELECT p.id, p.user_id, u.username, COALESCE(pr.avatar_url, ''),
		       p.title, p.content, p.type, p.status, p.budget, p.deadline, p.tags,
		       p.created_at, p.updated_at
		FROM publications p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN profiles pr ON pr.user_id = p.user_id`
)

func (db *PgRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var u User
	err = tx.QueryRowContext(ctx,
		"INSERT INTO users (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
	).Scan(&u.Id, &u.Username, &u.EmailAddress, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, mapError(err)
	}

	if _, err = tx.ExecContext(ctx, createProfileQuery, u.Id, now); err != nil {
		return User{}, fmt.Errorf("create profile: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return User{}, err
	}

	return u, nil
}

func (db *PgRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	var user User
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, created_at, updated_at FROM users WHERE id = $1 LIMIT 1",
		id,
	).Scan(&user.Id, &user.Username, &user.EmailAddress, &user.CreatedAt, &user.UpdatedAt)

	return user, mapError(err)
}

func (db *PgRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at, updated_at FROM users "+
			"WHERE email = $1 LIMIT 1",
		email,
	).Scan(&user.Id, &user.Username, &user.EmailAddress, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)

	return user, mapError(err)
}

func (db *PgRepository) GetProfile(ctx context.Context, userId int) (Profile, error) {
	var (
		p       Profile
		details []byte
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.created_at,
		       COALESCE(p.id, 0), COALESCE(p.bio, ''), COALESCE(p.location, ''),
		       COALESCE(p.avatar_url, ''), COALESCE(p.details, '{}'::jsonb),
		       COALESCE(p.created_at, u.created_at), COALESCE(p.updated_at, u.updated_at)
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.id = $1`,
		userId,
	).Scan(
		&p.UserId,
		&p.Username,
		&p.Email,
		&p.MemberSince,
		&p.Id,
		&p.Bio,
		&p.Location,
		&p.AvatarUrl,
		&details,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Profile{}, mapError(err)
	}

	if p.Details, err = decodeDetails(details); err != nil {
		return Profile{}, err
	}

	return p, nil
}

// UpsertProfile creates the caller's profile if it does not exist yet and
// otherwise overwrites only the supplied fields.
func (db *PgRepository) UpsertProfile(ctx context.Context, params UpsertProfileParams) (Profile, error) {
	var details sql.NullString
	if params.Details != nil {
		raw, err := json.Marshal(params.Details)
		if err != nil {
			return Profile{}, fmt.Errorf("encode details: %w", err)
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}

	var (
		p          Profile
		rawDetails []byte
	)
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO profiles (user_id, bio, location, avatar_url, details, created_at, updated_at)
		VALUES ($1, COALESCE($2::text, ''), COALESCE($3::text, ''), COALESCE($4::text, ''),
		        COALESCE($5::jsonb, '{}'::jsonb), $6, $6)
		ON CONFLICT (user_id) DO UPDATE SET
		    bio        = COALESCE($2::text, profiles.bio),
		    location   = COALESCE($3::text, profiles.location),
		    avatar_url = COALESCE($4::text, profiles.avatar_url),
		    details    = COALESCE($5::jsonb, profiles.details),
		    updated_at = $6
		RETURNING id, user_id, bio, location, avatar_url, details, created_at, updated_at`,
		params.UserId,
		nullString(params.Bio),
		nullString(params.Location),
		nullString(params.AvatarUrl),
		details,
		time.Now().UTC(),
	).Scan(&p.Id, &p.UserId, &p.Bio, &p.Location, &p.AvatarUrl, &rawDetails, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Profile{}, mapError(err)
	}

	if p.Details, err = decodeDetails(rawDetails); err != nil {
		return Profile{}, err
	}

	return p, nil
}

func (db *PgRepository) CreatePublication(ctx context.Context, params CreatePublicationParams) (Publication, error) {
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	now := time.Now().UTC()
	var id int
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO publications (user_id, title, content, type, status, budget, deadline, tags, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9) RETURNING id",
		params.UserId,
		params.Title,
		params.Content,
		params.Type,
		params.Status,
		nullFloat(params.Budget),
		nullTime(params.Deadline),
		pq.Array(tags),
		now,
	).Scan(&id)
	if err != nil {
		return Publication{}, mapError(err)
	}

	return db.GetPublication(ctx, id)
}

func (db *PgRepository) GetPublication(ctx context.Context, id int) (Publication, error) {
	row := db.conn.QueryRowContext(ctx, publicationSelect+" WHERE p.id = $1", id)

	p, err := scanPublication(row)
	return p, mapError(err)
}

func (db *PgRepository) ListPublications(ctx context.Context) ([]Publication, error) {
	rows, err := db.conn.QueryContext(ctx, publicationSelect+" ORDER BY p.created_at DESC, p.id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	publications := make([]Publication, 0)
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		publications = append(publications, p)
	}

	return publications, rows.Err()
}

func (db *PgRepository) UpdatePublication(ctx context.Context, params UpdatePublicationParams) (Publication, error) {
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	res, err := db.conn.ExecContext(ctx,
		"UPDATE publications SET title = $2, content = $3, type = $4, status = $5, "+
			"budget = $6, deadline = $7, tags = $8, updated_at = $9 WHERE id = $1",
		params.Id,
		params.Title,
		params.Content,
		params.Type,
		params.Status,
		nullFloat(params.Budget),
		nullTime(params.Deadline),
		pq.Array(tags),
		time.Now().UTC(),
	)
	if err != nil {
		return Publication{}, mapError(err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Publication{}, ErrNotFound
	}

	return db.GetPublication(ctx, params.Id)
}

func (db *PgRepository) DeletePublication(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM publications WHERE id = $1", id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgRepository) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, username, created_at FROM users WHERE username ILIKE $1 LIMIT $2",
		likePattern(query),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0, limit)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgRepository) SearchProfiles(ctx context.Context, query string, limit int) ([]UserSearchRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT u.id, u.username, COALESCE(p.avatar_url, ''), COALESCE(p.bio, ''), COALESCE(p.location, '')
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.username ILIKE $1
		   OR p.bio ILIKE $1
		   OR p.location ILIKE $1
		   OR p.details ->> 'skills' ILIKE $1
		   OR p.details ->> 'area' ILIKE $1
		   OR p.details ->> 'segment' ILIKE $1
		LIMIT $2`,
		likePattern(query),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]UserSearchRow, 0, limit)
	for rows.Next() {
		var r UserSearchRow
		if err := rows.Scan(&r.Id, &r.Username, &r.AvatarUrl, &r.Bio, &r.Location); err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

func (db *PgRepository) SearchPublications(ctx context.Context, query string, limit, previewLen int) ([]PublicationSearchRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT p.id, p.user_id, u.username, p.title, p.type, p.status,
		       LEFT(p.content, $3), p.tags, p.created_at
		FROM publications p
		JOIN users u ON u.id = p.user_id
		WHERE p.title ILIKE $1
		   OR p.content ILIKE $1
		   OR EXISTS (SELECT 1 FROM unnest(p.tags) AS tag WHERE tag ILIKE $1)
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $2`,
		likePattern(query),
		limit,
		previewLen,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]PublicationSearchRow, 0, limit)
	for rows.Next() {
		var r PublicationSearchRow
		err := rows.Scan(
			&r.Id,
			&r.UserId,
			&r.Username,
			&r.Title,
			&r.Type,
			&r.Status,
			&r.Preview,
			pq.Array(&r.Tags),
			&r.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// conversationSelect reads conversations as seen by the user in $1: the
// caller's unread count and the latest message.
const conversationSelect = `
		SELECT c.id, c.created_at, lm.content, lm.created_at,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND NOT m.is_read)
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id AND cp.user_id = $1
		LEFT JOIN LATERAL (
		    SELECT content, created_at FROM messages
		    WHERE conversation_id = c.id
		    ORDER BY created_at DESC, id DESC
		    LIMIT 1
		) lm ON TRUE`

// ListConversations returns every conversation the user participates in,
// most recent activity first. Conversations without messages sort last.
func (db *PgRepository) ListConversations(ctx context.Context, userId int) ([]Conversation, error) {
	return db.queryConversations(ctx, userId,
		conversationSelect+" ORDER BY lm.created_at DESC NULLS LAST, c.id DESC",
		userId,
	)
}

// GetConversation returns one conversation in the same shape as
// ListConversations: participants other than userId, the last message and
// userId's unread count. It is ErrNotFound if userId is not a participant.
func (db *PgRepository) GetConversation(ctx context.Context, conversationId, userId int) (Conversation, error) {
	conversations, err := db.queryConversations(ctx, userId,
		conversationSelect+" WHERE c.id = $2",
		userId,
		conversationId,
	)
	if err != nil {
		return Conversation{}, err
	}
	if len(conversations) == 0 {
		return Conversation{}, ErrNotFound
	}

	return conversations[0], nil
}

func (db *PgRepository) queryConversations(ctx context.Context, userId int, query string, args ...any) ([]Conversation, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		conversations = make([]Conversation, 0)
		ids           []int64
	)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.Id, &c.CreatedAt, &c.LastMessage, &c.LastMessageTime, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
		ids = append(ids, int64(c.Id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return conversations, nil
	}

	participants, err := db.participantsFor(ctx, ids, userId)
	if err != nil {
		return nil, err
	}

	for i := range conversations {
		conversations[i].Participants = participants[conversations[i].Id]
	}

	return conversations, nil
}

// participantsFor loads the members of the given conversations keyed by
// conversation id, leaving out excludeUserId.
func (db *PgRepository) participantsFor(ctx context.Context, conversationIds []int64, excludeUserId int) (map[int][]Participant, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT cp.conversation_id, u.id, u.username, COALESCE(p.avatar_url, '')
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE cp.conversation_id = ANY($1) AND cp.user_id <> $2
		ORDER BY cp.conversation_id, u.id`,
		pq.Array(conversationIds),
		excludeUserId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make(map[int][]Participant)
	for rows.Next() {
		var (
			convId int
			p      Participant
		)
		if err := rows.Scan(&convId, &p.UserId, &p.Username, &p.AvatarUrl); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants[convId] = append(participants[convId], p)
	}

	return participants, rows.Err()
}

func (db *PgRepository) IsParticipant(ctx context.Context, userId, conversationId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM conversation_participants WHERE user_id = $1 AND conversation_id = $2)",
		userId,
		conversationId,
	).Scan(&exists)

	return exists, err
}

func (db *PgRepository) GetParticipantIds(ctx context.Context, conversationId int) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY user_id",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *PgRepository) FindDirectConversation(ctx context.Context, userA, userB int) (int, error) {
	var id int
	err := db.conn.QueryRowContext(ctx,
		"SELECT id FROM conversations WHERE direct_key = $1",
		DirectKey(userA, userB),
	).Scan(&id)

	return id, mapError(err)
}

// CreateConversation inserts a conversation and all of its membership rows
// in one transaction. Two-party conversations carry a direct key; if a
// concurrent insert already claimed it, the existing conversation id is
// returned with created set to false.
func (db *PgRepository) CreateConversation(ctx context.Context, participantIds []int) (int, bool, error) {
	var directKey sql.NullString
	if len(participantIds) == 2 {
		directKey = sql.NullString{String: DirectKey(participantIds[0], participantIds[1]), Valid: true}
	}

	existing := func() (int, bool, error) {
		id, err := db.FindDirectConversation(ctx, participantIds[0], participantIds[1])
		return id, false, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var id int
	err = tx.QueryRowContext(ctx,
		"INSERT INTO conversations (direct_key, created_at) VALUES ($1, $2) "+
			"ON CONFLICT (direct_key) DO NOTHING RETURNING id",
		directKey,
		time.Now().UTC(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return existing()
	}
	if err != nil {
		return 0, false, err
	}

	for _, userId := range participantIds {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)",
			id,
			userId,
		)
		if err != nil {
			return 0, false, mapError(err)
		}
	}

	if err = tx.Commit(); err != nil {
		if isUniqueViolation(err, directKeyConstraint) {
			return existing()
		}
		return 0, false, err
	}

	return id, true, nil
}

func (db *PgRepository) CreateMessage(ctx context.Context, conversationId, senderId int, content string) (Message, error) {
	var m Message
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, content, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, conversation_id, sender_id, content, is_read, created_at",
		conversationId,
		senderId,
		content,
		time.Now().UTC(),
	).Scan(&m.Id, &m.ConversationId, &m.SenderId, &m.Content, &m.IsRead, &m.CreatedAt)

	return m, mapError(err)
}

func (db *PgRepository) GetMessages(ctx context.Context, conversationId, limit, offset int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.username, m.content, m.is_read, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3`,
		conversationId,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Id, &m.ConversationId, &m.SenderId, &m.SenderUsername, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// MarkRead flags messages from other senders as read. The flag is per
// message, so in a group it is shared by every member.
func (db *PgRepository) MarkRead(ctx context.Context, userId, conversationId int) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET is_read = TRUE WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read",
		conversationId,
		userId,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// DirectKey is the order-independent identity of a two-party conversation.
func DirectKey(userA, userB int) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return strconv.Itoa(userA) + ":" + strconv.Itoa(userB)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPublication(row rowScanner) (Publication, error) {
	var p Publication
	err := row.Scan(
		&p.Id,
		&p.UserId,
		&p.Username,
		&p.UserAvatarUrl,
		&p.Title,
		&p.Content,
		&p.Type,
		&p.Status,
		&p.Budget,
		&p.Deadline,
		pq.Array(&p.Tags),
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	return p, err
}

func decodeDetails(raw []byte) (map[string]string, error) {
	details := make(map[string]string)
	if len(raw) == 0 {
		return details, nil
	}

	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}

	return details, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(query string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
