package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/geta-app/geta/internal/database"
	"github.com/geta-app/geta/internal/server"
	"github.com/geta-app/geta/internal/types"
)

func (s *App) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	conversations, err := s.cs.ListConversations(r.Context(), userId)
	if err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, conversations)
}

func (s *App) conversationMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	conversationId, ok := pathId(r, "id")
	if !ok {
		s.writeError(w, r, NewValidationError("invalid conversation id"))
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, NewValidationError("limit must be an integer"))
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeError(w, r, NewValidationError("offset must be an integer"))
		return
	}

	messages, err := s.cs.GetMessages(r.Context(), userId, conversationId, limit, offset)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, server.ErrForbidden) {
			errResp = NewForbiddenError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, server.MessagesList{
		ConversationId: conversationId,
		Messages:       messages,
	})
}

// queryInt returns 0 when the parameter is absent.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// serveWs upgrades an authenticated request to a chat connection. The
// token is verified once, here; the connection is rejected with 401 before
// the upgrade when the account no longer exists.
func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(r.Context(), id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger(r).Warn().Err(err).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
	}, conn, s.cs, s.log)

	if !s.cs.Register(client) {
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
