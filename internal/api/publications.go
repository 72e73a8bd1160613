package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geta-app/geta/internal/cache"
	"github.com/geta-app/geta/internal/database"
	"github.com/geta-app/geta/internal/types"
)

const (
	DefaultPublicationType   = "need"
	DefaultPublicationStatus = "open"

	dateLayout = "2006-01-02"
)

type PublicationRequest struct {
	Title    string   `json:"title" validate:"max=200"`
	Content  string   `json:"content" validate:"required,min=1"`
	Type     string   `json:"type" validate:"omitempty,max=50"`
	Status   string   `json:"status" validate:"omitempty,max=50"`
	Budget   *float64 `json:"budget" validate:"omitempty,gte=0"`
	Deadline string   `json:"deadline" validate:"omitempty,datetime=2006-01-02"`
	Tags     []string `json:"tags" validate:"omitempty,max=20,dive,required,max=50"`
}

func (req PublicationRequest) deadline() *time.Time {
	if req.Deadline == "" {
		return nil
	}

	// already checked by the validator
	t, err := time.Parse(dateLayout, req.Deadline)
	if err != nil {
		return nil
	}
	return &t
}

func (s *App) createPublication(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	var req PublicationRequest
	if errResp := decodeRequest(r, &req); errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	params := database.CreatePublicationParams{
		UserId:   userId,
		Title:    req.Title,
		Content:  req.Content,
		Type:     req.Type,
		Status:   req.Status,
		Budget:   req.Budget,
		Deadline: req.deadline(),
		Tags:     req.Tags,
	}
	if params.Type == "" {
		params.Type = DefaultPublicationType
	}
	if params.Status == "" {
		params.Status = DefaultPublicationStatus
	}

	p, err := s.db.CreatePublication(r.Context(), params)
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

	s.invalidateFeed(r)
	s.writeJson(w, http.StatusCreated, toPublication(p))
}

// listPublications serves the newest-first feed, from the cache when it
// holds a fresh copy.
func (s *App) listPublications(w http.ResponseWriter, r *http.Request) {
	var feed []types.Publication
	err := s.cache.Get(r.Context(), cache.KeyPublications, &feed)
	if err == nil {
		s.writeJson(w, http.StatusOK, feed)
		return
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger(r).Warn().Err(err).Msg("read publication feed from cache")
	}

	rows, err := s.db.ListPublications(r.Context())
	if err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	feed = make([]types.Publication, 0, len(rows))
	for _, row := range rows {
		feed = append(feed, toPublication(row))
	}

	if err := s.cache.Set(r.Context(), cache.KeyPublications, feed, cache.TTLPublications); err != nil {
		s.logger(r).Warn().Err(err).Msg("store publication feed in cache")
	}

	s.writeJson(w, http.StatusOK, feed)
}

func (s *App) getPublication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(r, "id")
	if !ok {
		s.writeError(w, r, NewValidationError("invalid publication id"))
		return
	}

	p, errResp := s.loadPublication(r.Context(), id)
	if errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toPublication(p))
}

func (s *App) updatePublication(w http.ResponseWriter, r *http.Request) {
	existing, errResp := s.ownedPublication(r)
	if errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	var req PublicationRequest
	if errResp := decodeRequest(r, &req); errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	params := database.UpdatePublicationParams{
		Id:       existing.Id,
		Title:    req.Title,
		Content:  req.Content,
		Type:     req.Type,
		Status:   req.Status,
		Budget:   req.Budget,
		Deadline: req.deadline(),
		Tags:     req.Tags,
	}
	if params.Type == "" {
		params.Type = existing.Type
	}
	if params.Status == "" {
		params.Status = existing.Status
	}

	p, err := s.db.UpdatePublication(r.Context(), params)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	s.invalidateFeed(r)
	s.writeJson(w, http.StatusOK, toPublication(p))
}

func (s *App) deletePublication(w http.ResponseWriter, r *http.Request) {
	existing, errResp := s.ownedPublication(r)
	if errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	if err := s.db.DeletePublication(r.Context(), existing.Id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	s.invalidateFeed(r)
	w.WriteHeader(http.StatusNoContent)
}

// ownedPublication loads the publication named in the path. A missing
// publication is reported before a foreign one.
func (s *App) ownedPublication(r *http.Request) (database.Publication, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return database.Publication{}, NewUnauthorizedError()
	}

	id, ok := pathId(r, "id")
	if !ok {
		return database.Publication{}, NewValidationError("invalid publication id")
	}

	p, errResp := s.loadPublication(r.Context(), id)
	if errResp != nil {
		return database.Publication{}, errResp
	}

	if p.UserId != userId {
		return database.Publication{}, NewForbiddenError()
	}

	return p, nil
}

func (s *App) loadPublication(ctx context.Context, id int) (database.Publication, *ApiError) {
	p, err := s.db.GetPublication(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Publication{}, NewNotFoundError()
		}
		return database.Publication{}, NewInternalServerError(err)
	}

	return p, nil
}

func (s *App) invalidateFeed(r *http.Request) {
	if err := s.cache.Delete(r.Context(), cache.KeyPublications); err != nil {
		s.logger(r).Warn().Err(err).Msg("invalidate publication feed")
	}
}

func toPublication(p database.Publication) types.Publication {
	pub := types.Publication{
		Id:            p.Id,
		UserId:        p.UserId,
		Username:      p.Username,
		UserAvatarUrl: p.UserAvatarUrl,
		Title:         p.Title,
		Content:       p.Content,
		Type:          p.Type,
		Status:        p.Status,
		Tags:          p.Tags,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if pub.Tags == nil {
		pub.Tags = []string{}
	}
	if p.Budget.Valid {
		b := p.Budget.Float64
		pub.Budget = &b
	}
	if p.Deadline.Valid {
		d := p.Deadline.Time
		pub.Deadline = &d
	}

	return pub
}
