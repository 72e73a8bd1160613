package api

import (
	"net/http"
	"strings"

	"github.com/geta-app/geta/internal/database"
	"github.com/geta-app/geta/internal/types"
)

const (
	searchTypeUsers        = "users"
	searchTypePublications = "publications"
)

// searchUsers matches usernames only. A blank query yields no results
// without touching the store.
func (s *App) searchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		s.writeJson(w, http.StatusOK, []types.UserSearchResult{})
		return
	}

	users, err := s.db.SearchUsers(r.Context(), query, database.UserSearchLimit)
	if err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	results := make([]types.UserSearchResult, 0, len(users))
	for _, u := range users {
		results = append(results, types.UserSearchResult{
			Id:       u.Id,
			Username: u.Username,
		})
	}

	s.writeJson(w, http.StatusOK, results)
}

// search looks through profiles and publications. type narrows the search
// to one side.
func (s *App) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, r, NewValidationError("search term is required"))
		return
	}

	searchType := r.URL.Query().Get("type")
	switch searchType {
	case "", searchTypeUsers, searchTypePublications:
	default:
		s.writeError(w, r, NewValidationError("unknown search type: "+searchType))
		return
	}

	results := types.SearchResults{
		Users:        []types.UserSearchResult{},
		Publications: []types.PublicationPreview{},
	}

	if searchType != searchTypePublications {
		rows, err := s.db.SearchProfiles(r.Context(), query, database.SearchAllLimit)
		if err != nil {
			s.writeError(w, r, NewInternalServerError(err))
			return
		}
		for _, row := range rows {
			results.Users = append(results.Users, types.UserSearchResult{
				Id:        row.Id,
				Username:  row.Username,
				AvatarUrl: row.AvatarUrl,
				Bio:       row.Bio,
				Location:  row.Location,
			})
		}
	}

	if searchType != searchTypeUsers {
		rows, err := s.db.SearchPublications(r.Context(), query, database.SearchAllLimit, database.PreviewLength)
		if err != nil {
			s.writeError(w, r, NewInternalServerError(err))
			return
		}
		for _, row := range rows {
			tags := row.Tags
			if tags == nil {
				tags = []string{}
			}
			results.Publications = append(results.Publications, types.PublicationPreview{
				Id:        row.Id,
				UserId:    row.UserId,
				Username:  row.Username,
				Title:     row.Title,
				Type:      row.Type,
				Status:    row.Status,
				Preview:   row.Preview,
				Tags:      tags,
				CreatedAt: row.CreatedAt,
			})
		}
	}

	s.writeJson(w, http.StatusOK, results)
}
