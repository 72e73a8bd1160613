package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/geta-app/geta/internal/auth"
	"github.com/geta-app/geta/internal/database"
	"github.com/geta-app/geta/internal/types"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

// UpdateProfileRequest leaves a field untouched when it is omitted.
type UpdateProfileRequest struct {
	Bio       *string           `json:"bio" validate:"omitempty,max=1000"`
	Location  *string           `json:"location" validate:"omitempty,max=100"`
	AvatarUrl *string           `json:"avatar_url" validate:"omitempty,max=500"`
	Details   map[string]string `json:"details" validate:"omitempty,max=20,dive,keys,max=50,endkeys,max=500"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage describes the first failed rule in a form the caller
// can act on.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("%s must be %s %s characters", field, bound, fe.Param())
		case reflect.Slice, reflect.Map:
			return fmt.Sprintf("%s must have %s %s entries", field, bound, fe.Param())
		default:
			return fmt.Sprintf("%s must be %s %s", field, bound, fe.Param())
		}
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "datetime":
		return field + " must be a date in YYYY-MM-DD format"
	default:
		return field + " is invalid"
	}
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

// writeError writes errResp and logs the cause of server errors.
func (s *App) writeError(w http.ResponseWriter, r *http.Request, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.logger(r).Error().Err(errResp.Err).Str("path", r.URL.Path).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// decodeRequest decodes the JSON body into dst and validates it.
func decodeRequest(r *http.Request, dst any) *ApiError {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return NewBadRequestError()
	}

	if err := validate.Struct(dst); err != nil {
		return NewValidationError(validationMessage(err))
	}

	return nil
}

func pathId(r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger(r).Error().Err(err).Msg("health check")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *App) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if errResp := decodeRequest(r, &req); errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	pwdHash, err := auth.HashPassword(req.Password)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, auth.ErrPasswordTooLong) {
			errResp = NewValidationError("password is too long")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	dbUser, err := s.db.CreateAccount(r.Context(), database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, database.ErrDuplicateUsername):
			errResp = NewConflictError("username already taken")
		case errors.Is(err, database.ErrDuplicateEmail):
			errResp = NewConflictError("email already registered")
		default:
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	s.logger(r).Info().Int("user_id", dbUser.Id).Msg("account created")
	s.writeSession(w, r, http.StatusCreated, toUser(dbUser))
}

func (s *App) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if errResp := decodeRequest(r, &req); errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewInvalidCredentialsError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	if !auth.VerifyPassword(dbUser.PasswordHash, req.Password) {
		s.writeError(w, r, NewInvalidCredentialsError())
		return
	}

	s.writeSession(w, r, http.StatusOK, toUser(dbUser))
}

func (s *App) writeSession(w http.ResponseWriter, r *http.Request, statusCode int, user types.User) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		s.writeError(w, r, NewInternalServerError(err))
		return
	}

	s.writeJson(w, statusCode, AuthResponse{Token: token, User: user})
}

func (s *App) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	dbUser, err := s.db.GetAccountById(r.Context(), userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toUser(dbUser))
}

func (s *App) ownProfile(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	s.writeProfile(w, r, userId, true)
}

// profile is the public view of a user. It never includes the email.
func (s *App) profile(w http.ResponseWriter, r *http.Request) {
	userId, ok := pathId(r, "userId")
	if !ok {
		s.writeError(w, r, NewValidationError("invalid user id"))
		return
	}

	s.writeProfile(w, r, userId, false)
}

func (s *App) writeProfile(w http.ResponseWriter, r *http.Request, userId int, withEmail bool) {
	p, err := s.db.GetProfile(r.Context(), userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	view := toProfile(p)
	if !withEmail {
		view.Email = ""
	}

	s.writeJson(w, http.StatusOK, view)
}

func (s *App) updateProfile(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	var req UpdateProfileRequest
	if errResp := decodeRequest(r, &req); errResp != nil {
		s.writeError(w, r, errResp)
		return
	}

	_, err := s.db.UpsertProfile(r.Context(), database.UpsertProfileParams{
		UserId:    userId,
		Bio:       req.Bio,
		Location:  req.Location,
		AvatarUrl: req.AvatarUrl,
		Details:   req.Details,
	})
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		CreatedAt:    u.CreatedAt,
	}
}

func toProfile(p database.Profile) types.Profile {
	details := p.Details
	if details == nil {
		details = map[string]string{}
	}

	return types.Profile{
		UserId:      p.UserId,
		Username:    p.Username,
		Email:       p.Email,
		Bio:         p.Bio,
		Location:    p.Location,
		AvatarUrl:   p.AvatarUrl,
		Details:     details,
		MemberSince: p.MemberSince,
	}
}
