package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geta-app/geta/internal/auth"
	"github.com/geta-app/geta/internal/cache"
	"github.com/geta-app/geta/internal/config"
	"github.com/geta-app/geta/internal/database"
	"github.com/geta-app/geta/internal/server"
	"github.com/geta-app/geta/internal/testutil"
	"github.com/geta-app/geta/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:3000"

var (
	testSigningKey = []byte("test-signing-key")

	alice = types.User{Id: 1, Username: "alice", EmailAddress: "alice@example.com"}
	bob   = types.User{Id: 2, Username: "bob", EmailAddress: "bob@example.com"}
)

func newTestApp(t testing.TB, db database.Repository, c cache.Cache) *App {
	return newTestAppWithChat(t, db, c, nil)
}

func newTestAppWithChat(t testing.TB, db database.Repository, c cache.Cache, cs *server.ChatServer) *App {
	cfg := &config.Config{
		ServerAddr:     "localhost:8000",
		AllowedOrigins: []string{testOrigin},
	}

	return NewApp(http.NewServeMux(), testutil.TestLogger(t), cs, db, auth.NewTokenService(testSigningKey, 0), c, nil, cfg)
}

func bearer(t testing.TB, app *App, user types.User) string {
	token, err := app.tokens.Issue(user)
	require.NoError(t, err)
	return "Bearer " + token
}

// doRequest sends a request through the full middleware chain. body is
// encoded as JSON unless it is already a string.
func doRequest(t testing.TB, app *App, method, path string, body any, authorization string) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = strings.NewReader(string(raw))
	}

	req := httptest.NewRequest(method, path, r)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t testing.TB, rr *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestNewApp(t *testing.T) {
	db := &database.MockRepository{}
	app := newTestApp(t, db, nil)

	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, "localhost:8000", app.srv.Addr, "expected server address to match config")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, cache.NopCache{}, app.cache, "expected a no-op cache when none is configured")
	assert.Equal(t, []string{testOrigin}, app.allowedOrigins)
}

func Test_checkOrigin(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{}, nil)

	tcases := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{name: "no origin", origin: "", allowed: true},
		{name: "allowed origin", origin: testOrigin, allowed: true},
		{name: "unknown origin", origin: "http://evil.example", allowed: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.allowed, app.checkOrigin(req))
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{}, nil)

	rr := doRequest(t, app, http.MethodDelete, "/healthz", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Contains(t, rr.Header().Get("Allow"), http.MethodGet)
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping").Return(tc.mockErr).Once()

			app := newTestApp(t, mockRepo, nil)
			rr := doRequest(t, app, http.MethodGet, "/healthz", nil, "")

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestRegister(t *testing.T) {
	created := database.User{
		Id:           7,
		Username:     "newuser",
		EmailAddress: "newuser@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	valid := RegisterRequest{
		Username: created.Username,
		Email:    created.EmailAddress,
		Password: "password",
	}

	matchParams := mock.MatchedBy(func(p database.CreateAccountParams) bool {
		return p.Username == valid.Username &&
			p.EmailAddress == valid.Email &&
			p.PasswordHash != valid.Password &&
			auth.VerifyPassword(p.PasswordHash, valid.Password)
	})

	tcases := []struct {
		name           string
		body           any
		mockErr        error
		callsStore     bool
		expectedStatus int
		expectedMsg    string
	}{
		{
			name:           "creates a new account",
			body:           valid,
			callsStore:     true,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid json body",
			body:           "invalid json",
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "bad request",
		},
		{
			name:           "missing username",
			body:           RegisterRequest{Email: valid.Email, Password: valid.Password},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "username is required",
		},
		{
			name:           "username too short",
			body:           RegisterRequest{Username: "ab", Email: valid.Email, Password: valid.Password},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "username must be at least 3 characters",
		},
		{
			name:           "invalid email",
			body:           RegisterRequest{Username: valid.Username, Email: "not-an-email", Password: valid.Password},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "email must be a valid email address",
		},
		{
			name:           "password too short",
			body:           RegisterRequest{Username: valid.Username, Email: valid.Email, Password: "12345"},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "password must be at least 6 characters",
		},
		{
			name:           "password longer than bcrypt allows",
			body:           RegisterRequest{Username: valid.Username, Email: valid.Email, Password: strings.Repeat("a", 80)},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "password is too long",
		},
		{
			name:           "duplicate username",
			body:           valid,
			mockErr:        database.ErrDuplicateUsername,
			callsStore:     true,
			expectedStatus: http.StatusConflict,
			expectedMsg:    "username already taken",
		},
		{
			name:           "duplicate email",
			body:           valid,
			mockErr:        database.ErrDuplicateEmail,
			callsStore:     true,
			expectedStatus: http.StatusConflict,
			expectedMsg:    "email already registered",
		},
		{
			name:           "store failure",
			body:           valid,
			mockErr:        errors.New("pq: connection refused"),
			callsStore:     true,
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.callsStore {
				if tc.mockErr != nil {
					mockRepo.On("CreateAccount", matchParams).Return(database.User{}, tc.mockErr).Once()
				} else {
					mockRepo.On("CreateAccount", matchParams).Return(created, nil).Once()
				}
			}

			app := newTestApp(t, mockRepo, nil)
			rr := doRequest(t, app, http.MethodPost, "/api/auth/register", tc.body, "")

			assert.Equal(t, tc.expectedStatus, rr.Code)
			if tc.expectedStatus != http.StatusCreated {
				apiErr := decodeBody[ApiError](t, rr)
				assert.Equal(t, tc.expectedStatus, apiErr.StatusCode)
				assert.Equal(t, tc.expectedMsg, apiErr.Message)
				return
			}

			resp := decodeBody[AuthResponse](t, rr)
			assert.Equal(t, created.Id, resp.User.Id)
			assert.Equal(t, created.Username, resp.User.Username)
			assert.Equal(t, created.EmailAddress, resp.User.EmailAddress)
			assert.NotContains(t, rr.Body.String(), "hash", "expected the password hash to stay private")

			claims, err := app.tokens.Verify(resp.Token)
			require.NoError(t, err, "expected a valid session token")
			assert.Equal(t, created.Id, claims.UserId)
			assert.Equal(t, int64(auth.DefaultTokenTTL/time.Second), claims.ExpiresAt-claims.IssuedAt)
		})
	}
}

func TestLogin(t *testing.T) {
	hash, err := auth.HashPassword("password")
	require.NoError(t, err)

	account := database.User{
		Id:           1,
		Username:     "alice",
		EmailAddress: "alice@example.com",
		PasswordHash: hash,
	}

	tcases := []struct {
		name           string
		body           any
		setup          func(db *database.MockRepository)
		expectedStatus int
		expectedMsg    string
	}{
		{
			name: "successful login",
			body: LoginRequest{Email: account.EmailAddress, Password: "password"},
			setup: func(db *database.MockRepository) {
				db.On("GetAccountByEmail", account.EmailAddress).Return(account, nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "unknown email",
			body: LoginRequest{Email: "nobody@example.com", Password: "password"},
			setup: func(db *database.MockRepository) {
				db.On("GetAccountByEmail", "nobody@example.com").Return(database.User{}, database.ErrNotFound).Once()
			},
			expectedStatus: http.StatusUnauthorized,
			expectedMsg:    "invalid email or password",
		},
		{
			name: "wrong password",
			body: LoginRequest{Email: account.EmailAddress, Password: "wrong-password"},
			setup: func(db *database.MockRepository) {
				db.On("GetAccountByEmail", account.EmailAddress).Return(account, nil).Once()
			},
			expectedStatus: http.StatusUnauthorized,
			expectedMsg:    "invalid email or password",
		},
		{
			name:           "missing password",
			body:           LoginRequest{Email: account.EmailAddress},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "password is required",
		},
		{
			name: "store failure",
			body: LoginRequest{Email: account.EmailAddress, Password: "password"},
			setup: func(db *database.MockRepository) {
				db.On("GetAccountByEmail", account.EmailAddress).Return(database.User{}, errors.New("db error")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.setup != nil {
				tc.setup(mockRepo)
			}

			app := newTestApp(t, mockRepo, nil)
			rr := doRequest(t, app, http.MethodPost, "/api/auth/login", tc.body, "")

			assert.Equal(t, tc.expectedStatus, rr.Code)
			if tc.expectedStatus != http.StatusOK {
				assert.Equal(t, tc.expectedMsg, decodeBody[ApiError](t, rr).Message)
				return
			}

			resp := decodeBody[AuthResponse](t, rr)
			assert.Equal(t, account.Id, resp.User.Id)
			claims, err := app.tokens.Verify(resp.Token)
			require.NoError(t, err)
			assert.Equal(t, account.Id, claims.UserId)
			assert.Equal(t, account.Username, claims.Username)
		})
	}
}

func TestLogin_SameResponseForUnknownEmailAndWrongPassword(t *testing.T) {
	hash, err := auth.HashPassword("password")
	require.NoError(t, err)

	mockRepo := &database.MockRepository{}
	mockRepo.On("GetAccountByEmail", "alice@example.com").Return(database.User{Id: 1, PasswordHash: hash}, nil).Once()
	mockRepo.On("GetAccountByEmail", "nobody@example.com").Return(database.User{}, database.ErrNotFound).Once()
	defer mockRepo.AssertExpectations(t)

	app := newTestApp(t, mockRepo, nil)
	wrongPassword := doRequest(t, app, http.MethodPost, "/api/auth/login",
		LoginRequest{Email: "alice@example.com", Password: "nope"}, "")
	unknownEmail := doRequest(t, app, http.MethodPost, "/api/auth/login",
		LoginRequest{Email: "nobody@example.com", Password: "nope"}, "")

	assert.Equal(t, wrongPassword.Code, unknownEmail.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func Test_session(t *testing.T) {
	t.Run("returns the caller", func(t *testing.T) {
		mockRepo := &database.MockRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountById", alice.Id).Return(database.User{
			Id:           alice.Id,
			Username:     alice.Username,
			EmailAddress: alice.EmailAddress,
			PasswordHash: "secret-hash",
		}, nil).Once()

		app := newTestApp(t, mockRepo, nil)
		rr := doRequest(t, app, http.MethodGet, "/api/auth/session", nil, bearer(t, app, alice))

		assert.Equal(t, http.StatusOK, rr.Code)
		user := decodeBody[types.User](t, rr)
		assert.Equal(t, alice.Id, user.Id)
		assert.Equal(t, alice.EmailAddress, user.EmailAddress)
		assert.NotContains(t, rr.Body.String(), "secret-hash")
	})

	t.Run("missing token", func(t *testing.T) {
		app := newTestApp(t, &database.MockRepository{}, nil)
		rr := doRequest(t, app, http.MethodGet, "/api/auth/session", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("account deleted", func(t *testing.T) {
		mockRepo := &database.MockRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountById", alice.Id).Return(database.User{}, database.ErrNotFound).Once()

		app := newTestApp(t, mockRepo, nil)
		rr := doRequest(t, app, http.MethodGet, "/api/auth/session", nil, bearer(t, app, alice))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestProfile(t *testing.T) {
	memberSince := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	stored := database.Profile{
		Id:          3,
		UserId:      alice.Id,
		Username:    alice.Username,
		Email:       alice.EmailAddress,
		Bio:         "plumber",
		Location:    "Recife",
		Details:     map[string]string{"skills": "pipes"},
		MemberSince: memberSince,
	}

	t.Run("public view excludes email", func(t *testing.T) {
		mockRepo := &database.MockRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetProfile", alice.Id).Return(stored, nil).Once()

		app := newTestApp(t, mockRepo, nil)
		rr := doRequest(t, app, http.MethodGet, "/api/profile/1", nil, "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), "email")
		profile := decodeBody[types.Profile](t, rr)
		assert.Equal(t, "plumber", profile.Bio)
		assert.Equal(t, "Recife", profile.Location)
		assert.Equal(t, map[string]string{"skills": "pipes"}, profile.Details)
		assert.True(t, memberSince.Equal(profile.MemberSince))
	})

	t.Run("own view includes email", func(t *testing.T) {
		mockRepo := &database.MockRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetProfile", alice.Id).Return(stored, nil).Once()

		app := newTestApp(t, mockRepo, nil)
		rr := doRequest(t, app, http.MethodGet, "/api/profile", nil, bearer(t, app, alice))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, alice.EmailAddress, decodeBody[types.Profile](t, rr).Email)
	})

	t.Run("unknown user", func(t *testing.T) {
		mockRepo := &database.MockRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetProfile", 99).Return(database.Profile{}, database.ErrNotFound).Once()

		app := newTestApp(t, mockRepo, nil)
		rr := doRequest(t, app, http.MethodGet, "/api/profile/99", nil, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("invalid user id", func(t *testing.T) {
		app := newTestApp(t, &database.MockRepository{}, nil)
		rr := doRequest(t, app, http.MethodGet, "/api/profile/abc", nil, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "invalid user id", decodeBody[ApiError](t, rr).Message)
	})
}

func TestUpdateProfile(t *testing.T) {
	t.Run("updates only supplied fields", func(t *testing.T) {
		mockRepo := &database.MockRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("UpsertProfile", mock.MatchedBy(func(p database.UpsertProfileParams) bool {
			return p.UserId == alice.Id &&
				p.Bio != nil && *p.Bio == "new bio" &&
				p.Location == nil &&
				p.AvatarUrl == nil &&
				p.Details["area"] == "north"
		})).Return(database.Profile{UserId: alice.Id}, nil).Once()

		app := newTestApp(t, mockRepo, nil)
		rr := doRequest(t, app, http.MethodPut, "/api/profile",
			`{"bio":"new bio","details":{"area":"north"}}`, bearer(t, app, alice))

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, rr.Body.String())
	})

	t.Run("requires a token", func(t *testing.T) {
		app := newTestApp(t, &database.MockRepository{}, nil)
		rr := doRequest(t, app, http.MethodPut, "/api/profile", `{"bio":"x"}`, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("rejects an oversized field", func(t *testing.T) {
		app := newTestApp(t, &database.MockRepository{}, nil)
		rr := doRequest(t, app, http.MethodPut, "/api/profile",
			UpdateProfileRequest{Location: ptr(strings.Repeat("x", 101))}, bearer(t, app, alice))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "location must be at most 100 characters", decodeBody[ApiError](t, rr).Message)
	})

	t.Run("store failure", func(t *testing.T) {
		mockRepo := &database.MockRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("UpsertProfile", mock.Anything).Return(database.Profile{}, errors.New("db error")).Once()

		app := newTestApp(t, mockRepo, nil)
		rr := doRequest(t, app, http.MethodPut, "/api/profile", `{}`, bearer(t, app, alice))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "internal server error", decodeBody[ApiError](t, rr).Message)
	})
}

func ptr[T any](v T) *T {
	return &v
}
