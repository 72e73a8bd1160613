package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/geta-app/geta/internal/auth"
	"github.com/geta-app/geta/internal/cache"
	"github.com/geta-app/geta/internal/config"
	"github.com/geta-app/geta/internal/database"
	"github.com/geta-app/geta/internal/server"
	"github.com/geta-app/geta/internal/stats"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type App struct {
	log      zerolog.Logger
	db       database.Repository
	srv      *http.Server
	cs       *server.ChatServer
	tokens   *auth.TokenService
	cache    cache.Cache
	upgrader websocket.Upgrader

	allowedOrigins []string
}

// NewApp registers every route on mux and wraps it in the middleware chain.
// su and c may be nil; the app then runs without HTTP metrics or a feed
// cache.
func NewApp(
	mux *http.ServeMux,
	logger zerolog.Logger,
	cs *server.ChatServer,
	db database.Repository,
	tokens *auth.TokenService,
	c cache.Cache,
	su *stats.StatsUpdater,
	cfg *config.Config,
) *App {
	if c == nil {
		c = cache.NopCache{}
	}

	s := &App{
		log:            logger,
		db:             db,
		cs:             cs,
		tokens:         tokens,
		cache:          c,
		allowedOrigins: cfg.AllowedOrigins,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)

	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))

	mux.HandleFunc("GET /api/profile", s.authMiddleware(s.ownProfile))
	mux.HandleFunc("PUT /api/profile", s.authMiddleware(s.updateProfile))
	mux.HandleFunc("GET /api/profile/{userId}", s.profile)

	mux.HandleFunc("POST /api/publications", s.authMiddleware(s.createPublication))
	mux.HandleFunc("GET /api/publications", s.listPublications)
	mux.HandleFunc("GET /api/publications/{id}", s.getPublication)
	mux.HandleFunc("PUT /api/publications/{id}", s.authMiddleware(s.updatePublication))
	mux.HandleFunc("DELETE /api/publications/{id}", s.authMiddleware(s.deletePublication))

	mux.HandleFunc("GET /api/search/users", s.authMiddleware(s.searchUsers))
	mux.HandleFunc("GET /api/search", s.search)

	mux.HandleFunc("GET /api/chat/conversations", s.authMiddleware(s.listConversations))
	mux.HandleFunc("GET /api/chat/conversations/{id}/messages", s.authMiddleware(s.conversationMessages))
	mux.HandleFunc("GET /ws", s.wsAuthMiddleware(s.serveWs))

	var h http.Handler = mux
	if su != nil {
		h = su.Middleware(h)
	}

	h = handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.ExposedHeaders([]string{"X-Request-Id"}),
		handlers.AllowCredentials(),
	)(h)

	h = s.errorHandler(h)
	h = s.requestLogger(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *App) Handler() http.Handler {
	return s.srv.Handler
}

func (s *App) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

// checkOrigin allows requests without an Origin header and requests from
// an allowed origin.
func (s *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}
