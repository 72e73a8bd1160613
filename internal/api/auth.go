package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const userIdKey contextKey = "user-id"

var errNoToken = errors.New("no bearer token")

func WithUserId(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int, bool) {
	userId, ok := ctx.Value(userIdKey).(int)

	return userId, ok
}

// bearerToken reads the token from the Authorization header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errNoToken
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", errNoToken
	}

	return token, nil
}

// wsToken also accepts the token as a query parameter, since browsers
// cannot set headers on a WebSocket handshake.
func wsToken(r *http.Request) (string, error) {
	if token, err := bearerToken(r); err == nil {
		return token, nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", errNoToken
}
