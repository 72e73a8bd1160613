package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/geta-app/geta/internal/types"
	"github.com/golang-jwt/jwt"
)

// DefaultTokenTTL is how long an issued session token stays valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
)

type Claims struct {
	jwt.StandardClaims
	Username string `json:"username"`
	Email    string `json:"email"`

	// UserId is the parsed subject, filled in by Verify.
	UserId int `json:"-"`
}

type TokenService struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokenService(key []byte, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &TokenService{
		key: key,
		ttl: ttl,
		now: time.Now,
	}
}

func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs an HS256 token whose subject is the user's id.
func (s *TokenService) Issue(user types.User) (string, error) {
	now := s.now()
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.Itoa(user.Id),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
		Username: user.Username,
		Email:    user.EmailAddress,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify checks the signature and expiry of tokenString against the
// service's clock and returns its claims.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	parser := jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodHS256.Alg()},
		SkipClaimsValidation: true,
	}

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.key, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.ExpiresAt == 0 {
		return nil, ErrTokenInvalid
	}
	if !claims.VerifyExpiresAt(s.now().Unix(), true) {
		return nil, ErrTokenExpired
	}

	userId, err := strconv.Atoi(claims.Subject)
	if err != nil || userId <= 0 {
		return nil, ErrTokenInvalid
	}
	claims.UserId = userId

	return claims, nil
}
