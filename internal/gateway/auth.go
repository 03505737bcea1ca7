package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Seednode/cardparty/internal/apperrors"
	"github.com/Seednode/cardparty/internal/storage"
)

const accessTokenType = "access"

// UserSource looks up the account behind a token.
type UserSource interface {
	GetUser(ctx context.Context, id string) (storage.User, error)
}

// accessClaims is the claims type used for JWT parsing.
type accessClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Type   string `json:"type"`
}

// Authenticator verifies HS256 access tokens.
type Authenticator struct {
	secret []byte
	users  UserSource
	now    func() time.Time
}

// NewAuthenticator returns an Authenticator that checks tokens against secret
// and resolves their subject through users.
func NewAuthenticator(secret string, users UserSource) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users, now: time.Now}
}

// IssueToken signs an access token for userID valid for ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		Type:   accessTokenType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// tokenFromRequest reads the token from the query string or a bearer header.
func tokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// Authenticate returns the user an HTTP request is authenticated as.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (storage.User, error) {
	return a.Verify(ctx, tokenFromRequest(r))
}

// Verify validates a raw access token and loads its user.
func (a *Authenticator) Verify(ctx context.Context, token string) (storage.User, error) {
	if token == "" {
		return storage.User{}, apperrors.New(apperrors.CodeAuthRequired, "access token is required")
	}

	var claims accessClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return storage.User{}, mapJWTError(err)
	}

	if claims.Type != accessTokenType {
		return storage.User{}, apperrors.New(apperrors.CodeAuthExpired, "token is not an access token")
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return storage.User{}, apperrors.New(apperrors.CodeAuthExpired, "token has no user")
	}

	user, err := a.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, apperrors.New(apperrors.CodeAuthRequired, "user not found")
	}
	if err != nil {
		return storage.User{}, apperrors.Wrap(apperrors.CodeInternal, "load user", err)
	}
	return user, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperrors.Wrap(apperrors.CodeAuthExpired, "token has expired, please log in again", err)
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.Wrap(apperrors.CodeAuthExpired, "token signature is invalid", err)
	}
	return apperrors.Wrap(apperrors.CodeAuthExpired, "token is invalid", err)
}
