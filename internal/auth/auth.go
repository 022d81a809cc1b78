// Package auth implements account registration and bearer-token sessions
// for multi-tenant deployments. Tokens are signed JWTs whose jti is also
// persisted, so logout revokes a token before its expiry.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/state"
)

const invalidCredentials = "invalid email or password"
const invalidSession = "invalid or expired session, please log in again"

// Service issues and verifies user sessions against the database backend.
type Service struct {
	db         *state.DB
	secret     []byte
	ttl        time.Duration
	adminEmail string
	logger     zerolog.Logger
}

func New(db *state.DB, secret string, ttl time.Duration, adminEmail string, logger zerolog.Logger) *Service {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{
		db:         db,
		secret:     []byte(secret),
		ttl:        ttl,
		adminEmail: strings.ToLower(strings.TrimSpace(adminEmail)),
		logger:     logger.With().Str("component", "auth").Logger(),
	}
}

// Register creates an account and returns the new user id.
func (s *Service) Register(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", apperr.Validation("a valid email is required")
	}
	if password == "" {
		return "", apperr.Validation("a password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindAuth, err, "hash password")
	}
	u := &state.User{ID: uuid.NewString(), Email: email, PasswordHash: string(hash)}
	if err := s.db.CreateUser(ctx, u); err != nil {
		if strings.Contains(err.Error(), "already registered") {
			return "", apperr.Validation("email already registered")
		}
		return "", apperr.Wrap(apperr.KindPersistence, err, "create user")
	}
	s.logger.Info().Str("user_id", u.ID).Msg("user registered")
	return u.ID, nil
}

// Login verifies the credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (userID, token string, err error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.db.UserByEmail(ctx, email)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindPersistence, err, "look up user")
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", "", apperr.New(apperr.KindAuth, invalidCredentials)
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)
	jti := uuid.NewString()
	claims := jwt.RegisteredClaims{
		ID:        jti,
		Subject:   u.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindAuth, err, "sign token")
	}
	if err := s.db.SaveToken(ctx, jti, u.ID, expiresAt); err != nil {
		return "", "", apperr.Wrap(apperr.KindPersistence, err, "persist token")
	}
	return u.ID, signed, nil
}

// parse validates the token's signature and expiry and returns its claims.
func (s *Service) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, apperr.New(apperr.KindAuth, invalidSession)
	}
	return claims, nil
}

// VerifyToken resolves a bearer token to a user id. The jti must still be
// present in the token table: a logged-out token fails even when the
// signature is valid.
func (s *Service) VerifyToken(ctx context.Context, token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	userID, err := s.db.TokenUser(ctx, claims.ID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindPersistence, err, "look up token")
	}
	if userID == "" || userID != claims.Subject {
		return "", apperr.New(apperr.KindAuth, invalidSession)
	}
	return userID, nil
}

// Logout revokes the token. Revoking an unknown token is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	if err := s.db.DeleteToken(ctx, claims.ID); err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "revoke token")
	}
	return nil
}

// UserEmail returns the email of an existing user.
func (s *Service) UserEmail(ctx context.Context, userID string) (string, error) {
	email, err := s.db.UserEmail(ctx, userID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindPersistence, err, "look up user")
	}
	if email == "" {
		return "", apperr.NotFound("user", userID)
	}
	return email, nil
}

// IsAdmin reports whether the email matches the configured administrator.
func (s *Service) IsAdmin(email string) bool {
	return s.adminEmail != "" && strings.EqualFold(strings.TrimSpace(email), s.adminEmail)
}
