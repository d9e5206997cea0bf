// Package auth manages the single local account and the bearer tokens that
// authenticate API calls.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/earmark/internal/model"
	"github.com/dukerupert/earmark/internal/store"
)

var (
	ErrAccountExists      = errors.New("an account already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email")
)

const minPasswordLen = 8

type Persister interface {
	Load(key string, v any) (bool, error)
	Save(key string, v any) error
}

// state is the persisted auth namespace. TokenVersion increments on sign-out
// so previously issued tokens stop verifying.
type state struct {
	User         *model.User `json:"user,omitempty"`
	SignedIn     bool        `json:"signed_in"`
	TokenVersion int         `json:"token_version"`
}

type Claims struct {
	Email   string `json:"email"`
	Version int    `json:"ver"`
	jwt.RegisteredClaims
}

type Service struct {
	mu     sync.Mutex
	state  state
	kv     Persister
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewService(kv Persister, secret string, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{
		kv:     kv,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "auth"),
	}
}

func (s *Service) Load() error {
	if s.kv == nil {
		return nil
	}
	var st state
	found, err := s.kv.Load(store.KeyAuth, &st)
	if err != nil {
		return fmt.Errorf("load auth: %w", err)
	}
	if found {
		s.mu.Lock()
		s.state = st
		s.mu.Unlock()
	}
	return nil
}

func (s *Service) persist() error {
	if s.kv == nil {
		return nil
	}
	if err := s.kv.Save(store.KeyAuth, s.state); err != nil {
		return fmt.Errorf("persist auth: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates the account and signs it in. Only one account may exist.
func (s *Service) SignUp(email, name, password string) (model.User, string, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return model.User{}, "", ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return model.User{}, "", ErrWeakPassword
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.User != nil {
		return model.User{}, "", ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	s.state.User = &user
	s.state.SignedIn = true
	if err := s.persist(); err != nil {
		return model.User{}, "", err
	}

	token, err := s.issue(user)
	if err != nil {
		return model.User{}, "", err
	}
	s.logger.Info("account created", "user_id", user.ID)
	return user, token, nil
}

func (s *Service) SignIn(email, password string) (model.User, string, error) {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.state.User
	if u == nil || u.Email != email {
		return model.User{}, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return model.User{}, "", ErrInvalidCredentials
	}

	s.state.SignedIn = true
	if err := s.persist(); err != nil {
		return model.User{}, "", err
	}
	token, err := s.issue(*u)
	if err != nil {
		return model.User{}, "", err
	}
	return *u, token, nil
}

// SignOut revokes every token issued so far.
func (s *Service) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.SignedIn = false
	s.state.TokenVersion++
	return s.persist()
}

// Current returns the signed-in user.
func (s *Service) Current() (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.User == nil || !s.state.SignedIn {
		return model.User{}, false
	}
	return *s.state.User, true
}

// issue signs a token for u. Caller holds s.mu.
func (s *Service) issue(u model.User) (string, error) {
	now := s.now()
	claims := Claims{
		Email:   u.Email,
		Version: s.state.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks the token signature, expiry and revocation.
func (s *Service) Verify(tokenStr string) (AuthContext, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return AuthContext{}, ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.state.User
	if u == nil || !s.state.SignedIn || u.ID != claims.Subject || claims.Version != s.state.TokenVersion {
		return AuthContext{}, ErrInvalidToken
	}
	return AuthContext{UserID: u.ID, Email: u.Email}, nil
}
