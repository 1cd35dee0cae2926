// Package auth handles registration, login, and access token issuance.
package auth

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/habitquest/service/internal/app/domain/user"
	"github.com/habitquest/service/internal/app/storage"
	errs "github.com/habitquest/service/internal/errors"
	"github.com/habitquest/service/pkg/logger"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 6
	maxPasswordLen = 100
)

// Service registers users and authenticates credentials.
type Service struct {
	store  storage.UserStore
	tokens *Tokens
	log    *logger.Logger
}

// New constructs an auth service.
func New(store storage.UserStore, tokens *Tokens, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Service{store: store, tokens: tokens, log: log}
}

// RegisterInput is the payload for creating an account.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is a successful authentication: the user plus a signed token.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      user.User `json:"user"`
}

// Register validates the input, creates the user, and issues a token. Emails
// are stored lowercased; usernames keep their case but collide
// case-insensitively.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	switch {
	case username == "":
		return Session{}, errs.Validation("Username is required")
	case email == "":
		return Session{}, errs.Validation("Email is required")
	case in.Password == "":
		return Session{}, errs.Validation("Password is required")
	case len(username) < minUsernameLen || len(username) > maxUsernameLen:
		return Session{}, errs.Validation(fmt.Sprintf("Username must be between %d and %d characters", minUsernameLen, maxUsernameLen))
	case !usernamePattern.MatchString(username):
		return Session{}, errs.Validation("Username can only contain letters, numbers, hyphens, and underscores")
	case !emailPattern.MatchString(email):
		return Session{}, errs.Validation("Please provide a valid email address")
	case len(in.Password) < minPasswordLen:
		return Session{}, errs.Validation("Password must be at least 6 characters long")
	case len(in.Password) > maxPasswordLen:
		return Session{}, errs.Validation("Password cannot exceed 100 characters")
	}

	if exists, err := s.store.EmailExists(ctx, email); err != nil {
		return Session{}, errs.Internal("checking email", err)
	} else if exists {
		return Session{}, errs.BusinessRule("An account with this email already exists")
	}
	if exists, err := s.store.UsernameExists(ctx, username); err != nil {
		return Session{}, errs.Internal("checking username", err)
	} else if exists {
		return Session{}, errs.BusinessRule("This username is already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, errs.Internal("hashing password", err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Level:        1,
	})
	if err != nil {
		return Session{}, errs.Internal("creating user", err)
	}

	s.log.WithField("user_id", created.ID).WithField("username", created.Username).Info("user registered")
	return s.newSession(created)
}

// Login authenticates an email/password pair. Missing users and wrong
// passwords produce the same message so the endpoint does not reveal which
// emails are registered.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, errs.Validation("Email and password are required")
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return Session{}, errs.Unauthorized("Invalid email or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Session{}, errs.Unauthorized("Invalid email or password")
	}

	s.log.WithField("user_id", u.ID).Info("user logged in")
	return s.newSession(u)
}

func (s *Service) newSession(u user.User) (Session, error) {
	token, expiresAt, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, errs.Internal("issuing token", err)
	}
	return Session{Token: token, ExpiresAt: expiresAt, User: u}, nil
}
