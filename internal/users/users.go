package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lireddit/lireddit/internal/cache"
	"github.com/lireddit/lireddit/internal/db"
	"github.com/lireddit/lireddit/internal/mail"
	"github.com/lireddit/lireddit/internal/models"
	"github.com/lireddit/lireddit/internal/session"
	"github.com/lireddit/lireddit/pkg/config"
)

// ForgetPasswordPrefix namespaces password reset tokens in the cache
const ForgetPasswordPrefix = "forget-password:"

// AuthResult is the outcome of a register, login or password change.
// On success User is set and SessionToken names the new session.
type AuthResult struct {
	Errors       []FieldError
	User         *models.User
	SessionToken string
}

func fieldErrors(errs ...FieldError) *AuthResult {
	return &AuthResult{Errors: errs}
}

// Service implements account management
type Service struct {
	users    *db.UserRepository
	store    cache.Store
	sessions *session.Manager
	mailer   mail.Sender
	cfg      config.AuthConfig
	logger   *zap.Logger
	hashCost int
}

// NewService creates a user service
func NewService(repo *db.Repository, store cache.Store, sessions *session.Manager, mailer mail.Sender, cfg *config.AuthConfig, logger *zap.Logger) *Service {
	return &Service{
		users:    db.NewUserRepository(repo),
		store:    store,
		sessions: sessions,
		mailer:   mailer,
		cfg:      *cfg,
		logger:   logger,
		hashCost: bcrypt.DefaultCost,
	}
}

// Get returns user id, or nil if it does not exist
func (s *Service) Get(ctx context.Context, id int64) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

// Me returns the caller's account, or nil for anonymous callers
func (s *Service) Me(ctx context.Context, userID int64) (*models.User, error) {
	if userID == 0 {
		return nil, nil
	}
	return s.users.GetByID(ctx, userID)
}

// Register creates an account and logs it in
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if errs := ValidateRegister(in); errs != nil {
		return fieldErrors(errs...), nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username: in.Username,
		Email:    in.Email,
		Password: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if db.IsUniqueViolation(err) {
			if strings.Contains(db.ViolatedConstraint(err), "email") {
				return fieldErrors(FieldError{Field: "email", Message: "email already taken"}), nil
			}
			return fieldErrors(FieldError{Field: "username", Message: "username already taken"}), nil
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.startSession(ctx, user)
}

// Login authenticates by username or email
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (*AuthResult, error) {
	user, err := s.users.GetByUsernameOrEmail(ctx, usernameOrEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return fieldErrors(FieldError{Field: "usernameOrEmail", Message: "that username doesn't exist"}), nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fieldErrors(FieldError{Field: "password", Message: "incorrect password"}), nil
		}
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}

	return s.startSession(ctx, user)
}

// Logout destroys the session named by token. It reports false if the
// session store could not be updated.
func (s *Service) Logout(ctx context.Context, token string) bool {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		s.logger.Error("Failed to destroy session", zap.Error(err))
		return false
	}
	return true
}

// ForgotPassword emails a reset link when email belongs to an account. It
// reports true either way so callers cannot probe for registered addresses.
func (s *Service) ForgotPassword(ctx context.Context, email string) (bool, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return true, nil
	}

	token := uuid.NewString()
	if err := s.store.Set(ctx, ForgetPasswordPrefix+token, strconv.FormatInt(user.ID, 10), s.cfg.ResetTokenTTL); err != nil {
		return false, fmt.Errorf("failed to store reset token: %w", err)
	}

	body := fmt.Sprintf(`<a href="%s%s">reset password</a>`, s.cfg.ResetURL, token)
	if err := s.mailer.Send(ctx, user.Email, "change password", body); err != nil {
		// the token is stored; a failed send is logged and the request still succeeds
		s.logger.Error("Failed to send reset email", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	return true, nil
}

// ChangePassword sets a new password using a reset token and logs the user in.
// The token is consumed.
func (s *Service) ChangePassword(ctx context.Context, token, newPassword string) (*AuthResult, error) {
	if errs := validatePassword("newPassword", newPassword); errs != nil {
		return fieldErrors(errs...), nil
	}

	val, err := s.store.GetDel(ctx, ForgetPasswordPrefix+token)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return fieldErrors(FieldError{Field: "token", Message: "token expired"}), nil
		}
		return nil, fmt.Errorf("failed to read reset token: %w", err)
	}

	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fieldErrors(FieldError{Field: "token", Message: "token expired"}), nil
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return fieldErrors(FieldError{Field: "token", Message: "user no longer exists"}), nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return nil, fmt.Errorf("failed to update password: %w", err)
	}
	user.Password = string(hash)

	return s.startSession(ctx, user)
}

func (s *Service) startSession(ctx context.Context, user *models.User) (*AuthResult, error) {
	token, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, SessionToken: token}, nil
}
