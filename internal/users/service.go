package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agoracloud/agora/internal/events"
	"github.com/agoracloud/agora/internal/platform/httpx"
)

// Roles accepted by Create. They mirror the global roles of the permission
// documents; the authorization consumer validates them again on delivery.
const (
	RoleSuperAdmin = "SuperAdmin"
	RoleUser       = "User"
)

const minPasswordLength = 8

// Service handles user business logic.
type Service struct {
	repo      RepositoryPort
	publisher events.Publisher
	logger    *slog.Logger
	cost      int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, publisher events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, publisher: publisher, logger: logger, cost: bcrypt.DefaultCost}
}

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

// Create registers a user and announces it with a user.created event.
func (s *Service) Create(ctx context.Context, email, name, password, role string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", httpx.ErrValidation)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", httpx.ErrValidation, minPasswordLength)
	}
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleSuperAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", httpx.ErrValidation, role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	env, err := events.NewUserCreated(u.ID, role)
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, env); err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// UserExists reports whether id is registered.
func (s *Service) UserExists(ctx context.Context, id string) (bool, error) {
	_, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Delete removes a user and publishes user.deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	env, err := events.NewUserDeleted(id)
	if err != nil {
		return err
	}
	return s.publish(ctx, env)
}

// LookupID resolves the id registered under email.
func (s *Service) LookupID(ctx context.Context, email string) (string, error) {
	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// Authenticate checks credentials and returns the matching active user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// EnsureAdmin creates the bootstrap super admin unless email is already
// registered.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.FindByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	u, err = s.Create(ctx, email, "Administrator", password, RoleSuperAdmin)
	if err != nil {
		return nil, fmt.Errorf("users: bootstrap admin: %w", err)
	}
	s.logger.Info("bootstrap admin created", slog.String("user_id", u.ID), slog.String("email", u.Email))
	return u, nil
}

func (s *Service) publish(ctx context.Context, env events.Envelope) error {
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.logger.Error("publish user event",
			slog.String("event_type", string(env.Type)),
			slog.String("event_id", env.ID),
			slog.Any("error", err),
		)
		return fmt.Errorf("users: publish %s: %w", env.Type, err)
	}
	return nil
}
