package users

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const maxDisplayNameLength = 40

type Service struct {
	users store.UserStore
	now   func() time.Time
}

func NewService(users store.UserStore) *Service {
	return &Service{users: users, now: time.Now}
}

// EnsureUser returns the stored user for id, creating it on first sight.
// The role is only taken from the caller on creation; afterwards the store is authoritative.
func (s *Service) EnsureUser(ctx context.Context, id string, role domain.Role) (domain.User, error) {
	if id == "" {
		return domain.User{}, errors.Wrap(domain.ErrInvalidArgument, "user id is required")
	}
	if role == "" {
		role = domain.RoleUser
	}
	return s.users.EnsureUser(ctx, domain.User{ID: id, Role: role, CreatedAt: s.now()})
}

func (s *Service) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.users.GetUser(ctx, id)
}

func (s *Service) UpdateShippingProfile(ctx context.Context, userID string, profile domain.ShippingProfile) (domain.User, error) {
	profile = domain.ShippingProfile{
		Phone:    strings.TrimSpace(profile.Phone),
		Province: strings.TrimSpace(profile.Province),
		District: strings.TrimSpace(profile.District),
		City:     strings.TrimSpace(profile.City),
		Address:  strings.TrimSpace(profile.Address),
	}
	if err := profile.Validate(); err != nil {
		return domain.User{}, err
	}
	return s.users.UpdateProfile(ctx, userID, profile)
}

func (s *Service) ChangeDisplayName(ctx context.Context, userID, name string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, errors.Wrap(domain.ErrInvalidArgument, "display name is required")
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return domain.User{}, errors.Wrapf(domain.ErrInvalidArgument, "display name is longer than %d characters", maxDisplayNameLength)
	}

	u, err := s.users.SetDisplayName(ctx, userID, name)
	if err != nil {
		return domain.User{}, err
	}
	logger.FromContext(ctx).WithField("user_id", userID).Info("display name changed")
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.users.ListUsers(ctx)
}

// ChangeUserRole is restricted to admins. Admins may demote themselves.
func (s *Service) ChangeUserRole(ctx context.Context, adminID, userID string, role domain.Role) (domain.User, error) {
	caller, err := s.users.GetUser(ctx, adminID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !caller.IsAdmin()) {
		return domain.User{}, errors.Wrap(domain.ErrForbidden, "only admins can change roles")
	}
	if err != nil {
		return domain.User{}, err
	}
	if _, err := domain.ParseRole(string(role)); err != nil {
		return domain.User{}, err
	}

	u, err := s.users.SetRole(ctx, userID, role)
	if err != nil {
		return domain.User{}, err
	}
	logger.FromContext(ctx).WithFields(log.Fields{
		"admin_id": adminID,
		"user_id":  userID,
		"role":     role,
	}).Info("user role changed")
	return u, nil
}
