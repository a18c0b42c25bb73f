package users

import (
	"context"
	"testing"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupService(t *testing.T) *Service {
	mem := store.NewMemoryStore()
	t.Cleanup(func() { mem.Close(context.Background()) })
	return NewService(mem)
}

func TestEnsureUser_RoleOnlyOnCreation(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.False(t, u.CreatedAt.IsZero())

	// A later token claiming admin does not promote an existing user
	u, err = s.EnsureUser(ctx, "u1", domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, u.Role)

	_, err = s.EnsureUser(ctx, "", domain.RoleUser)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpdateShippingProfile(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, "u1", domain.RoleUser)
	require.NoError(t, err)

	_, err = s.UpdateShippingProfile(ctx, "u1", domain.ShippingProfile{Phone: "123", Province: "P", District: "D", City: "C", Address: "A"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = s.UpdateShippingProfile(ctx, "u1", domain.ShippingProfile{Phone: "0123456789", Province: "P", District: "D", City: "   ", Address: "A"})
	assert.ErrorIs(t, err, domain.ErrIncompleteShippingProfile)

	u, err := s.UpdateShippingProfile(ctx, "u1", domain.ShippingProfile{Phone: " 0123456789 ", Province: "P", District: "D", City: "C", Address: "A"})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", u.Profile.Phone)
	assert.True(t, u.Profile.Complete())

	_, err = s.UpdateShippingProfile(ctx, "ghost", u.Profile)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChangeDisplayName_Unique(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	for _, id := range []string{"u1", "u2"} {
		_, err := s.EnsureUser(ctx, id, domain.RoleUser)
		require.NoError(t, err)
	}

	u, err := s.ChangeDisplayName(ctx, "u1", "  alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.DisplayName)

	_, err = s.ChangeDisplayName(ctx, "u2", "alice")
	assert.ErrorIs(t, err, domain.ErrDisplayNameTaken)

	_, err = s.ChangeDisplayName(ctx, "u2", " ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestChangeUserRole(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	_, err := s.EnsureUser(ctx, "admin", domain.RoleAdmin)
	require.NoError(t, err)
	_, err = s.EnsureUser(ctx, "u1", domain.RoleUser)
	require.NoError(t, err)

	_, err = s.ChangeUserRole(ctx, "u1", "admin", domain.RoleUser)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = s.ChangeUserRole(ctx, "nobody", "u1", domain.RoleAdmin)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = s.ChangeUserRole(ctx, "admin", "u1", domain.Role("owner"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	u, err := s.ChangeUserRole(ctx, "admin", "u1", domain.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, u.IsAdmin())

	_, err = s.ChangeUserRole(ctx, "admin", "ghost", domain.RoleAdmin)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
