package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/school-transport/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

func newTestUser(tenant string) *models.User {
	return &models.User{
		ClientOrganizationID: tenant,
		FirstName:            "Test",
		LastName:             "User",
		Email:                "test@example.com",
		PasswordHash:         "hashedpassword",
		Role:                 models.RoleStudent,
	}
}

func TestMongoUserCollection_InsertUser(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	user := newTestUser("org-1")
	err := store.Users.InsertUser(ctx, user)
	assert.NoError(t, err)

	var found models.User
	err = store.Users.Collection.FindOne(ctx, bson.M{"email": "test@example.com"}).Decode(&found)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, models.RoleStudent, found.Role)
	assert.True(t, found.IsActive)
	assert.NotZero(t, found.CreatedDate)
	assert.NotZero(t, found.ModifiedDate)
}

func TestMongoUserCollection_FindUserByID_Scoped(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	user := newTestUser("org-1")
	require.NoError(t, store.Users.InsertUser(ctx, user))

	found, err := store.Users.FindUserByID(ctx, models.Scope{TenantID: "org-1"}, user.ID)
	assert.NoError(t, err)
	assert.Equal(t, user.Email, found.Email)

	_, err = store.Users.FindUserByID(ctx, models.Scope{TenantID: "org-2"}, user.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Users.FindUserByID(ctx, models.Scope{Global: true}, user.ID)
	assert.NoError(t, err)
}

func TestMongoUserCollection_FindUserByEmail(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Users.InsertUser(ctx, newTestUser("org-1")))

	found, err := store.Users.FindUserByEmail(ctx, "", "test@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "org-1", found.ClientOrganizationID)

	_, err = store.Users.FindUserByEmail(ctx, "org-2", "test@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Users.FindUserByEmail(ctx, "", "nonexistent@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoUserCollection_UpdateUser(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	user := newTestUser("org-1")
	require.NoError(t, store.Users.InsertUser(ctx, user))
	before := user.ModifiedDate

	time.Sleep(5 * time.Millisecond)
	user.FirstName = "Updated"
	require.NoError(t, store.Users.UpdateUser(ctx, user))

	found, err := store.Users.FindUserByID(ctx, models.Scope{Global: true}, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Updated", found.FirstName)
	assert.True(t, found.ModifiedDate.After(before))
}

func TestMongoUserCollection_DeactivateUser(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	user := newTestUser("org-1")
	require.NoError(t, store.Users.InsertUser(ctx, user))

	scope := models.Scope{TenantID: "org-1"}
	require.NoError(t, store.Users.DeactivateUser(ctx, scope, user.ID, time.Now()))

	_, err := store.Users.FindUserByID(ctx, scope, user.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Users.DeactivateUser(ctx, scope, user.ID, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoUserCollection_UpdateLastLogin(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	user := newTestUser("org-1")
	require.NoError(t, store.Users.InsertUser(ctx, user))

	require.NoError(t, store.Users.UpdateLastLogin(ctx, user.ID))

	found, err := store.Users.FindUserByID(ctx, models.Scope{Global: true}, user.ID)
	require.NoError(t, err)
	require.NotNil(t, found.LastLogin)
	assert.False(t, found.LastLogin.Before(user.CreatedDate.Truncate(time.Millisecond)))
}
