package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/fracture-records/internal/model"
)

func emails(us []*model.User) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.Email
	}
	return out
}

func (e *env) adminUser(t *testing.T, name, email string) *model.User {
	t.Helper()
	e.user(t, name, email)
	require.NoError(t, e.admin.SetAdmin(context.Background(), email, true))
	return e.reload(t, email)
}

func TestListUsersSorting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	root := e.adminUser(t, "Root", "root@x.com")
	b := e.user(t, "bob", "b@x.com")
	e.user(t, "Alice", "a@x.com")
	e.patient(t, b, "1")
	e.patient(t, b, "2")

	users, err := e.admin.ListUsers(ctx, root, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"root@x.com", "b@x.com", "a@x.com"}, emails(users))

	users, err = e.admin.ListUsers(ctx, root, "name", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "root@x.com"}, emails(users))

	users, err = e.admin.ListUsers(ctx, root, "numberOfPatients", "desc")
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", users[0].Email)
	assert.Equal(t, 2, users[0].NumberOfPatients)

	_, err = e.admin.ListUsers(ctx, root, "password", "")
	assertKind(t, err, KindValidation)
	_, err = e.admin.ListUsers(ctx, root, "name", "sideways")
	assertKind(t, err, KindValidation)
	_, err = e.admin.ListUsers(ctx, b, "", "")
	assertKind(t, err, KindForbidden)
}

func TestGetUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	root := e.adminUser(t, "Root", "root@x.com")
	a := e.user(t, "Dr. A", "a@x.com")
	b := e.user(t, "Dr. B", "b@x.com")

	got, err := e.admin.GetUser(ctx, a, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.Email)

	_, err = e.admin.GetUser(ctx, a, b.ID)
	assertKind(t, err, KindForbidden)

	got, err = e.admin.GetUser(ctx, root, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = e.admin.GetUser(ctx, root, 999)
	assertKind(t, err, KindNotFound)
}

func TestUpdateUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	root := e.adminUser(t, "Root", "root@x.com")
	other := e.adminUser(t, "Other", "other@x.com")
	a := e.user(t, "Dr. A", "a@x.com")
	e.user(t, "Dr. B", "b@x.com")

	got, err := e.admin.UpdateUser(ctx, root, a.ID, "Dr. Alpha", "")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Alpha", got.Name)
	assert.Equal(t, "a@x.com", got.Email)

	_, err = e.admin.UpdateUser(ctx, root, a.ID, "", "b@x.com")
	assertKind(t, err, KindConflict)
	_, err = e.admin.UpdateUser(ctx, root, a.ID, "", "not-an-email")
	assertKind(t, err, KindValidation)
	_, err = e.admin.UpdateUser(ctx, root, other.ID, "Renamed", "")
	assertKind(t, err, KindForbidden)
	_, err = e.admin.UpdateUser(ctx, a, a.ID, "Self", "")
	assertKind(t, err, KindForbidden)
	_, err = e.admin.UpdateUser(ctx, root, 999, "X", "")
	assertKind(t, err, KindNotFound)

	assert.Equal(t, "Dr. Alpha", e.reload(t, "a@x.com").Name)
}

func TestDeleteUserCascades(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	root := e.adminUser(t, "Root", "root@x.com")
	a := e.user(t, "Dr. A", "a@x.com")
	e.user(t, "Dr. B", "b@x.com")
	p := e.patient(t, a, "123")
	u := e.upload(t, a, p)
	e.patient(t, a, "456")
	require.NoError(t, e.uploads.Share(ctx, a, u.ID, "b@x.com"))

	assertKind(t, e.admin.DeleteUser(ctx, a, a.ID), KindForbidden)
	assertKind(t, e.admin.DeleteUser(ctx, root, root.ID), KindForbidden)

	require.NoError(t, e.admin.DeleteUser(ctx, root, a.ID))

	_, err := e.db.Users().GetByEmail(ctx, "a@x.com")
	assert.Error(t, err)
	assert.False(t, e.files.Exists(u.OriginalImage))
	assert.False(t, e.files.Exists(*u.ProcessedImage))
	assert.Empty(t, e.reload(t, "b@x.com").SharedUploadIDs)
	_, err = e.patients.Get(ctx, root, p.ID)
	assertKind(t, err, KindNotFound)

	assertKind(t, e.admin.DeleteUser(ctx, root, a.ID), KindNotFound)
}

func TestSetAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(t, "Dr. A", "a@x.com")

	require.NoError(t, e.admin.SetAdmin(ctx, "a@x.com", true))
	assert.True(t, e.reload(t, "a@x.com").IsAdmin)
	require.NoError(t, e.admin.SetAdmin(ctx, "a@x.com", false))
	assert.False(t, e.reload(t, "a@x.com").IsAdmin)

	assertKind(t, e.admin.SetAdmin(ctx, "ghost@x.com", true), KindNotFound)
	assertKind(t, e.admin.SetAdmin(ctx, " ", true), KindValidation)
}
