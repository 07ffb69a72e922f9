package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/fracture-records/internal/model"
	"github.com/iliyamo/fracture-records/internal/repository"
)

func seed(t *testing.T) (*DB, *model.User, *model.Patient, *model.Upload) {
	t.Helper()
	ctx := context.Background()
	db := New()
	u := &model.User{Name: "Dr. A", Email: "a@x.com", PasswordHash: "h"}
	require.NoError(t, db.Users().Create(ctx, u))
	p := &model.Patient{OwnerID: u.ID, IDNumber: "123", Name: "John", Gender: "Male"}
	require.NoError(t, db.Patients().Create(ctx, p))
	up := &model.Upload{OwnerID: u.ID, PatientID: p.ID, PatientName: p.Name, OriginalImage: "a.png", DateUploaded: time.Now()}
	require.NoError(t, db.Uploads().Create(ctx, up))
	return db, u, p, up
}

func TestUsersUniqueEmailExactMatch(t *testing.T) {
	ctx := context.Background()
	db := New()
	require.NoError(t, db.Users().Create(ctx, &model.User{Email: "a@x.com"}))
	assert.ErrorIs(t, db.Users().Create(ctx, &model.User{Email: "a@x.com"}), repository.ErrEmailExists)
	assert.NoError(t, db.Users().Create(ctx, &model.User{Email: "A@x.com"}))

	_, err := db.Users().GetByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUsersListSharedIDsNeverNil(t *testing.T) {
	ctx := context.Background()
	db, u, _, up := seed(t)
	b := &model.User{Name: "Dr. B", Email: "b@x.com"}
	require.NoError(t, db.Users().Create(ctx, b))
	require.NoError(t, db.Shares().AddUpload(ctx, b.ID, up.ID))

	users, err := db.Users().List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, u.ID, users[0].ID)
	assert.NotNil(t, users[0].SharedUploadIDs)
	assert.NotNil(t, users[0].SharedPatientIDs)
	assert.Empty(t, users[0].SharedUploadIDs)
	assert.Equal(t, 1, users[0].NumberOfPatients)
	assert.Equal(t, []uint64{up.ID}, users[1].SharedUploadIDs)
}

func TestPatientCounterAndRestrict(t *testing.T) {
	ctx := context.Background()
	db, u, p, up := seed(t)

	got, err := db.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NumberOfPatients)

	assert.ErrorIs(t, db.Patients().Create(ctx, &model.Patient{OwnerID: u.ID, IDNumber: "123"}), repository.ErrDuplicatePatient)
	assert.ErrorIs(t, db.Patients().Delete(ctx, p.ID), ErrRestricted)

	require.NoError(t, db.Uploads().Delete(ctx, up.ID))
	require.NoError(t, db.Patients().Delete(ctx, p.ID))
	got, err = db.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.NumberOfPatients)
}

func TestPatientUpdateRewritesUploadName(t *testing.T) {
	ctx := context.Background()
	db, u, p, up := seed(t)

	p.Name = "Johnny"
	require.NoError(t, db.Patients().Update(ctx, p))
	got, err := db.Uploads().GetByID(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, "Johnny", got.PatientName)

	other := *p
	other.OwnerID = u.ID + 100
	assert.ErrorIs(t, db.Patients().Update(ctx, &other), repository.ErrForbidden)
}

func TestSharesCascadeAndOrder(t *testing.T) {
	ctx := context.Background()
	db, _, p, up := seed(t)
	b := &model.User{Email: "b@x.com"}
	require.NoError(t, db.Users().Create(ctx, b))

	require.NoError(t, db.Shares().AddUpload(ctx, b.ID, up.ID))
	require.NoError(t, db.Shares().AddUpload(ctx, b.ID, up.ID))
	got, err := db.Users().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{up.ID}, got.SharedUploadIDs)

	ok, err := db.Shares().CanViewPatient(ctx, b.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.Uploads().Delete(ctx, up.ID))
	list, err := db.Shares().ListUploads(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.ErrorIs(t, db.Shares().RemoveUpload(ctx, b.ID, up.ID), repository.ErrNotFound)
}

func TestSharePatientAndRemove(t *testing.T) {
	ctx := context.Background()
	db, u, p, up := seed(t)
	second := &model.Upload{OwnerID: u.ID, PatientID: p.ID, OriginalImage: "b.png", DateUploaded: time.Now().Add(time.Second)}
	require.NoError(t, db.Uploads().Create(ctx, second))
	b := &model.User{Email: "b@x.com"}
	require.NoError(t, db.Users().Create(ctx, b))

	n, err := db.Shares().SharePatient(ctx, b.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := db.Shares().CanViewUpload(ctx, b.ID, up.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := db.Uploads().ListByPatient(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	require.NoError(t, db.Shares().RemovePatient(ctx, b.ID, p.ID))
	got, err := db.Users().GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SharedUploadIDs)
	assert.Empty(t, got.SharedPatientIDs)
	assert.ErrorIs(t, db.Shares().RemovePatient(ctx, b.ID, p.ID), repository.ErrNotFound)
}

func TestResetTokensSingleUse(t *testing.T) {
	ctx := context.Background()
	db, u, _, _ := seed(t)
	tokens := db.Tokens()

	require.NoError(t, tokens.StoreReset(ctx, u.ID, "first", time.Now().Add(time.Hour)))
	require.NoError(t, tokens.StoreReset(ctx, u.ID, "second", time.Now().Add(time.Hour)))
	_, err := tokens.ConsumeReset(ctx, "first")
	assert.ErrorIs(t, err, repository.ErrTokenInvalid)

	id, err := tokens.ConsumeReset(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
	_, err = tokens.ConsumeReset(ctx, "second")
	assert.ErrorIs(t, err, repository.ErrTokenInvalid)

	require.NoError(t, tokens.StoreReset(ctx, u.ID, "old", time.Now().Add(-time.Minute)))
	_, err = tokens.ConsumeReset(ctx, "old")
	assert.ErrorIs(t, err, repository.ErrTokenInvalid)
}
