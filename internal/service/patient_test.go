package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/fracture-records/internal/model"
)

func strp(s string) *string { return &s }

func TestCreatePatientRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")

	p := e.patient(t, a, "123")
	assert.NotZero(t, p.ID)

	list, err := e.patients.List(ctx, a.ID, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "John", got.Name)
	assert.Equal(t, "123", got.IDNumber)
	assert.Equal(t, "Male", got.Gender)
	assert.Equal(t, "1990-01-01", got.DateOfBirth.Format(model.DateLayout))

	assert.Equal(t, 1, e.reload(t, "a@x.com").NumberOfPatients)
}

func TestCreatePatientValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	e.patient(t, a, "123")

	_, err := e.patients.Create(ctx, a.ID, PatientInput{Name: "X", DateOfBirth: "1990-01-01", Gender: "F", IDNumber: "123"})
	assertKind(t, err, KindConflict)
	_, err = e.patients.Create(ctx, a.ID, PatientInput{Name: "X", DateOfBirth: "01/02/1990", Gender: "F", IDNumber: "9"})
	assertKind(t, err, KindValidation)
	future := time.Now().AddDate(1, 0, 0).Format(model.DateLayout)
	_, err = e.patients.Create(ctx, a.ID, PatientInput{Name: "X", DateOfBirth: future, Gender: "F", IDNumber: "9"})
	assertKind(t, err, KindValidation)
	_, err = e.patients.Create(ctx, a.ID, PatientInput{Name: "X", DateOfBirth: "1990-01-01", IDNumber: "9"})
	assertKind(t, err, KindValidation)

	// ID numbers are unique per owner only.
	b := e.user(t, "Dr. B", "b@x.com")
	e.patient(t, b, "123")
}

func TestListPatientsFilter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	for _, in := range []PatientInput{
		{Name: "Zoe", DateOfBirth: "2000-01-01", Gender: "F", IDNumber: "555"},
		{Name: "adam", DateOfBirth: "2000-01-01", Gender: "M", IDNumber: "777"},
		{Name: "Mia", DateOfBirth: "2000-01-01", Gender: "F", IDNumber: "1557"},
	} {
		_, err := e.patients.Create(ctx, a.ID, in)
		require.NoError(t, err)
	}
	all, err := e.patients.List(ctx, a.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "adam", all[0].Name)

	got, err := e.patients.List(ctx, a.ID, "55")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	got, err = e.patients.List(ctx, a.ID, "ZO")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Zoe", got[0].Name)
}

func TestUpdatePatient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	b := e.user(t, "Dr. B", "b@x.com")
	p := e.patient(t, a, "123")
	e.patient(t, a, "456")
	up := e.upload(t, a, p)

	got, err := e.patients.Update(ctx, a.ID, p.ID, PatientUpdate{Name: strp("Johnny")})
	require.NoError(t, err)
	assert.Equal(t, "Johnny", got.Name)
	assert.Equal(t, "123", got.IDNumber)

	stored, err := e.uploads.Get(ctx, a, up.ID)
	require.NoError(t, err)
	assert.Equal(t, "Johnny", stored.PatientName)

	_, err = e.patients.Update(ctx, b.ID, p.ID, PatientUpdate{Name: strp("Hacked")})
	assertKind(t, err, KindForbidden)
	_, err = e.patients.Update(ctx, a.ID, 9999, PatientUpdate{Name: strp("X")})
	assertKind(t, err, KindNotFound)
	_, err = e.patients.Update(ctx, a.ID, p.ID, PatientUpdate{IDNumber: strp("456")})
	assertKind(t, err, KindConflict)
	_, err = e.patients.Update(ctx, a.ID, p.ID, PatientUpdate{Name: strp("  ")})
	assertKind(t, err, KindValidation)
}

func TestGetPatientVisibility(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	b := e.user(t, "Dr. B", "b@x.com")
	p := e.patient(t, a, "123")
	up := e.upload(t, a, p)

	_, err := e.patients.Get(ctx, b, p.ID)
	assertKind(t, err, KindNotFound)

	require.NoError(t, e.uploads.Share(ctx, a, up.ID, "b@x.com"))
	got, err := e.patients.Get(ctx, b, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestDeletePatientCascades(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	b := e.user(t, "Dr. B", "b@x.com")
	p := e.patient(t, a, "123")
	u1 := e.upload(t, a, p)
	u2 := e.upload(t, a, p)
	require.NoError(t, e.uploads.Share(ctx, a, u1.ID, "b@x.com"))

	_, err := e.uploads.SharePatient(ctx, a, p.ID, "b@x.com")
	require.NoError(t, err)

	assertKind(t, e.patients.Delete(ctx, b.ID, p.ID), KindForbidden)
	require.NoError(t, e.patients.Delete(ctx, a.ID, p.ID))

	for _, u := range []*model.Upload{u1, u2} {
		_, err := e.uploads.Get(ctx, a, u.ID)
		assertKind(t, err, KindNotFound)
		assert.False(t, e.files.Exists(u.OriginalImage))
		require.NotNil(t, u.ProcessedImage)
		assert.False(t, e.files.Exists(*u.ProcessedImage))
	}
	_, err = e.patients.Get(ctx, a, p.ID)
	assertKind(t, err, KindNotFound)
	assert.Equal(t, 0, e.reload(t, "a@x.com").NumberOfPatients)

	bb := e.reload(t, "b@x.com")
	assert.Empty(t, bb.SharedUploadIDs)
	assert.Empty(t, bb.SharedPatientIDs)
}

func TestDeletePatientPartialFailureKeepsPatient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	p := e.patient(t, a, "123")
	bad := e.upload(t, a, p)
	good := e.upload(t, a, p)

	files := &failingFiles{FileStore: e.files, fail: map[string]bool{bad.OriginalImage: true}}
	svc := NewPatientService(Stores{Patients: e.db.Patients(), Uploads: e.db.Uploads(), Shares: e.db.Shares()}, files, zerolog.Nop())

	err := svc.Delete(ctx, a.ID, p.ID)
	assertKind(t, err, KindInternal)

	// The healthy upload is gone, the failed one and the patient remain.
	_, err = e.uploads.Get(ctx, a, good.ID)
	assertKind(t, err, KindNotFound)
	_, err = e.uploads.Get(ctx, a, bad.ID)
	require.NoError(t, err)
	_, err = e.patients.Get(ctx, a, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.reload(t, "a@x.com").NumberOfPatients)

	// Retrying once the disk recovers completes the delete.
	delete(files.fail, bad.OriginalImage)
	require.NoError(t, svc.Delete(ctx, a.ID, p.ID))
	assert.Equal(t, 0, e.reload(t, "a@x.com").NumberOfPatients)
}
