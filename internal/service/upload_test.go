package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/fracture-records/internal/mail"
	"github.com/iliyamo/fracture-records/internal/model"
	"github.com/iliyamo/fracture-records/internal/predict"
)

func TestCreateUploadAndList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	p := e.patient(t, a, "123")

	u := e.upload(t, a, p)
	assert.Equal(t, "Knee", u.BodyPart)
	assert.Equal(t, "John", u.PatientName)
	require.NotNil(t, u.ProcessedImageURL)
	assert.True(t, strings.HasPrefix(*u.ProcessedImageURL, "http://api.test/uploads/"))
	assert.Equal(t, "http://api.test/uploads/"+u.OriginalImage, u.OriginalImageURL)
	assert.True(t, strings.HasSuffix(u.OriginalImage, ".png"))
	assert.True(t, e.files.Exists(u.OriginalImage))
	assert.True(t, e.files.Exists(*u.ProcessedImage))
	require.NotNil(t, u.Prediction)
	assert.Equal(t, []float64{0.9}, u.Prediction.Confidences)

	list, err := e.uploads.ListForPatient(ctx, a, p.ID)
	require.NoError(t, err)
	count := 0
	for _, x := range list {
		if x.ID == u.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCreateUploadByIDNumber(t *testing.T) {
	e := newEnv(t)
	a := e.user(t, "Dr. A", "a@x.com")
	p := e.patient(t, a, "123")

	u, err := e.uploads.Create(context.Background(), a, NewUpload{PatientIDNumber: "123", Description: "d",
		BodyPart: "Hand", Image: bytes.NewReader(tinyPNG)})
	require.NoError(t, err)
	assert.Equal(t, p.ID, u.PatientID)
}

func TestCreateUploadValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	b := e.user(t, "Dr. B", "b@x.com")
	p := e.patient(t, a, "123")

	base := func() NewUpload {
		return NewUpload{PatientID: p.ID, Description: "d", BodyPart: "Knee", ContentType: "image/png",
			Image: bytes.NewReader(tinyPNG)}
	}
	tests := []struct {
		name   string
		mutate func(*NewUpload)
		caller func() *model.User
		kind   Kind
	}{
		{"missing description", func(n *NewUpload) { n.Description = "" }, nil, KindValidation},
		{"unknown body part", func(n *NewUpload) { n.BodyPart = "Tail" }, nil, KindValidation},
		{"no patient", func(n *NewUpload) { n.PatientID = 0 }, nil, KindValidation},
		{"unknown patient", func(n *NewUpload) { n.PatientID = 999 }, nil, KindNotFound},
		{"unknown id number", func(n *NewUpload) { n.PatientID, n.PatientIDNumber = 0, "nope" }, nil, KindNotFound},
		{"not an image", func(n *NewUpload) { n.Image = strings.NewReader("hello world") }, nil, KindValidation},
		{"declared type mismatch", func(n *NewUpload) { n.ContentType = "image/gif" }, nil, KindValidation},
		{"no image", func(n *NewUpload) { n.Image = nil }, nil, KindValidation},
		{"someone else's patient", func(*NewUpload) {}, func() *model.User { return b }, KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			tt.mutate(&in)
			caller := a
			if tt.caller != nil {
				caller = tt.caller()
			}
			_, err := e.uploads.Create(ctx, caller, in)
			assertKind(t, err, tt.kind)
		})
	}
}

func TestCreateUploadTooLarge(t *testing.T) {
	e := newEnv(t)
	a := e.user(t, "Dr. A", "a@x.com")
	p := e.patient(t, a, "123")
	e.uploads.cfg.MaxBytes = 64

	big := append(append([]byte{}, tinyPNG...), bytes.Repeat([]byte{0}, 100)...)
	_, err := e.uploads.Create(context.Background(), a, NewUpload{PatientID: p.ID, Description: "d",
		BodyPart: "Knee", Image: bytes.NewReader(big)})
	assertKind(t, err, KindValidation)
}

func TestCreateUploadPredictionFailureCompensates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	p := e.patient(t, a, "123")

	for _, tc := range []struct {
		err  error
		kind Kind
	}{
		{fmt.Errorf("%w: exit status 1", predict.ErrPrediction), KindPrediction},
		{predict.ErrTimeout, KindPredictionTimeout},
	} {
		e.predErr = tc.err
		_, err := e.uploads.Create(ctx, a, NewUpload{PatientID: p.ID, Description: "d", BodyPart: "Knee",
			Image: bytes.NewReader(tinyPNG)})
		assertKind(t, err, tc.kind)
	}

	list, err := e.uploads.ListForPatient(ctx, a, p.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
	entries, err := afero.ReadDir(e.files.FS(), e.files.Dir())
	require.NoError(t, err)
	for _, fi := range entries {
		assert.True(t, fi.IsDir(), "stored original %s left behind", fi.Name())
	}
}

func TestDeleteUpload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	c := e.user(t, "Dr. C", "c@x.com")
	p := e.patient(t, a, "123")
	u := e.upload(t, a, p)

	_, err := e.uploads.Delete(ctx, c, u.ID)
	assertKind(t, err, KindForbidden)

	refOnly, err := e.uploads.Delete(ctx, a, u.ID)
	require.NoError(t, err)
	assert.False(t, refOnly)
	assert.False(t, e.files.Exists(u.OriginalImage))
	list, err := e.uploads.ListForPatient(ctx, a, p.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = e.uploads.Delete(ctx, a, u.ID)
	assertKind(t, err, KindNotFound)
}

// storedFiles lists the regular files in the storage root.
func storedFiles(t *testing.T, e *env) []string {
	t.Helper()
	entries, err := afero.ReadDir(e.files.FS(), e.files.Dir())
	require.NoError(t, err)
	var names []string
	for _, fi := range entries {
		if fi.Mode().IsRegular() {
			names = append(names, fi.Name())
		}
	}
	return names
}

func TestDeleteUploadLeavesNoPredictorOutput(t *testing.T) {
	remote := func(e *env) predict.Predictor {
		client := &http.Client{}
		httpmock.ActivateNonDefault(client)
		t.Cleanup(httpmock.DeactivateAndReset)
		httpmock.RegisterResponder(http.MethodPost, "http://inference.test/predict",
			httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
				"boxes": [][]float64{{1, 2, 3, 4, 0.8, 0}},
				"image": base64.StdEncoding.EncodeToString(tinyPNG),
			}))
		return predict.NewRemote("http://inference.test/predict", client, e.files.FS(), 5*time.Second)
	}

	for name, pred := range map[string]func(*env) predict.Predictor{
		"writes into store": func(e *env) predict.Predictor { return e.uploads.predictor },
		"remote":            remote,
	} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t)
			e.uploads.predictor = pred(e)
			ctx := context.Background()
			a := e.user(t, "Dr. A", "a@x.com")
			u := e.upload(t, a, e.patient(t, a, "123"))
			require.NotNil(t, u.ProcessedImage)

			assert.ElementsMatch(t, []string{u.OriginalImage, *u.ProcessedImage}, storedFiles(t, e))

			_, err := e.uploads.Delete(ctx, a, u.ID)
			require.NoError(t, err)
			assert.Empty(t, storedFiles(t, e))
		})
	}
}

func TestDeleteUploadToleratesMissingFiles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	u := e.upload(t, a, e.patient(t, a, "123"))
	require.NoError(t, e.files.Remove(u.OriginalImage))

	_, err := e.uploads.Delete(ctx, a, u.ID)
	require.NoError(t, err)
}

func TestShareUpload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	e.user(t, "Dr. B", "b@x.com")
	p := e.patient(t, a, "123")
	u := e.upload(t, a, p)

	require.NoError(t, e.uploads.Share(ctx, a, u.ID, "b@x.com"))
	require.NoError(t, e.uploads.Share(ctx, a, u.ID, "b@x.com"))

	b := e.reload(t, "b@x.com")
	view, err := e.uploads.ListShared(ctx, b)
	require.NoError(t, err)
	require.Len(t, view.SharedUploads, 1)
	assert.Equal(t, u.ID, view.SharedUploads[0].Upload.ID)
	assert.Equal(t, p.ID, view.SharedUploads[0].Patient.ID)

	got, err := e.uploads.Get(ctx, b, u.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.OriginalImageURL)

	// B only sees the upload, not the whole patient.
	_, err = e.uploads.ListForPatient(ctx, b, p.ID)
	assertKind(t, err, KindNotFound)

	require.NoError(t, e.uploads.RemoveShared(ctx, b, u.ID))
	view, err = e.uploads.ListShared(ctx, e.reload(t, "b@x.com"))
	require.NoError(t, err)
	assert.Empty(t, view.SharedUploads)
	assertKind(t, e.uploads.RemoveShared(ctx, b, u.ID), KindNotFound)

	// The owner's view is untouched.
	_, err = e.uploads.Get(ctx, a, u.ID)
	require.NoError(t, err)
	assert.True(t, e.files.Exists(u.OriginalImage))
}

func TestShareValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	b := e.user(t, "Dr. B", "b@x.com")
	p := e.patient(t, a, "123")
	u := e.upload(t, a, p)

	assertKind(t, e.uploads.Share(ctx, a, u.ID, "a@x.com"), KindValidation)
	assertKind(t, e.uploads.Share(ctx, a, u.ID, ""), KindValidation)
	assertKind(t, e.uploads.Share(ctx, a, u.ID, "ghost@x.com"), KindNotFound)
	assertKind(t, e.uploads.Share(ctx, a, 999, "b@x.com"), KindNotFound)
	assertKind(t, e.uploads.Share(ctx, b, u.ID, "a@x.com"), KindForbidden)
	_, err := e.uploads.SharePatient(ctx, a, p.ID, "a@x.com")
	assertKind(t, err, KindValidation)

	assert.Empty(t, e.reload(t, "a@x.com").SharedUploadIDs)
	assert.Empty(t, e.reload(t, "b@x.com").SharedUploadIDs)
}

func TestSharePatientAndRemove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	e.user(t, "Dr. B", "b@x.com")
	p := e.patient(t, a, "123")
	e.upload(t, a, p)
	e.upload(t, a, p)

	n, err := e.uploads.SharePatient(ctx, a, p.ID, "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b := e.reload(t, "b@x.com")
	assert.Len(t, b.SharedUploadIDs, 2)
	assert.Equal(t, []uint64{p.ID}, b.SharedPatientIDs)

	list, err := e.uploads.ListForPatient(ctx, b, p.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	view, err := e.uploads.ListShared(ctx, b)
	require.NoError(t, err)
	require.Len(t, view.SharedPatients, 1)
	assert.Len(t, view.SharedPatients[0].Uploads, 2)

	require.NoError(t, e.uploads.RemoveSharedPatient(ctx, b, p.ID))
	b = e.reload(t, "b@x.com")
	assert.Empty(t, b.SharedUploadIDs)
	assert.Empty(t, b.SharedPatientIDs)
	assertKind(t, e.uploads.RemoveSharedPatient(ctx, b, p.ID), KindNotFound)
}

func TestSharedUserDeleteRemovesOnlyReference(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	e.user(t, "Dr. B", "b@x.com")
	u := e.upload(t, a, e.patient(t, a, "123"))
	require.NoError(t, e.uploads.Share(ctx, a, u.ID, "b@x.com"))

	refOnly, err := e.uploads.Delete(ctx, e.reload(t, "b@x.com"), u.ID)
	require.NoError(t, err)
	assert.True(t, refOnly)
	_, err = e.uploads.Get(ctx, a, u.ID)
	assert.NoError(t, err)
	assert.Empty(t, e.reload(t, "b@x.com").SharedUploadIDs)
}

func TestSendEmail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.user(t, "Dr. A", "a@x.com")
	c := e.user(t, "Dr. C", "c@x.com")
	u := e.upload(t, a, e.patient(t, a, "123"))

	assertKind(t, e.uploads.SendEmail(ctx, a, u.ID, nil, ""), KindValidation)
	assertKind(t, e.uploads.SendEmail(ctx, a, u.ID, nil, "nope"), KindValidation)
	assertKind(t, e.uploads.SendEmail(ctx, c, u.ID, nil, "x@y.com"), KindNotFound)
	assertKind(t, e.uploads.SendEmail(ctx, a, u.ID, []byte("not a pdf"), "x@y.com"), KindValidation)

	require.NoError(t, e.uploads.SendEmail(ctx, a, u.ID, []byte("%PDF-1.4 report"), "x@y.com"))
	msg := e.mailer.last()
	assert.Equal(t, mail.KindReport, msg.Kind)
	assert.Equal(t, "x@y.com", msg.To)
	assert.Contains(t, msg.Body, "http://api.test/uploads/reports/")

	e.mailer.err = errors.New("smtp down")
	assertKind(t, e.uploads.SendEmail(ctx, a, u.ID, nil, "x@y.com"), KindInternal)
}

func TestContact(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	assertKind(t, e.uploads.Contact(ctx, "", "ann@x.com", "hi"), KindValidation)
	assertKind(t, e.uploads.Contact(ctx, "Ann", "bad", "hi"), KindValidation)
	require.NoError(t, e.uploads.Contact(ctx, "Ann", "ann@x.com", "hi there"))
	msg := e.mailer.last()
	assert.Equal(t, "ops@x.com", msg.To)
	assert.Contains(t, msg.Body, "hi there")

	e.uploads.cfg.ContactEmail = ""
	assertKind(t, e.uploads.Contact(ctx, "Ann", "ann@x.com", "hi"), KindInternal)
}
