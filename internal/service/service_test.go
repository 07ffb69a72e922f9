package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/fracture-records/internal/mail"
	"github.com/iliyamo/fracture-records/internal/model"
	"github.com/iliyamo/fracture-records/internal/predict"
	"github.com/iliyamo/fracture-records/internal/repository/memstore"
	"github.com/iliyamo/fracture-records/internal/storage"
)

// tinyPNG is a valid 1x1 PNG.
var tinyPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
}

func (o *outbox) Send(_ context.Context, m mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, m)
	return nil
}

func (o *outbox) last() mail.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.msgs[len(o.msgs)-1]
}

// failingFiles makes Remove fail for selected names.
type failingFiles struct {
	FileStore
	fail map[string]bool
}

func (f *failingFiles) Remove(name string) error {
	if f.fail[name] {
		return errors.New("disk error")
	}
	return f.FileStore.Remove(name)
}

type env struct {
	db       *memstore.DB
	files    *storage.Store
	mailer   *outbox
	auth     *AuthService
	patients *PatientService
	uploads  *UploadService
	admin    *AdminService
	// predictor result handed out by the test predictor
	predErr error
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := memstore.New()
	files, err := storage.New(afero.NewMemMapFs(), "/uploads", "http://api.test")
	require.NoError(t, err)
	e := &env{db: db, files: files, mailer: &outbox{}}
	st := Stores{Users: db.Users(), Tokens: db.Tokens(), Patients: db.Patients(), Uploads: db.Uploads(), Shares: db.Shares()}
	pred := predict.Func(func(ctx context.Context, imagePath string) (*predict.Result, error) {
		if e.predErr != nil {
			return nil, e.predErr
		}
		out := imagePath + ".annotated.png"
		if err := afero.WriteFile(files.FS(), out, []byte("annotated"), 0o644); err != nil {
			return nil, err
		}
		return &predict.Result{
			Prediction:  model.Prediction{Boxes: [][]float64{{1, 2, 3, 4, 0.9, 0}}, Confidences: []float64{0.9}},
			OutputImage: out,
		}, nil
	})
	log := zerolog.Nop()
	e.auth = NewAuthService(st.Users, st.Tokens, e.mailer,
		AuthConfig{JWTSecret: "test-secret", BcryptCost: bcrypt.MinCost, ResetURL: "http://app.test/reset"}, log)
	e.patients = NewPatientService(st, files, log)
	e.uploads = NewUploadService(st, files, pred, e.mailer, UploadConfig{ContactEmail: "ops@x.com"}, log)
	e.admin = NewAdminService(st, e.patients, log)
	return e
}

func (e *env) user(t *testing.T, name, email string) *model.User {
	t.Helper()
	_, err := e.auth.Register(context.Background(), name, email, "secret1")
	require.NoError(t, err)
	return e.reload(t, email)
}

// reload fetches the user again so shared id lists are current, as the
// session middleware does per request.
func (e *env) reload(t *testing.T, email string) *model.User {
	t.Helper()
	u, err := e.db.Users().GetByEmail(context.Background(), email)
	require.NoError(t, err)
	return u
}

func (e *env) patient(t *testing.T, owner *model.User, idNumber string) *model.Patient {
	t.Helper()
	p, err := e.patients.Create(context.Background(), owner.ID, PatientInput{
		Name: "John", DateOfBirth: "1990-01-01", Gender: "Male", IDNumber: idNumber})
	require.NoError(t, err)
	return p
}

func (e *env) upload(t *testing.T, owner *model.User, p *model.Patient) *model.Upload {
	t.Helper()
	u, err := e.uploads.Create(context.Background(), owner, NewUpload{
		PatientID: p.ID, Description: "fell off a bike", BodyPart: "knee",
		ContentType: "image/png", Image: bytes.NewReader(tinyPNG)})
	require.NoError(t, err)
	return u
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), err.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(notFound("x")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	wrapped := internal("op", errors.New("cause"))
	assert.Contains(t, wrapped.Error(), "cause")
	assert.Equal(t, "internal server error", wrapped.Message)
}

func TestCreateUploadWithoutEventPublisher(t *testing.T) {
	e := newEnv(t)
	a := e.user(t, "Dr. A", "a@x.com")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := e.uploads.Create(ctx, a, NewUpload{PatientID: e.patient(t, a, "1").ID, Description: "d",
		BodyPart: "Arm", Image: bytes.NewReader(tinyPNG)})
	assert.NoError(t, err)
}
