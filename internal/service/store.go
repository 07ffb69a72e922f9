package service

import (
	"context"
	"io"
	"time"

	"github.com/iliyamo/fracture-records/internal/model"
)

// UserStore is implemented by repository.UserRepo and memstore.Users.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	List(ctx context.Context) ([]*model.User, error)
	UpdateProfile(ctx context.Context, id uint64, name, email string) error
	UpdatePassword(ctx context.Context, id uint64, hash string) error
	SetAdmin(ctx context.Context, email string, admin bool) error
	Delete(ctx context.Context, id uint64) error
}

// TokenStore keeps hashed password reset tokens.
type TokenStore interface {
	StoreReset(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ConsumeReset(ctx context.Context, tokenHash string) (uint64, error)
}

// PatientStore is implemented by repository.PatientRepo and memstore.Patients.
type PatientStore interface {
	Create(ctx context.Context, p *model.Patient) error
	GetByID(ctx context.Context, id uint64) (*model.Patient, error)
	GetByIDNumber(ctx context.Context, ownerID uint64, idNumber string) (*model.Patient, error)
	ListByOwner(ctx context.Context, ownerID uint64) ([]*model.Patient, error)
	Update(ctx context.Context, p *model.Patient) error
	Delete(ctx context.Context, id uint64) error
}

// UploadStore is implemented by repository.UploadRepo and memstore.Uploads.
type UploadStore interface {
	Create(ctx context.Context, u *model.Upload) error
	GetByID(ctx context.Context, id uint64) (*model.Upload, error)
	ListByPatient(ctx context.Context, patientID uint64) ([]*model.Upload, error)
	Delete(ctx context.Context, id uint64) error
}

// ShareStore manages shared references.
type ShareStore interface {
	AddUpload(ctx context.Context, userID, uploadID uint64) error
	RemoveUpload(ctx context.Context, userID, uploadID uint64) error
	SharePatient(ctx context.Context, userID, patientID uint64) (int, error)
	RemovePatient(ctx context.Context, userID, patientID uint64) error
	ListUploads(ctx context.Context, userID uint64) ([]*model.Upload, error)
	ListPatients(ctx context.Context, userID uint64) ([]*model.Patient, error)
	CanViewUpload(ctx context.Context, userID, uploadID uint64) (bool, error)
	CanViewPatient(ctx context.Context, userID, patientID uint64) (bool, error)
}

// FileStore is implemented by storage.Store.
type FileStore interface {
	Save(r io.Reader, ext string) (string, error)
	SaveReport(data []byte) (string, error)
	Import(src, fallbackExt string) (string, error)
	Remove(name string) error
	Path(name string) string
	NameOf(path string) (string, bool)
	URL(name string) string
}

// Stores bundles the repositories a deployment uses.
type Stores struct {
	Users    UserStore
	Tokens   TokenStore
	Patients PatientStore
	Uploads  UploadStore
	Shares   ShareStore
}

// EventPublisher publishes domain events; queue.Publisher implements it.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// Recorder receives business metrics; metrics.Metrics implements it.
type Recorder interface {
	UploadCreated()
	MailSent(kind string, err error)
}

type nopRecorder struct{}

func (nopRecorder) UploadCreated()         {}
func (nopRecorder) MailSent(string, error) {}
