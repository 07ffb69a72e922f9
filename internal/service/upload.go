package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/fracture-records/internal/mail"
	"github.com/iliyamo/fracture-records/internal/model"
	"github.com/iliyamo/fracture-records/internal/predict"
	"github.com/iliyamo/fracture-records/internal/queue"
	"github.com/iliyamo/fracture-records/internal/repository"
)

// DefaultMaxUploadBytes is the image size limit when none is configured.
const DefaultMaxUploadBytes = 5 << 20

// allowedImageTypes maps accepted MIME types to the stored extension.
var allowedImageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
}

// UploadConfig holds the settings UploadService needs.
type UploadConfig struct {
	MaxBytes     int64
	ContactEmail string
}

// NewUpload is an upload request. The patient is identified either by
// PatientID or by the owner's PatientIDNumber.
type NewUpload struct {
	PatientID       uint64
	PatientIDNumber string
	Description     string
	BodyPart        string
	ContentType     string
	Image           io.Reader
}

// SharedUpload is an upload shared with the caller and its patient.
type SharedUpload struct {
	Upload  *model.Upload  `json:"upload"`
	Patient *model.Patient `json:"patient"`
}

// SharedPatient is a patient shared with the caller and its uploads.
type SharedPatient struct {
	Patient *model.Patient  `json:"patient"`
	Uploads []*model.Upload `json:"uploads"`
}

// SharedView is everything other users shared with the caller.
type SharedView struct {
	SharedUploads  []SharedUpload  `json:"sharedUploads"`
	SharedPatients []SharedPatient `json:"sharedPatients"`
}

// UploadService manages X-ray uploads, their predictions and sharing.
type UploadService struct {
	users     UserStore
	patients  PatientStore
	uploads   UploadStore
	shares    ShareStore
	files     FileStore
	predictor predict.Predictor
	mailer    mail.Mailer
	events    EventPublisher
	metrics   Recorder
	cfg       UploadConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewUploadService(st Stores, files FileStore, predictor predict.Predictor, mailer mail.Mailer, cfg UploadConfig, log zerolog.Logger) *UploadService {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxUploadBytes
	}
	return &UploadService{
		users:     st.Users,
		patients:  st.Patients,
		uploads:   st.Uploads,
		shares:    st.Shares,
		files:     files,
		predictor: predictor,
		mailer:    mailer,
		metrics:   nopRecorder{},
		cfg:       cfg,
		log:       log.With().Str("component", "uploads").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents enables upload.created events.
func (s *UploadService) WithEvents(p EventPublisher) *UploadService {
	s.events = p
	return s
}

// WithRecorder sets the metrics sink.
func (s *UploadService) WithRecorder(r Recorder) *UploadService {
	s.metrics = r
	return s
}

// withURLs fills the public URL fields.
func (s *UploadService) withURLs(u *model.Upload) *model.Upload {
	u.OriginalImageURL = s.files.URL(u.OriginalImage)
	if u.ProcessedImage != nil {
		url := s.files.URL(*u.ProcessedImage)
		u.ProcessedImageURL = &url
	}
	return u
}

func (s *UploadService) withURLsAll(us []*model.Upload) []*model.Upload {
	for _, u := range us {
		s.withURLs(u)
	}
	return us
}

func (s *UploadService) resolvePatient(ctx context.Context, owner *model.User, in NewUpload) (*model.Patient, error) {
	var (
		p   *model.Patient
		err error
	)
	switch {
	case in.PatientID != 0:
		p, err = s.patients.GetByID(ctx, in.PatientID)
	case strings.TrimSpace(in.PatientIDNumber) != "":
		p, err = s.patients.GetByIDNumber(ctx, owner.ID, strings.TrimSpace(in.PatientIDNumber))
	default:
		return nil, validationf("patient id is required")
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("patient not found")
	}
	if err != nil {
		return nil, internal("load patient", err)
	}
	if p.OwnerID != owner.ID {
		return nil, forbidden("you do not own this patient")
	}
	return p, nil
}

// readImage enforces the size limit and checks that both the declared
// and the sniffed type are PNG or JPEG. It returns the data and the file
// extension to store it under.
func (s *UploadService) readImage(in NewUpload) ([]byte, string, error) {
	if in.Image == nil {
		return nil, "", validationf("image is required")
	}
	data, err := io.ReadAll(io.LimitReader(in.Image, s.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", internal("read image", err)
	}
	if len(data) == 0 {
		return nil, "", validationf("image is required")
	}
	if int64(len(data)) > s.cfg.MaxBytes {
		return nil, "", validationf("image exceeds the %d MB limit", s.cfg.MaxBytes>>20)
	}
	sniffed := http.DetectContentType(data)
	ext, ok := allowedImageTypes[sniffed]
	if !ok {
		return nil, "", validationf("only PNG and JPEG images are allowed")
	}
	if declared := strings.ToLower(strings.TrimSpace(strings.Split(in.ContentType, ";")[0])); declared != "" &&
		declared != "application/octet-stream" {
		if declared == "image/jpg" {
			declared = "image/jpeg"
		}
		if declared != sniffed {
			return nil, "", validationf("only PNG and JPEG images are allowed")
		}
	}
	return data, ext, nil
}

// Create stores the image, runs the predictor and records the upload.
// The record only exists once the prediction succeeded; on failure the
// stored image is removed again.
func (s *UploadService) Create(ctx context.Context, owner *model.User, in NewUpload) (*model.Upload, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, validationf("description is required")
	}
	bodyPart, ok := model.NormalizeBodyPart(in.BodyPart)
	if !ok {
		return nil, validationf("bodyPart must be one of %s", strings.Join(model.BodyParts, ", "))
	}
	p, err := s.resolvePatient(ctx, owner, in)
	if err != nil {
		return nil, err
	}
	data, ext, err := s.readImage(in)
	if err != nil {
		return nil, err
	}

	original, err := s.files.Save(bytes.NewReader(data), ext)
	if err != nil {
		return nil, internal("store image", err)
	}
	log := s.log.With().Uint64("patient_id", p.ID).Str("image", original).Logger()

	res, err := s.predictor.Predict(ctx, s.files.Path(original))
	if err != nil {
		s.discard(log, original)
		if errors.Is(err, predict.ErrTimeout) {
			log.Warn().Err(err).Msg("prediction timed out")
			return nil, &Error{Kind: KindPredictionTimeout, Message: "prediction timed out; please try again", Err: err}
		}
		log.Error().Err(err).Msg("prediction failed")
		return nil, &Error{Kind: KindPrediction, Message: "prediction failed", Err: err}
	}

	u := &model.Upload{
		OwnerID:       owner.ID,
		PatientID:     p.ID,
		PatientName:   p.Name,
		Description:   desc,
		BodyPart:      bodyPart,
		OriginalImage: original,
		Prediction:    &res.Prediction,
		DateUploaded:  s.now().Truncate(time.Millisecond),
	}
	if res.OutputImage != "" {
		processed, err := s.files.Import(res.OutputImage, ext)
		if err != nil {
			s.discard(log, original)
			return nil, internal("store processed image", err)
		}
		u.ProcessedImage = &processed
		// A predictor that wrote its output into the store leaves a second,
		// untracked public copy.
		if name, ok := s.files.NameOf(res.OutputImage); ok && name != original && name != processed {
			s.discard(log, name)
		}
	}
	if err := s.uploads.Create(ctx, u); err != nil {
		s.discard(log, original)
		if u.ProcessedImage != nil {
			s.discard(log, *u.ProcessedImage)
		}
		return nil, internal("create upload", err)
	}
	s.metrics.UploadCreated()
	s.publishCreated(ctx, u)
	log.Info().Uint64("upload_id", u.ID).Int("findings", len(u.Prediction.Boxes)).Msg("upload created")
	return s.withURLs(u), nil
}

func (s *UploadService) discard(log zerolog.Logger, name string) {
	if err := s.files.Remove(name); err != nil {
		log.Error().Err(err).Str("file", name).Msg("could not remove stored file")
	}
}

// publishCreated emits upload.created without holding up the response.
func (s *UploadService) publishCreated(ctx context.Context, u *model.Upload) {
	if s.events == nil {
		return
	}
	ev := queue.UploadCreated{
		ID:         uuid.NewString(),
		UploadID:   u.ID,
		PatientID:  u.PatientID,
		OwnerID:    u.OwnerID,
		BodyPart:   u.BodyPart,
		Findings:   len(u.Prediction.Boxes),
		Processed:  u.ProcessedImage != nil,
		UploadedAt: u.DateUploaded,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	go func() {
		defer cancel()
		if err := s.events.Publish(ctx, queue.UploadCreatedQueue, ev); err != nil {
			s.log.Warn().Err(err).Uint64("upload_id", u.ID).Msg("upload.created not published")
		}
	}()
}

func (s *UploadService) load(ctx context.Context, id uint64) (*model.Upload, error) {
	u, err := s.uploads.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("upload not found")
	}
	if err != nil {
		return nil, internal("load upload", err)
	}
	return u, nil
}

// visible loads an upload the caller owns or holds a reference to.
func (s *UploadService) visible(ctx context.Context, caller *model.User, id uint64) (*model.Upload, error) {
	u, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.OwnerID == caller.ID {
		return u, nil
	}
	ok, err := s.shares.CanViewUpload(ctx, caller.ID, id)
	if err != nil {
		return nil, internal("check upload share", err)
	}
	if !ok {
		return nil, notFound("upload not found")
	}
	return u, nil
}

// Get returns an upload the caller owns or that was shared with them.
func (s *UploadService) Get(ctx context.Context, caller *model.User, id uint64) (*model.Upload, error) {
	u, err := s.visible(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return s.withURLs(u), nil
}

// ListForPatient returns a patient's uploads newest first, to the owner
// or to a user the whole patient was shared with.
func (s *UploadService) ListForPatient(ctx context.Context, caller *model.User, patientID uint64) ([]*model.Upload, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("patient not found")
	}
	if err != nil {
		return nil, internal("load patient", err)
	}
	if p.OwnerID != caller.ID && !slices.Contains(caller.SharedPatientIDs, patientID) {
		return nil, notFound("patient not found")
	}
	us, err := s.uploads.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, internal("list uploads", err)
	}
	return s.withURLsAll(us), nil
}

// Delete removes an upload. The owner deletes the record and both files;
// a user the upload was shared with only drops their reference, which is
// reported through refOnly.
func (s *UploadService) Delete(ctx context.Context, caller *model.User, id uint64) (refOnly bool, err error) {
	u, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	if u.OwnerID != caller.ID {
		if !slices.Contains(caller.SharedUploadIDs, id) {
			return false, forbidden("you do not own this upload")
		}
		return true, s.RemoveShared(ctx, caller, id)
	}
	if err := removeUpload(ctx, s.uploads, s.files, u); err != nil {
		return false, internal("delete upload", err)
	}
	s.log.Info().Uint64("upload_id", id).Msg("upload deleted")
	return false, nil
}

// recipient validates the target email of a share and resolves the user.
func (s *UploadService) recipient(ctx context.Context, caller *model.User, email string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, validationf("recipient email is required")
	}
	if email == caller.Email {
		return nil, validationf("you cannot share with yourself")
	}
	r, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("no user with that email")
	}
	if err != nil {
		return nil, internal("load recipient", err)
	}
	return r, nil
}

// Share adds the upload to the recipient's shared list. Sharing twice is
// a no-op.
func (s *UploadService) Share(ctx context.Context, caller *model.User, uploadID uint64, email string) error {
	r, err := s.recipient(ctx, caller, email)
	if err != nil {
		return err
	}
	u, err := s.load(ctx, uploadID)
	if err != nil {
		return err
	}
	if u.OwnerID != caller.ID {
		return forbidden("you do not own this upload")
	}
	if err := s.shares.AddUpload(ctx, r.ID, uploadID); err != nil {
		return internal("share upload", err)
	}
	s.log.Info().Uint64("upload_id", uploadID).Uint64("recipient_id", r.ID).Msg("upload shared")
	return nil
}

// SharePatient shares the patient and all of its current uploads. It
// returns the number of uploads shared.
func (s *UploadService) SharePatient(ctx context.Context, caller *model.User, patientID uint64, email string) (int, error) {
	r, err := s.recipient(ctx, caller, email)
	if err != nil {
		return 0, err
	}
	p, err := s.patients.GetByID(ctx, patientID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, notFound("patient not found")
	}
	if err != nil {
		return 0, internal("load patient", err)
	}
	if p.OwnerID != caller.ID {
		return 0, forbidden("you do not own this patient")
	}
	n, err := s.shares.SharePatient(ctx, r.ID, patientID)
	if err != nil {
		return 0, internal("share patient", err)
	}
	s.log.Info().Uint64("patient_id", patientID).Uint64("recipient_id", r.ID).Int("uploads", n).Msg("patient shared")
	return n, nil
}

// ListShared returns what other users shared with the caller.
func (s *UploadService) ListShared(ctx context.Context, caller *model.User) (*SharedView, error) {
	view := &SharedView{SharedUploads: []SharedUpload{}, SharedPatients: []SharedPatient{}}
	ups, err := s.shares.ListUploads(ctx, caller.ID)
	if err != nil {
		return nil, internal("list shared uploads", err)
	}
	patients := map[uint64]*model.Patient{}
	for _, u := range ups {
		p, ok := patients[u.PatientID]
		if !ok {
			if p, err = s.patients.GetByID(ctx, u.PatientID); err != nil {
				return nil, internal("load shared upload patient", err)
			}
			patients[u.PatientID] = p
		}
		view.SharedUploads = append(view.SharedUploads, SharedUpload{Upload: s.withURLs(u), Patient: p})
	}
	ps, err := s.shares.ListPatients(ctx, caller.ID)
	if err != nil {
		return nil, internal("list shared patients", err)
	}
	for _, p := range ps {
		us, err := s.uploads.ListByPatient(ctx, p.ID)
		if err != nil {
			return nil, internal("list shared patient uploads", err)
		}
		view.SharedPatients = append(view.SharedPatients, SharedPatient{Patient: p, Uploads: s.withURLsAll(us)})
	}
	return view, nil
}

// RemoveShared drops the caller's reference to an upload; the owner's
// data is untouched.
func (s *UploadService) RemoveShared(ctx context.Context, caller *model.User, uploadID uint64) error {
	if err := s.shares.RemoveUpload(ctx, caller.ID, uploadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("upload is not shared with you")
		}
		return internal("remove shared upload", err)
	}
	return nil
}

// RemoveSharedPatient drops the caller's reference to a patient and to
// that patient's uploads.
func (s *UploadService) RemoveSharedPatient(ctx context.Context, caller *model.User, patientID uint64) error {
	if err := s.shares.RemovePatient(ctx, caller.ID, patientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("patient is not shared with you")
		}
		return internal("remove shared patient", err)
	}
	return nil
}

// SendEmail mails a report about an upload the caller can see. A non-empty
// PDF is stored under reports/ and linked from the mail.
func (s *UploadService) SendEmail(ctx context.Context, caller *model.User, uploadID uint64, pdf []byte, to string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return validationf("recipient email is required")
	}
	if !mail.ValidAddress(to) {
		return validationf("invalid recipient email")
	}
	u, err := s.visible(ctx, caller, uploadID)
	if err != nil {
		return err
	}
	s.withURLs(u)
	info := mail.ReportInfo{
		SenderName:  caller.Name,
		SenderEmail: caller.Email,
		PatientName: u.PatientName,
		BodyPart:    u.BodyPart,
		Description: u.Description,
		Uploaded:    u.DateUploaded,
		ImageURL:    u.OriginalImageURL,
	}
	if u.ProcessedImageURL != nil {
		info.ImageURL = *u.ProcessedImageURL
	}
	if u.Prediction != nil {
		info.Findings = len(u.Prediction.Boxes)
	}
	if len(pdf) > 0 {
		if http.DetectContentType(pdf) != "application/pdf" {
			return validationf("report must be a PDF file")
		}
		name, err := s.files.SaveReport(pdf)
		if err != nil {
			return internal("store report", err)
		}
		info.ReportURL = s.files.URL(name)
	}
	err = s.mailer.Send(ctx, mail.Report(to, info))
	s.metrics.MailSent(mail.KindReport, err)
	if err != nil {
		return &Error{Kind: KindInternal, Message: "failed to send email", Err: err}
	}
	return nil
}

// Contact forwards a contact-form message to the site operator.
func (s *UploadService) Contact(ctx context.Context, name, email, message string) error {
	name, email, message = strings.TrimSpace(name), strings.TrimSpace(email), strings.TrimSpace(message)
	if name == "" || email == "" || message == "" {
		return validationf("name, email and message are required")
	}
	if !mail.ValidAddress(email) {
		return validationf("invalid email address")
	}
	if s.cfg.ContactEmail == "" {
		return &Error{Kind: KindInternal, Message: "contact form is not configured", Err: errors.New("CONTACT_EMAIL not set")}
	}
	err := s.mailer.Send(ctx, mail.Contact(s.cfg.ContactEmail, name, email, message))
	s.metrics.MailSent(mail.KindContact, err)
	if err != nil {
		return &Error{Kind: KindInternal, Message: "failed to send email", Err: err}
	}
	return nil
}
