package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/fracture-records/internal/model"
	"github.com/iliyamo/fracture-records/internal/repository"
)

// PatientInput carries the fields of a new patient as received.
type PatientInput struct {
	Name        string
	DateOfBirth string
	Gender      string
	IDNumber    string
}

// PatientUpdate is a partial update; nil fields are left unchanged.
type PatientUpdate struct {
	Name        *string
	DateOfBirth *string
	Gender      *string
	IDNumber    *string
}

// PatientService manages the patient registry.
type PatientService struct {
	patients PatientStore
	uploads  UploadStore
	shares   ShareStore
	files    FileStore
	log      zerolog.Logger
	now      func() time.Time
}

func NewPatientService(st Stores, files FileStore, log zerolog.Logger) *PatientService {
	return &PatientService{
		patients: st.Patients,
		uploads:  st.Uploads,
		shares:   st.Shares,
		files:    files,
		log:      log.With().Str("component", "patients").Logger(),
		now:      time.Now,
	}
}

func (s *PatientService) parseDOB(v string) (time.Time, error) {
	dob, err := time.Parse(model.DateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, validationf("dateOfBirth must be a date in YYYY-MM-DD format")
	}
	if dob.After(s.now()) {
		return time.Time{}, validationf("dateOfBirth cannot be in the future")
	}
	return dob, nil
}

// Create registers a patient for owner.
func (s *PatientService) Create(ctx context.Context, ownerID uint64, in PatientInput) (*model.Patient, error) {
	p := &model.Patient{
		OwnerID:  ownerID,
		Name:     strings.TrimSpace(in.Name),
		Gender:   strings.TrimSpace(in.Gender),
		IDNumber: strings.TrimSpace(in.IDNumber),
	}
	if p.Name == "" || p.Gender == "" || p.IDNumber == "" || strings.TrimSpace(in.DateOfBirth) == "" {
		return nil, validationf("name, dateOfBirth, gender and idNumber are required")
	}
	dob, err := s.parseDOB(in.DateOfBirth)
	if err != nil {
		return nil, err
	}
	p.DateOfBirth = dob
	if err := s.patients.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicatePatient) {
			return nil, conflict("a patient with this ID number already exists", err)
		}
		return nil, internal("create patient", err)
	}
	s.log.Info().Uint64("patient_id", p.ID).Uint64("owner_id", ownerID).Msg("patient created")
	return p, nil
}

// Get returns a patient to its owner or to a user holding a shared
// reference to it or to one of its uploads.
func (s *PatientService) Get(ctx context.Context, caller *model.User, id uint64) (*model.Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("patient not found")
	}
	if err != nil {
		return nil, internal("load patient", err)
	}
	if p.OwnerID == caller.ID {
		return p, nil
	}
	ok, err := s.shares.CanViewPatient(ctx, caller.ID, id)
	if err != nil {
		return nil, internal("check patient share", err)
	}
	if !ok {
		return nil, notFound("patient not found")
	}
	return p, nil
}

// owned loads a patient and checks that ownerID owns it.
func (s *PatientService) owned(ctx context.Context, ownerID, id uint64) (*model.Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("patient not found")
	}
	if err != nil {
		return nil, internal("load patient", err)
	}
	if p.OwnerID != ownerID {
		return nil, forbidden("you do not own this patient")
	}
	return p, nil
}

// List returns the owner's patients ordered by name. q filters by a
// case-insensitive substring of the name or ID number.
func (s *PatientService) List(ctx context.Context, ownerID uint64, q string) ([]*model.Patient, error) {
	ps, err := s.patients.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, internal("list patients", err)
	}
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return ps, nil
	}
	out := make([]*model.Patient, 0, len(ps))
	for _, p := range ps {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.IDNumber), q) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Update applies a partial update. Renaming also renames the patient on
// its uploads.
func (s *PatientService) Update(ctx context.Context, ownerID, id uint64, in PatientUpdate) (*model.Patient, error) {
	p, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		if p.Name = strings.TrimSpace(*in.Name); p.Name == "" {
			return nil, validationf("name cannot be empty")
		}
	}
	if in.Gender != nil {
		if p.Gender = strings.TrimSpace(*in.Gender); p.Gender == "" {
			return nil, validationf("gender cannot be empty")
		}
	}
	if in.IDNumber != nil {
		if p.IDNumber = strings.TrimSpace(*in.IDNumber); p.IDNumber == "" {
			return nil, validationf("idNumber cannot be empty")
		}
	}
	if in.DateOfBirth != nil {
		if p.DateOfBirth, err = s.parseDOB(*in.DateOfBirth); err != nil {
			return nil, err
		}
	}
	if err := s.patients.Update(ctx, p); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, notFound("patient not found")
		case errors.Is(err, repository.ErrForbidden):
			return nil, forbidden("you do not own this patient")
		case errors.Is(err, repository.ErrDuplicatePatient):
			return nil, conflict("a patient with this ID number already exists", err)
		}
		return nil, internal("update patient", err)
	}
	return p, nil
}

// Delete removes a patient with all of its uploads and their files.
func (s *PatientService) Delete(ctx context.Context, ownerID, id uint64) error {
	p, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	return s.purge(ctx, p)
}

// purge is the patient delete saga. Every upload is removed (files first,
// then the record) and each failed step is logged; the remaining uploads
// are still attempted. The patient row and the owner's counter are only
// touched once no upload is left, so a failed run can be retried.
func (s *PatientService) purge(ctx context.Context, p *model.Patient) error {
	log := s.log.With().Uint64("patient_id", p.ID).Logger()
	ups, err := s.uploads.ListByPatient(ctx, p.ID)
	if err != nil {
		return internal("list patient uploads", err)
	}
	var failed []error
	for _, u := range ups {
		if err := removeUpload(ctx, s.uploads, s.files, u); err != nil {
			log.Error().Err(err).Uint64("upload_id", u.ID).Msg("delete patient: upload step failed")
			failed = append(failed, fmt.Errorf("upload %d: %w", u.ID, err))
			continue
		}
		log.Debug().Uint64("upload_id", u.ID).Msg("delete patient: upload removed")
	}
	if len(failed) > 0 {
		log.Warn().Int("failed", len(failed)).Int("total", len(ups)).Msg("delete patient: kept patient for retry")
		return &Error{Kind: KindInternal, Message: "could not delete all uploads of the patient; try again",
			Err: errors.Join(failed...)}
	}
	if err := s.patients.Delete(ctx, p.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("patient not found")
		}
		return internal("delete patient", err)
	}
	log.Info().Int("uploads", len(ups)).Msg("patient deleted")
	return nil
}

// removeUpload deletes an upload's files and then its record. A file
// that is already gone counts as removed; any other file error keeps the
// record so the operation can be retried.
func removeUpload(ctx context.Context, uploads UploadStore, files FileStore, u *model.Upload) error {
	if err := files.Remove(u.OriginalImage); err != nil {
		return fmt.Errorf("remove original image: %w", err)
	}
	if u.ProcessedImage != nil {
		if err := files.Remove(*u.ProcessedImage); err != nil {
			return fmt.Errorf("remove processed image: %w", err)
		}
	}
	if err := uploads.Delete(ctx, u.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete upload record: %w", err)
	}
	return nil
}
