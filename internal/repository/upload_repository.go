package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/iliyamo/fracture-records/internal/model"
)

// UploadRepo encapsulates queries on the uploads table.
type UploadRepo struct {
	db *sql.DB
}

func NewUploadRepo(db *sql.DB) *UploadRepo {
	return &UploadRepo{db: db}
}

const uploadColumns = `u.id, u.owner_id, u.patient_id, u.patient_name, u.description, u.body_part,
	u.original_image, u.processed_image, u.prediction, u.date_uploaded`

func scanUpload(row interface{ Scan(...any) error }) (*model.Upload, error) {
	var (
		u          model.Upload
		processed  sql.NullString
		prediction sql.NullString
	)
	err := row.Scan(&u.ID, &u.OwnerID, &u.PatientID, &u.PatientName, &u.Description, &u.BodyPart,
		&u.OriginalImage, &processed, &prediction, &u.DateUploaded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if processed.Valid {
		u.ProcessedImage = &processed.String
	}
	if prediction.Valid && prediction.String != "" {
		var p model.Prediction
		if err := json.Unmarshal([]byte(prediction.String), &p); err != nil {
			return nil, err
		}
		u.Prediction = &p
	}
	return &u, nil
}

func scanUploads(rows *sql.Rows) ([]*model.Upload, error) {
	defer rows.Close()
	out := []*model.Upload{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Create inserts a finalized upload (prediction already attached).
func (r *UploadRepo) Create(ctx context.Context, u *model.Upload) error {
	var prediction any
	if u.Prediction != nil {
		b, err := json.Marshal(u.Prediction)
		if err != nil {
			return err
		}
		prediction = string(b)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO uploads (owner_id, patient_id, patient_name, description, body_part,
		                      original_image, processed_image, prediction, date_uploaded)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		u.OwnerID, u.PatientID, u.PatientName, u.Description, u.BodyPart,
		u.OriginalImage, u.ProcessedImage, prediction, u.DateUploaded.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

// GetByID fetches an upload regardless of owner.
func (r *UploadRepo) GetByID(ctx context.Context, id uint64) (*model.Upload, error) {
	return scanUpload(r.db.QueryRowContext(ctx,
		"SELECT "+uploadColumns+" FROM uploads u WHERE u.id = ?", id))
}

// ListByPatient returns a patient's uploads, newest first.
func (r *UploadRepo) ListByPatient(ctx context.Context, patientID uint64) ([]*model.Upload, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+uploadColumns+" FROM uploads u WHERE u.patient_id = ? ORDER BY u.date_uploaded DESC, u.id DESC", patientID)
	if err != nil {
		return nil, err
	}
	return scanUploads(rows)
}

// Delete removes the upload row; share references cascade.
func (r *UploadRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM uploads WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
