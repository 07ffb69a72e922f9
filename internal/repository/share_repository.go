package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/fracture-records/internal/model"
)

// ShareRepo manages the users' shared references. A reference never copies
// the upload or patient row; removing one leaves the owner's data intact.
type ShareRepo struct {
	db *sql.DB
}

func NewShareRepo(db *sql.DB) *ShareRepo {
	return &ShareRepo{db: db}
}

// AddUpload adds uploadID to the user's shared list. Adding an existing
// reference is a no-op so the upload appears exactly once.
func (r *ShareRepo) AddUpload(ctx context.Context, userID, uploadID uint64) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT IGNORE INTO shared_uploads (user_id, upload_id) VALUES (?, ?)", userID, uploadID)
	return err
}

// RemoveUpload deletes only the reference; ErrNotFound if it did not exist.
func (r *ShareRepo) RemoveUpload(ctx context.Context, userID, uploadID uint64) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM shared_uploads WHERE user_id = ? AND upload_id = ?", userID, uploadID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SharePatient references the patient and every upload it currently has.
// It returns the number of uploads that are now shared with the user.
func (r *ShareRepo) SharePatient(ctx context.Context, userID, patientID uint64) (int, error) {
	var n int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT IGNORE INTO shared_patients (user_id, patient_id) VALUES (?, ?)", userID, patientID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT IGNORE INTO shared_uploads (user_id, upload_id)
			 SELECT ?, id FROM uploads WHERE patient_id = ?`, userID, patientID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM uploads WHERE patient_id = ?", patientID).Scan(&n)
	})
	return int(n), err
}

// RemovePatient drops the patient reference and the user's references to
// that patient's uploads.
func (r *ShareRepo) RemovePatient(ctx context.Context, userID, patientID uint64) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM shared_patients WHERE user_id = ? AND patient_id = ?", userID, patientID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx,
			`DELETE s FROM shared_uploads s JOIN uploads u ON u.id = s.upload_id
			 WHERE s.user_id = ? AND u.patient_id = ?`, userID, patientID)
		return err
	})
}

// ListUploads returns the uploads shared with the user in share order.
func (r *ShareRepo) ListUploads(ctx context.Context, userID uint64) ([]*model.Upload, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+uploadColumns+` FROM shared_uploads s JOIN uploads u ON u.id = s.upload_id
		 WHERE s.user_id = ? ORDER BY s.created_at, u.id`, userID)
	if err != nil {
		return nil, err
	}
	return scanUploads(rows)
}

// ListPatients returns the patients shared with the user.
func (r *ShareRepo) ListPatients(ctx context.Context, userID uint64) ([]*model.Patient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.owner_id, p.id_number, p.name, p.date_of_birth, p.gender, p.created_at, p.updated_at
		 FROM shared_patients s JOIN patients p ON p.id = s.patient_id
		 WHERE s.user_id = ? ORDER BY p.name, p.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*model.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CanViewUpload reports whether the user holds a reference to the upload,
// directly or through its patient.
func (r *ShareRepo) CanViewUpload(ctx context.Context, userID, uploadID uint64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM shared_uploads WHERE user_id = ? AND upload_id = ?)
		     OR EXISTS (SELECT 1 FROM shared_patients sp JOIN uploads u ON u.patient_id = sp.patient_id
		                WHERE sp.user_id = ? AND u.id = ?)`,
		userID, uploadID, userID, uploadID).Scan(&ok)
	return ok, err
}

// CanViewPatient reports whether the user holds a reference to the patient
// or to any of its uploads.
func (r *ShareRepo) CanViewPatient(ctx context.Context, userID, patientID uint64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM shared_patients WHERE user_id = ? AND patient_id = ?)
		     OR EXISTS (SELECT 1 FROM shared_uploads su JOIN uploads u ON u.id = su.upload_id
		                WHERE su.user_id = ? AND u.patient_id = ?)`,
		userID, patientID, userID, patientID).Scan(&ok)
	return ok, err
}
