// Package repository contains data access logic separated from HTTP handlers.
// This file implements the patient registry. A patient belongs to exactly one
// owner; the owner's number_of_patients counter is maintained in the same
// transaction as the insert or delete.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/fracture-records/internal/model"
)

// PatientRepo encapsulates all database queries related to patients.
type PatientRepo struct {
	db *sql.DB // db is the underlying database connection pool
}

// NewPatientRepo constructs a PatientRepo with the provided DB handle.
func NewPatientRepo(db *sql.DB) *PatientRepo {
	return &PatientRepo{db: db}
}

const patientColumns = "id, owner_id, id_number, name, date_of_birth, gender, created_at, updated_at"

func scanPatient(row interface{ Scan(...any) error }) (*model.Patient, error) {
	var p model.Patient
	err := row.Scan(&p.ID, &p.OwnerID, &p.IDNumber, &p.Name, &p.DateOfBirth, &p.Gender, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// withTx runs fn inside a transaction, committing on success.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	return fn(tx)
}

// Create inserts a patient and increments the owner's patient counter in
// one transaction. It returns ErrDuplicatePatient when the owner already
// has a patient with the same ID number.
func (r *PatientRepo) Create(ctx context.Context, p *model.Patient) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO patients (owner_id, id_number, name, date_of_birth, gender) VALUES (?,?,?,?,?)",
			p.OwnerID, p.IDNumber, p.Name, p.DateOfBirth.Format(model.DateLayout), p.Gender)
		if err != nil {
			if isDuplicate(err) {
				return ErrDuplicatePatient
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p.ID = uint64(id)
		if _, err := tx.ExecContext(ctx,
			"UPDATE users SET number_of_patients = number_of_patients + 1 WHERE id = ?", p.OwnerID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, "SELECT created_at, updated_at FROM patients WHERE id = ?", p.ID).
			Scan(&p.CreatedAt, &p.UpdatedAt)
	})
}

// GetByID fetches a patient regardless of owner.
func (r *PatientRepo) GetByID(ctx context.Context, id uint64) (*model.Patient, error) {
	return scanPatient(r.db.QueryRowContext(ctx,
		"SELECT "+patientColumns+" FROM patients WHERE id = ?", id))
}

// GetByIDNumber fetches one of the owner's patients by ID number.
func (r *PatientRepo) GetByIDNumber(ctx context.Context, ownerID uint64, idNumber string) (*model.Patient, error) {
	return scanPatient(r.db.QueryRowContext(ctx,
		"SELECT "+patientColumns+" FROM patients WHERE owner_id = ? AND id_number = ?", ownerID, idNumber))
}

// ListByOwner returns all patients of an owner ordered by name.
func (r *PatientRepo) ListByOwner(ctx context.Context, ownerID uint64) ([]*model.Patient, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+patientColumns+" FROM patients WHERE owner_id = ? ORDER BY name, id", ownerID)
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

// Update writes the editable fields of p and refreshes the denormalized
// patient name on its uploads.
func (r *PatientRepo) Update(ctx context.Context, p *model.Patient) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var dbOwnerID uint64
		if err := tx.QueryRowContext(ctx, "SELECT owner_id FROM patients WHERE id = ? FOR UPDATE", p.ID).Scan(&dbOwnerID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if dbOwnerID != p.OwnerID {
			return ErrForbidden
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE patients SET id_number = ?, name = ?, date_of_birth = ?, gender = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			p.IDNumber, p.Name, p.DateOfBirth.Format(model.DateLayout), p.Gender, p.ID); err != nil {
			if isDuplicate(err) {
				return ErrDuplicatePatient
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE uploads SET patient_name = ? WHERE patient_id = ?", p.Name, p.ID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, "SELECT updated_at FROM patients WHERE id = ?", p.ID).Scan(&p.UpdatedAt)
	})
}

// Delete removes a patient that has no uploads left and decrements the
// owner's counter. Uploads are removed beforehand by the service so that
// their image files can be cleaned up; a remaining upload makes the
// foreign key reject the delete.
func (r *PatientRepo) Delete(ctx context.Context, id uint64) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var ownerID uint64
		if err := tx.QueryRowContext(ctx, "SELECT owner_id FROM patients WHERE id = ? FOR UPDATE", id).Scan(&ownerID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM patients WHERE id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE users SET number_of_patients = GREATEST(number_of_patients - 1, 0) WHERE id = ?", ownerID)
		return err
	})
}
