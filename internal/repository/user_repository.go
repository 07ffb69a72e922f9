package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/fracture-records/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,name,email,password_hash,is_admin,number_of_patients,created_at,updated_at"

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.NumberOfPatients, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a user and fills its ID and timestamps. The password
// must already be hashed.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (name, email, password_hash, is_admin) VALUES (?,?,?,?)",
		u.Name, u.Email, u.PasswordHash, u.IsAdmin)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return r.DB.QueryRowContext(ctx, "SELECT created_at, updated_at FROM users WHERE id=?", u.ID).
		Scan(&u.CreatedAt, &u.UpdatedAt)
}

// GetByEmail fetches a user by exact email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
	if err != nil {
		return nil, err
	}
	return u, r.loadShares(ctx, u)
}

// GetByID fetches a user by id together with its shared id lists.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
	if err != nil {
		return nil, err
	}
	return u, r.loadShares(ctx, u)
}

func (r *UserRepo) loadShares(ctx context.Context, u *model.User) error {
	var err error
	if u.SharedUploadIDs, err = r.ids(ctx, "SELECT upload_id FROM shared_uploads WHERE user_id=? ORDER BY created_at, upload_id", u.ID); err != nil {
		return err
	}
	u.SharedPatientIDs, err = r.ids(ctx, "SELECT patient_id FROM shared_patients WHERE user_id=? ORDER BY created_at, patient_id", u.ID)
	return err
}

func (r *UserRepo) ids(ctx context.Context, q string, arg uint64) ([]uint64, error) {
	rows, err := r.DB.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []uint64{}
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// List returns every user with number_of_patients recomputed from the
// patients table and the shared id lists loaded.
func (r *UserRepo) List(ctx context.Context) ([]*model.User, error) {
	const q = `SELECT u.id, u.name, u.email, u.password_hash, u.is_admin,
	                  (SELECT COUNT(*) FROM patients p WHERE p.owner_id = u.id),
	                  u.created_at, u.updated_at
	           FROM users u ORDER BY u.id`
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	for _, u := range out {
		if err := r.loadShares(ctx, u); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateProfile changes name and email. It returns ErrNotFound when no row
// matches and ErrEmailExists when the email belongs to someone else.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, name, email string) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET name=?, email=? WHERE id=?", name, email, id)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	return r.requireRow(ctx, res, id)
}

// UpdatePassword stores a new bcrypt hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, hash string) error {
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET password_hash=? WHERE id=?", hash, id)
	if err != nil {
		return err
	}
	return r.requireRow(ctx, res, id)
}

// SetAdmin grants or revokes the admin flag by email.
func (r *UserRepo) SetAdmin(ctx context.Context, email string, admin bool) error {
	u, err := r.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, "UPDATE users SET is_admin=? WHERE id=?", admin, u.ID)
	return err
}

// Delete removes the user row. Reset tokens and share references go with
// it (ON DELETE CASCADE); owned patients must be removed first.
func (r *UserRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// requireRow distinguishes "no such row" from "row unchanged": MySQL reports
// zero affected rows when an UPDATE writes identical values.
func (r *UserRepo) requireRow(ctx context.Context, res sql.Result, id uint64) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id=?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
