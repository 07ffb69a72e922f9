// Package memstore is an in-memory implementation of the repositories. It
// follows the same contracts as the MySQL repositories (sentinel errors,
// unique keys, cascades and restricts) and backs STORE_DRIVER=memory and
// the service and handler tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/fracture-records/internal/model"
	"github.com/iliyamo/fracture-records/internal/repository"
)

// ErrRestricted mirrors a foreign key RESTRICT violation: the row still
// has dependents.
var ErrRestricted = errors.New("row is still referenced")

type shareKey struct{ user, target uint64 }

type resetToken struct {
	userID uint64
	hash   string
	exp    time.Time
	used   bool
}

// DB holds every table behind one mutex. The per-table views returned by
// Users, Tokens, Patients, Uploads and Shares share it.
type DB struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID uint64

	users    map[uint64]*model.User
	tokens   []*resetToken
	patients map[uint64]*model.Patient
	uploads  map[uint64]*model.Upload
	// insertion sequence keeps share listings in share order
	sharedUploads  map[shareKey]uint64
	sharedPatients map[shareKey]uint64
	seq            uint64
}

// New returns an empty store.
func New() *DB {
	return &DB{
		now:            func() time.Time { return time.Now().UTC() },
		users:          map[uint64]*model.User{},
		patients:       map[uint64]*model.Patient{},
		uploads:        map[uint64]*model.Upload{},
		sharedUploads:  map[shareKey]uint64{},
		sharedPatients: map[shareKey]uint64{},
	}
}

func (db *DB) Users() *Users       { return &Users{db} }
func (db *DB) Tokens() *Tokens     { return &Tokens{db} }
func (db *DB) Patients() *Patients { return &Patients{db} }
func (db *DB) Uploads() *Uploads   { return &Uploads{db} }
func (db *DB) Shares() *Shares     { return &Shares{db} }

func (db *DB) id() uint64 {
	db.nextID++
	return db.nextID
}

func (db *DB) order() uint64 {
	db.seq++
	return db.seq
}

func copyUpload(u *model.Upload) *model.Upload {
	c := *u
	if u.ProcessedImage != nil {
		s := *u.ProcessedImage
		c.ProcessedImage = &s
	}
	if u.Prediction != nil {
		p := model.Prediction{Confidences: append([]float64(nil), u.Prediction.Confidences...)}
		for _, b := range u.Prediction.Boxes {
			p.Boxes = append(p.Boxes, append([]float64(nil), b...))
		}
		c.Prediction = &p
	}
	return &c
}

func copyPatient(p *model.Patient) *model.Patient {
	c := *p
	return &c
}

// idsFor returns the targets a user references, in share order.
func idsFor(m map[shareKey]uint64, user uint64) []uint64 {
	type entry struct{ id, seq uint64 }
	var es []entry
	for k, seq := range m {
		if k.user == user {
			es = append(es, entry{k.target, seq})
		}
	}
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	out := make([]uint64, 0, len(es))
	for _, e := range es {
		out = append(out, e.id)
	}
	return out
}

// Users implements the credential store.
type Users struct{ db *DB }

func (r *Users) Create(_ context.Context, u *model.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, x := range r.db.users {
		if x.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	u.ID = r.db.id()
	u.CreatedAt = r.db.now()
	u.UpdatedAt = u.CreatedAt
	c := *u
	c.SharedUploadIDs, c.SharedPatientIDs = nil, nil
	r.db.users[u.ID] = &c
	return nil
}

func (r *Users) get(u *model.User) *model.User {
	c := *u
	c.SharedUploadIDs = idsFor(r.db.sharedUploads, u.ID)
	c.SharedPatientIDs = idsFor(r.db.sharedPatients, u.ID)
	return &c
}

func (r *Users) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return r.get(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Users) GetByID(_ context.Context, id uint64) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.get(u), nil
}

// List recomputes NumberOfPatients from the patient table, like the SQL
// COUNT subquery, and fills the shared id lists like GetByID.
func (r *Users) List(_ context.Context) ([]*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	counts := map[uint64]int{}
	for _, p := range r.db.patients {
		counts[p.OwnerID]++
	}
	out := make([]*model.User, 0, len(r.db.users))
	for _, u := range r.db.users {
		c := r.get(u)
		c.NumberOfPatients = counts[u.ID]
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Users) UpdateProfile(_ context.Context, id uint64, name, email string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, x := range r.db.users {
		if x.ID != id && x.Email == email {
			return repository.ErrEmailExists
		}
	}
	u.Name, u.Email, u.UpdatedAt = name, email, r.db.now()
	return nil
}

func (r *Users) UpdatePassword(_ context.Context, id uint64, hash string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash, u.UpdatedAt = hash, r.db.now()
	return nil
}

func (r *Users) SetAdmin(_ context.Context, email string, admin bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			u.IsAdmin = admin
			return nil
		}
	}
	return repository.ErrNotFound
}

// Delete removes a user without patients, cascading tokens and shares.
func (r *Users) Delete(_ context.Context, id uint64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[id]; !ok {
		return repository.ErrNotFound
	}
	for _, p := range r.db.patients {
		if p.OwnerID == id {
			return ErrRestricted
		}
	}
	delete(r.db.users, id)
	kept := r.db.tokens[:0]
	for _, t := range r.db.tokens {
		if t.userID != id {
			kept = append(kept, t)
		}
	}
	r.db.tokens = kept
	for k := range r.db.sharedUploads {
		if k.user == id {
			delete(r.db.sharedUploads, k)
		}
	}
	for k := range r.db.sharedPatients {
		if k.user == id {
			delete(r.db.sharedPatients, k)
		}
	}
	return nil
}

// Tokens implements the password reset token store.
type Tokens struct{ db *DB }

func (r *Tokens) StoreReset(_ context.Context, userID uint64, tokenHash string, exp time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.tokens {
		if t.userID == userID {
			t.used = true
		}
	}
	r.db.tokens = append(r.db.tokens, &resetToken{userID: userID, hash: tokenHash, exp: exp})
	return nil
}

func (r *Tokens) ConsumeReset(_ context.Context, tokenHash string) (uint64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.tokens {
		if t.hash == tokenHash && !t.used && r.db.now().Before(t.exp) {
			t.used = true
			return t.userID, nil
		}
	}
	return 0, repository.ErrTokenInvalid
}

// Patients implements the patient registry.
type Patients struct{ db *DB }

func (r *Patients) duplicate(p *model.Patient) bool {
	for _, x := range r.db.patients {
		if x.ID != p.ID && x.OwnerID == p.OwnerID && x.IDNumber == p.IDNumber {
			return true
		}
	}
	return false
}

func (r *Patients) Create(_ context.Context, p *model.Patient) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.duplicate(p) {
		return repository.ErrDuplicatePatient
	}
	p.ID = r.db.id()
	p.CreatedAt = r.db.now()
	p.UpdatedAt = p.CreatedAt
	r.db.patients[p.ID] = copyPatient(p)
	if u, ok := r.db.users[p.OwnerID]; ok {
		u.NumberOfPatients++
	}
	return nil
}

func (r *Patients) GetByID(_ context.Context, id uint64) (*model.Patient, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.patients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyPatient(p), nil
}

func (r *Patients) GetByIDNumber(_ context.Context, ownerID uint64, idNumber string) (*model.Patient, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.patients {
		if p.OwnerID == ownerID && p.IDNumber == idNumber {
			return copyPatient(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Patients) ListByOwner(_ context.Context, ownerID uint64) ([]*model.Patient, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []*model.Patient{}
	for _, p := range r.db.patients {
		if p.OwnerID == ownerID {
			out = append(out, copyPatient(p))
		}
	}
	sortPatients(out)
	return out, nil
}

func sortPatients(ps []*model.Patient) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Name != ps[j].Name {
			return strings.ToLower(ps[i].Name) < strings.ToLower(ps[j].Name)
		}
		return ps[i].ID < ps[j].ID
	})
}

func (r *Patients) Update(_ context.Context, p *model.Patient) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.patients[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.OwnerID != p.OwnerID {
		return repository.ErrForbidden
	}
	if r.duplicate(p) {
		return repository.ErrDuplicatePatient
	}
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = r.db.now()
	r.db.patients[p.ID] = copyPatient(p)
	for _, u := range r.db.uploads {
		if u.PatientID == p.ID {
			u.PatientName = p.Name
		}
	}
	return nil
}

// Delete refuses while uploads remain, like the RESTRICT foreign key.
func (r *Patients) Delete(_ context.Context, id uint64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.patients[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, u := range r.db.uploads {
		if u.PatientID == id {
			return ErrRestricted
		}
	}
	delete(r.db.patients, id)
	for k := range r.db.sharedPatients {
		if k.target == id {
			delete(r.db.sharedPatients, k)
		}
	}
	if u, ok := r.db.users[p.OwnerID]; ok && u.NumberOfPatients > 0 {
		u.NumberOfPatients--
	}
	return nil
}

// Uploads implements the upload registry.
type Uploads struct{ db *DB }

func (r *Uploads) Create(_ context.Context, u *model.Upload) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.patients[u.PatientID]; !ok {
		return ErrRestricted
	}
	u.ID = r.db.id()
	c := copyUpload(u)
	c.OriginalImageURL, c.ProcessedImageURL = "", nil
	r.db.uploads[u.ID] = c
	return nil
}

func (r *Uploads) GetByID(_ context.Context, id uint64) (*model.Upload, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.uploads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyUpload(u), nil
}

// ListByPatient returns newest first.
func (r *Uploads) ListByPatient(_ context.Context, patientID uint64) ([]*model.Upload, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []*model.Upload{}
	for _, u := range r.db.uploads {
		if u.PatientID == patientID {
			out = append(out, copyUpload(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateUploaded.Equal(out[j].DateUploaded) {
			return out[i].DateUploaded.After(out[j].DateUploaded)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *Uploads) Delete(_ context.Context, id uint64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.uploads[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.uploads, id)
	for k := range r.db.sharedUploads {
		if k.target == id {
			delete(r.db.sharedUploads, k)
		}
	}
	return nil
}

// Shares implements the shared reference lists.
type Shares struct{ db *DB }

func (r *Shares) AddUpload(_ context.Context, userID, uploadID uint64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.uploads[uploadID]; !ok {
		return ErrRestricted
	}
	k := shareKey{userID, uploadID}
	if _, ok := r.db.sharedUploads[k]; !ok {
		r.db.sharedUploads[k] = r.db.order()
	}
	return nil
}

func (r *Shares) RemoveUpload(_ context.Context, userID, uploadID uint64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k := shareKey{userID, uploadID}
	if _, ok := r.db.sharedUploads[k]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.sharedUploads, k)
	return nil
}

func (r *Shares) SharePatient(_ context.Context, userID, patientID uint64) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.patients[patientID]; !ok {
		return 0, ErrRestricted
	}
	pk := shareKey{userID, patientID}
	if _, ok := r.db.sharedPatients[pk]; !ok {
		r.db.sharedPatients[pk] = r.db.order()
	}
	var ids []uint64
	for _, u := range r.db.uploads {
		if u.PatientID == patientID {
			ids = append(ids, u.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		k := shareKey{userID, id}
		if _, ok := r.db.sharedUploads[k]; !ok {
			r.db.sharedUploads[k] = r.db.order()
		}
	}
	return len(ids), nil
}

func (r *Shares) RemovePatient(_ context.Context, userID, patientID uint64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	pk := shareKey{userID, patientID}
	if _, ok := r.db.sharedPatients[pk]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.sharedPatients, pk)
	for k := range r.db.sharedUploads {
		if k.user != userID {
			continue
		}
		if u, ok := r.db.uploads[k.target]; ok && u.PatientID == patientID {
			delete(r.db.sharedUploads, k)
		}
	}
	return nil
}

func (r *Shares) ListUploads(_ context.Context, userID uint64) ([]*model.Upload, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []*model.Upload{}
	for _, id := range idsFor(r.db.sharedUploads, userID) {
		if u, ok := r.db.uploads[id]; ok {
			out = append(out, copyUpload(u))
		}
	}
	return out, nil
}

func (r *Shares) ListPatients(_ context.Context, userID uint64) ([]*model.Patient, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []*model.Patient{}
	for _, id := range idsFor(r.db.sharedPatients, userID) {
		if p, ok := r.db.patients[id]; ok {
			out = append(out, copyPatient(p))
		}
	}
	sortPatients(out)
	return out, nil
}

func (r *Shares) CanViewUpload(_ context.Context, userID, uploadID uint64) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sharedUploads[shareKey{userID, uploadID}]; ok {
		return true, nil
	}
	u, ok := r.db.uploads[uploadID]
	if !ok {
		return false, nil
	}
	_, ok = r.db.sharedPatients[shareKey{userID, u.PatientID}]
	return ok, nil
}

func (r *Shares) CanViewPatient(_ context.Context, userID, patientID uint64) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sharedPatients[shareKey{userID, patientID}]; ok {
		return true, nil
	}
	for k := range r.db.sharedUploads {
		if k.user != userID {
			continue
		}
		if u, ok := r.db.uploads[k.target]; ok && u.PatientID == patientID {
			return true, nil
		}
	}
	return false, nil
}
