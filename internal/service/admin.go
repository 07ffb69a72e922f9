package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/iliyamo/fracture-records/internal/mail"
	"github.com/iliyamo/fracture-records/internal/model"
	"github.com/iliyamo/fracture-records/internal/repository"
)

// Sort keys accepted by ListUsers.
var userSortKeys = map[string]func(a, b *model.User) int{
	"isAdmin": func(a, b *model.User) int {
		switch {
		case a.IsAdmin == b.IsAdmin:
			return 0
		case a.IsAdmin:
			return 1
		default:
			return -1
		}
	},
	"name":             func(a, b *model.User) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) },
	"email":            func(a, b *model.User) int { return strings.Compare(a.Email, b.Email) },
	"numberOfPatients": func(a, b *model.User) int { return a.NumberOfPatients - b.NumberOfPatients },
}

// AdminService backs the administrative user management.
type AdminService struct {
	users    UserStore
	patients PatientStore
	purger   *PatientService
	log      zerolog.Logger
}

func NewAdminService(st Stores, patients *PatientService, log zerolog.Logger) *AdminService {
	return &AdminService{
		users:    st.Users,
		patients: st.Patients,
		purger:   patients,
		log:      log.With().Str("component", "admin").Logger(),
	}
}

func requireAdmin(caller *model.User) error {
	if caller == nil || !caller.IsAdmin {
		return forbidden("admin access required")
	}
	return nil
}

// ListUsers returns every user with a freshly counted numberOfPatients.
// sort is isAdmin (default), name, email or numberOfPatients; order is asc
// or desc (default desc for isAdmin, asc otherwise).
func (s *AdminService) ListUsers(ctx context.Context, caller *model.User, sortKey, order string) ([]*model.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if sortKey == "" {
		sortKey = "isAdmin"
	}
	cmp, ok := userSortKeys[sortKey]
	if !ok {
		return nil, validationf("sort must be one of isAdmin, name, email, numberOfPatients")
	}
	switch order {
	case "":
		order = "asc"
		if sortKey == "isAdmin" {
			order = "desc"
		}
	case "asc", "desc":
	default:
		return nil, validationf("order must be asc or desc")
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, internal("list users", err)
	}
	sort.SliceStable(users, func(i, j int) bool {
		c := cmp(users[i], users[j])
		if order == "desc" {
			c = -c
		}
		if c == 0 {
			return users[i].ID < users[j].ID
		}
		return c < 0
	})
	return users, nil
}

// GetUser returns a user to an admin or to the user themself.
func (s *AdminService) GetUser(ctx context.Context, caller *model.User, id uint64) (*model.User, error) {
	if caller.ID != id && !caller.IsAdmin {
		return nil, forbidden("you can only view your own account")
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("user not found")
	}
	if err != nil {
		return nil, internal("load user", err)
	}
	return u, nil
}

// target loads a non-admin user for modification.
func (s *AdminService) target(ctx context.Context, id uint64) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("user not found")
	}
	if err != nil {
		return nil, internal("load user", err)
	}
	if u.IsAdmin {
		return nil, forbidden("admin accounts cannot be modified")
	}
	return u, nil
}

// UpdateUser edits the name and email of a non-admin user. Empty fields
// keep their current value.
func (s *AdminService) UpdateUser(ctx context.Context, caller *model.User, id uint64, name, email string) (*model.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	u, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name != "" {
		u.Name = name
	}
	if email = strings.TrimSpace(email); email != "" {
		if !mail.ValidAddress(email) {
			return nil, validationf("invalid email address")
		}
		u.Email = email
	}
	if err := s.users.UpdateProfile(ctx, u.ID, u.Name, u.Email); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailExists):
			return nil, conflict("email already registered", err)
		case errors.Is(err, repository.ErrNotFound):
			return nil, notFound("user not found")
		}
		return nil, internal("update user", err)
	}
	s.log.Info().Uint64("user_id", u.ID).Uint64("admin_id", caller.ID).Msg("user updated")
	return u, nil
}

// DeleteUser removes a non-admin user together with their patients,
// uploads and files. Each patient goes through the patient delete saga;
// the user is only removed when all of them are gone.
func (s *AdminService) DeleteUser(ctx context.Context, caller *model.User, id uint64) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	u, err := s.target(ctx, id)
	if err != nil {
		return err
	}
	ps, err := s.patients.ListByOwner(ctx, u.ID)
	if err != nil {
		return internal("list user patients", err)
	}
	var failed []error
	for _, p := range ps {
		if err := s.purger.purge(ctx, p); err != nil {
			failed = append(failed, fmt.Errorf("patient %d: %w", p.ID, err))
		}
	}
	if len(failed) > 0 {
		s.log.Warn().Uint64("user_id", u.ID).Int("failed", len(failed)).Msg("delete user: kept user for retry")
		return &Error{Kind: KindInternal, Message: "could not delete all patients of the user; try again",
			Err: errors.Join(failed...)}
	}
	if err := s.users.Delete(ctx, u.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("user not found")
		}
		return internal("delete user", err)
	}
	s.log.Info().Uint64("user_id", u.ID).Uint64("admin_id", caller.ID).Int("patients", len(ps)).Msg("user deleted")
	return nil
}

// SetAdmin grants or revokes admin rights. It is only reachable from the
// command line.
func (s *AdminService) SetAdmin(ctx context.Context, email string, admin bool) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return validationf("email is required")
	}
	if err := s.users.SetAdmin(ctx, email, admin); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("no user with that email")
		}
		return internal("set admin", err)
	}
	s.log.Info().Str("email", email).Bool("admin", admin).Msg("admin flag changed")
	return nil
}
