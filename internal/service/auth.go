package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/fracture-records/internal/mail"
	"github.com/iliyamo/fracture-records/internal/model"
	"github.com/iliyamo/fracture-records/internal/repository"
	"github.com/iliyamo/fracture-records/internal/utils"
)

// msgBadCredentials is returned for unknown emails and wrong passwords
// alike so the response does not reveal which accounts exist.
const msgBadCredentials = "invalid email or password"

// AuthConfig holds the settings AuthService needs.
type AuthConfig struct {
	JWTSecret  string
	BcryptCost int
	ResetTTL   time.Duration
	// ResetURL is the page the reset mail links to; the token is appended
	// as the "token" query parameter.
	ResetURL string
}

// AuthService registers users, issues session tokens and handles
// password changes and resets.
type AuthService struct {
	users   UserStore
	tokens  TokenStore
	mailer  mail.Mailer
	metrics Recorder
	cfg     AuthConfig
	log     zerolog.Logger
}

func NewAuthService(users UserStore, tokens TokenStore, mailer mail.Mailer, cfg AuthConfig, log zerolog.Logger) *AuthService {
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	return &AuthService{
		users:   users,
		tokens:  tokens,
		mailer:  mailer,
		metrics: nopRecorder{},
		cfg:     cfg,
		log:     log.With().Str("component", "auth").Logger(),
	}
}

// WithRecorder sets the metrics sink.
func (s *AuthService) WithRecorder(r Recorder) *AuthService {
	s.metrics = r
	return s
}

// Register creates a user. Emails are matched exactly as stored.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return nil, validationf("name, email and password are required")
	}
	if !mail.ValidAddress(email) {
		return nil, validationf("invalid email address")
	}
	if len(password) < utils.MinPasswordLength {
		return nil, validationf("password must be at least %d characters", utils.MinPasswordLength)
	}
	hash, err := utils.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, internal("hash password", err)
	}
	u := &model.User{Name: name, Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, conflict("email already registered", err)
		}
		return nil, internal("create user", err)
	}
	u.SharedUploadIDs, u.SharedPatientIDs = []uint64{}, []uint64{}
	s.log.Info().Uint64("user_id", u.ID).Msg("user registered")
	return u, nil
}

// Login checks the credentials and returns the user and a signed session
// token. No token is issued on failure.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, "", authError(msgBadCredentials)
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", authError(msgBadCredentials)
	}
	if err != nil {
		return nil, "", internal("load user", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return nil, "", authError(msgBadCredentials)
	}
	tok, err := utils.NewSessionToken(s.cfg.JWTSecret, utils.SessionClaims{ID: u.ID, Email: u.Email, Name: u.Name})
	if err != nil {
		return nil, "", internal("sign session", err)
	}
	return u, tok, nil
}

// Authenticate validates a session token and resolves its user. A token
// whose user no longer exists is rejected.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, authError("authentication required")
	}
	claims, err := utils.ParseSessionToken(s.cfg.JWTSecret, token)
	if err != nil {
		return nil, authError("invalid session")
	}
	u, err := s.users.GetByID(ctx, claims.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, authError("invalid session")
	}
	if err != nil {
		return nil, internal("load session user", err)
	}
	return u, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint64, current, next string) error {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return notFound("user not found")
	}
	if err != nil {
		return internal("load user", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, current) {
		return validationf("current password is incorrect")
	}
	return s.setPassword(ctx, userID, next)
}

func (s *AuthService) setPassword(ctx context.Context, userID uint64, next string) error {
	if len(next) < utils.MinPasswordLength {
		return validationf("password must be at least %d characters", utils.MinPasswordLength)
	}
	hash, err := utils.HashPassword(next, s.cfg.BcryptCost)
	if err != nil {
		return internal("hash password", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("user not found")
		}
		return internal("update password", err)
	}
	return nil
}

// ForgotPassword issues a single-use reset token and mails it. Only the
// token's hash is stored.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return validationf("email is required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return notFound("no user with that email")
	}
	if err != nil {
		return internal("load user", err)
	}
	tok, err := utils.NewResetToken(s.cfg.ResetTTL)
	if err != nil {
		return internal("generate reset token", err)
	}
	if err := s.tokens.StoreReset(ctx, u.ID, tok.Hash, tok.Exp); err != nil {
		return internal("store reset token", err)
	}
	err = s.mailer.Send(ctx, mail.PasswordReset(u.Email, u.Name, s.resetLink(tok.Raw), s.cfg.ResetTTL))
	s.metrics.MailSent(mail.KindPasswordReset, err)
	if err != nil {
		return internal("send reset mail", err)
	}
	s.log.Info().Uint64("user_id", u.ID).Msg("password reset requested")
	return nil
}

func (s *AuthService) resetLink(raw string) string {
	if s.cfg.ResetURL == "" {
		return raw
	}
	sep := "?"
	if strings.Contains(s.cfg.ResetURL, "?") {
		sep = "&"
	}
	return s.cfg.ResetURL + sep + "token=" + url.QueryEscape(raw)
}

// ResetPassword consumes a reset token and sets a new password. The token
// is only consumed once the new password passes validation.
func (s *AuthService) ResetPassword(ctx context.Context, token, next string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return validationf("reset token is required")
	}
	if len(next) < utils.MinPasswordLength {
		return validationf("password must be at least %d characters", utils.MinPasswordLength)
	}
	userID, err := s.tokens.ConsumeReset(ctx, utils.HashToken(token))
	if errors.Is(err, repository.ErrTokenInvalid) {
		return validationf("reset token is invalid or expired")
	}
	if err != nil {
		return internal("consume reset token", err)
	}
	if err := s.setPassword(ctx, userID, next); err != nil {
		return err
	}
	s.log.Info().Uint64("user_id", userID).Msg("password reset")
	return nil
}
