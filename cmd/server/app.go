package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/iliyamo/fracture-records/internal/config"
	"github.com/iliyamo/fracture-records/internal/database"
	"github.com/iliyamo/fracture-records/internal/mail"
	"github.com/iliyamo/fracture-records/internal/metrics"
	"github.com/iliyamo/fracture-records/internal/predict"
	"github.com/iliyamo/fracture-records/internal/queue"
	"github.com/iliyamo/fracture-records/internal/repository"
	"github.com/iliyamo/fracture-records/internal/repository/memstore"
	"github.com/iliyamo/fracture-records/internal/service"
	"github.com/iliyamo/fracture-records/internal/storage"
)

// app holds the wired services and the resources to release on exit.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	db        *sql.DB
	redis     *redis.Client
	files     *storage.Store
	metrics   *metrics.Metrics
	auth      *service.AuthService
	patients  *service.PatientService
	uploads   *service.UploadService
	admin     *service.AdminService
	consumers []*queue.Consumer
}

// openStores connects the configured store driver. db is nil for the
// in-memory store.
func openStores(cfg *config.Config) (service.Stores, *sql.DB, error) {
	if cfg.StoreDriver == "memory" {
		m := memstore.New()
		return service.Stores{Users: m.Users(), Tokens: m.Tokens(), Patients: m.Patients(), Uploads: m.Uploads(), Shares: m.Shares()}, nil, nil
	}
	db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	if err != nil {
		return service.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	return service.Stores{
		Users:    repository.NewUserRepo(db),
		Tokens:   repository.NewTokenRepo(db),
		Patients: repository.NewPatientRepo(db),
		Uploads:  repository.NewUploadRepo(db),
		Shares:   repository.NewShareRepo(db),
	}, db, nil
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	st, db, err := openStores(cfg)
	if err != nil {
		return nil, err
	}
	a.db = db

	if a.redis, err = config.NewRedisClient(ctx, cfg.Redis); err != nil {
		log.Warn().Err(err).Msg("redis unavailable; rate limiting off, prediction cache in memory")
	}

	dir, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	if a.files, err = storage.New(afero.NewOsFs(), dir, cfg.PublicBaseURL); err != nil {
		return nil, err
	}

	if a.metrics, err = metrics.New(); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	pred, err := a.buildPredictor()
	if err != nil {
		return nil, err
	}
	mailer, err := a.buildMailer()
	if err != nil {
		return nil, err
	}

	a.auth = service.NewAuthService(st.Users, st.Tokens, mailer, service.AuthConfig{
		JWTSecret:  cfg.JWTSecret,
		BcryptCost: cfg.BcryptCost,
		ResetTTL:   cfg.Mail.ResetTTL,
		ResetURL:   cfg.ResetURL(),
	}, log).WithRecorder(a.metrics)
	a.patients = service.NewPatientService(st, a.files, log)
	a.uploads = service.NewUploadService(st, a.files, pred, mailer, service.UploadConfig{
		MaxBytes:     cfg.MaxUploadBytes,
		ContactEmail: cfg.Mail.ContactEmail,
	}, log).WithRecorder(a.metrics)
	a.admin = service.NewAdminService(st, a.patients, log)

	if cfg.EventsEnabled {
		a.uploads.WithEvents(queue.NewPublisher(cfg.RabbitMQURL, log))
		a.consumers = append(a.consumers,
			queue.NewConsumer(cfg.RabbitMQURL, queue.UploadCreatedQueue, queue.UploadAuditHandler(log), log))
	}
	ok = true
	return a, nil
}

// buildPredictor wraps the configured predictor in the admission limit,
// metrics and, when enabled, the result cache.
func (a *app) buildPredictor() (predict.Predictor, error) {
	pc := a.cfg.Predict
	var base predict.Predictor
	switch pc.Mode {
	case "subprocess":
		sp, err := predict.NewSubprocess(pc.Command, pc.Timeout, pc.FailOnStderr, a.log)
		if err != nil {
			return nil, err
		}
		base = sp.WithDir(pc.Dir)
	case "remote":
		base = predict.NewRemote(pc.RemoteURL, &http.Client{}, a.files.FS(), pc.Timeout)
	default:
		a.log.Warn().Msg("PREDICTOR=none: uploads get an empty prediction")
		base = predict.None()
	}
	var p predict.Predictor = predict.NewInstrumented(predict.NewLimited(base, pc.MaxConcurrent), a.metrics)
	if pc.Cache.Enabled {
		var cache predict.Cache = predict.NewMemoryCache(pc.Cache.TTL)
		if a.redis != nil {
			cache = predict.NewRedisCache(a.redis, pc.Cache.Prefix, pc.Cache.TTL)
		}
		p = predict.NewCached(p, cache, a.files.FS(), a.log).OnHit(a.metrics.PredictionCacheHit)
	}
	a.log.Info().Str("predictor", pc.Mode).Int("max_concurrent", pc.MaxConcurrent).
		Bool("cache", pc.Cache.Enabled).Msg("predictor ready")
	return p, nil
}

// buildMailer returns the mailer services send through. With the queue
// transport, a consumer delivering through MAIL_URL runs in this process.
func (a *app) buildMailer() (mail.Mailer, error) {
	mc := a.cfg.Mail
	switch mc.Transport {
	case "smtp":
		m, err := mail.NewShoutrrrMailer(mc.URL, mc.Timeout, a.log)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "queue":
		direct, err := mail.NewShoutrrrMailer(mc.URL, mc.Timeout, a.log)
		if err != nil {
			return nil, err
		}
		a.consumers = append(a.consumers,
			queue.NewConsumer(a.cfg.RabbitMQURL, queue.MailQueue, mail.DeliveryHandler(direct), a.log))
		return mail.NewQueueMailer(queue.NewPublisher(a.cfg.RabbitMQURL, a.log)), nil
	default:
		return mail.NewLogMailer(a.log), nil
	}
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
