package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/princinho/mocreatives/auth"
	"github.com/princinho/mocreatives/config"
	"github.com/princinho/mocreatives/controllers"
	"github.com/princinho/mocreatives/database"
	"github.com/princinho/mocreatives/jobs"
	"github.com/princinho/mocreatives/logging"
	"github.com/princinho/mocreatives/mailer"
	"github.com/princinho/mocreatives/metrics"
	"github.com/princinho/mocreatives/ratelimit"
	"github.com/princinho/mocreatives/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := database.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("connect mongodb")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	users := database.NewUserStore(database.OpenCollection(client, cfg.DatabaseName, "users"))
	if err := users.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Fatal("ensure user indexes")
	}

	var sender mailer.Sender = mailer.LogSender{Log: log}
	if cfg.SMTP.Enabled() {
		smtp, err := mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		})
		if err != nil {
			log.WithError(err).Fatal("smtp sender")
		}
		sender = smtp
	} else {
		log.Warn("SMTP_HOST not set, emails will only be logged")
	}
	notifier := mailer.NewNotifier(sender, cfg.ClientURL, cfg.ResetTokenTTL)

	photos, closePhotos := openPhotoStore(ctx, cfg, log)
	defer closePhotos()

	signer, err := auth.NewJWTSigner(cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		log.WithError(err).Fatal("jwt signer")
	}
	opts := auth.Options{
		ClientURL:          cfg.ClientURL,
		ResetTTL:           cfg.ResetTokenTTL,
		ResetEligibleRoles: cfg.ResetEligibleRoles,
		Photos:             photos,
		Logger:             log,
	}
	svc, err := auth.NewService(users, auth.NewBcryptHasher(), signer, notifier, opts)
	if err != nil {
		log.WithError(err).Fatal("auth service")
	}

	//seeding superadmin
	if cfg.SuperAdmin.Email != "" {
		created, err := svc.SeedSuperAdmin(ctx, cfg.SuperAdmin.Name, cfg.SuperAdmin.Email, cfg.SuperAdmin.Password)
		if err != nil {
			log.WithError(err).Fatal("seed superadmin")
		}
		if created {
			log.WithField("email", cfg.SuperAdmin.Email).Info("superadmin created")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	deps := controllers.Deps{
		Auth:          svc,
		Authenticator: m.Authenticator(svc),
		Recorder:      m,
		Photos:        storage.NewFileValidator(cfg.Upload.MaxSizeMB, cfg.Upload.AllowedExtensions, cfg.Upload.AllowedMimeTypes),
		Metrics:       m.Handler(),
	}
	if cfg.RateLimit.Enabled() {
		rdb, err := ratelimit.Connect(ctx, cfg.RateLimit.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer rdb.Close()
		limiter := ratelimit.New(rdb, cfg.RateLimit.Limit, cfg.RateLimit.Window)
		deps.LoginLimit = limiter.ClearingMiddleware("login", log, m.RecordRateLimited)
		deps.ResetLimit = limiter.Middleware("reset", log, m.RecordRateLimited)
	} else {
		log.Warn("REDIS_URL not set, credential routes are not rate limited")
	}

	scheduler := jobs.NewScheduler(users, log)
	if err := scheduler.ScheduleResetSweep(cfg.ResetSweepSchedule); err != nil {
		log.WithError(err).Fatal("schedule reset sweep")
	}
	scheduler.Start()

	r := gin.New()

	log.WithField("origins", cfg.AllowedOrigins).Info("allowed origins")
	allowedOrigins := map[string]bool{}
	for _, origin := range cfg.AllowedOrigins {
		allowedOrigins[origin] = true
	}
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			allowed := allowedOrigins[origin]
			if !allowed {
				log.WithField("origin", origin).Debug("CORS origin rejected")
			}
			return allowed
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(logging.RequestLogger(log))
	r.Use(gin.Recovery())
	r.Use(m.Middleware())
	r.MaxMultipartMemory = deps.Photos.MaxSize() + 1<<20

	controllers.Mount(r, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	scheduler.Stop(shutdownCtx)
}

// openPhotoStore returns nil when no provider is configured; profile photo
// uploads are then rejected.
func openPhotoStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (auth.PhotoStore, func()) {
	switch cfg.Storage.Provider {
	case config.ProviderGCS:
		gcs, err := storage.NewGCSStore(ctx, cfg.Storage.GCSBucket, cfg.Storage.CredentialsFile)
		if err != nil {
			log.WithError(err).Fatal("gcs storage")
		}
		return gcs, func() { _ = gcs.Close() }
	case config.ProviderR2:
		r2, err := storage.NewR2Store(ctx, storage.R2Config{
			Bucket:          cfg.Storage.R2Bucket,
			AccessKeyID:     cfg.Storage.R2AccessKeyID,
			SecretAccessKey: cfg.Storage.R2SecretAccessKey,
			Endpoint:        cfg.Storage.R2Endpoint,
			PublicDomain:    cfg.Storage.R2PublicDomain,
		})
		if err != nil {
			log.WithError(err).Fatal("r2 storage")
		}
		return r2, func() {}
	}
	log.Info("STORAGE_PROVIDER not set, profile photo uploads disabled")
	return nil, func() {}
}
