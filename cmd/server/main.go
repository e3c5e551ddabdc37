package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/account-service/internal/config"
	"github.com/iliyamo/account-service/internal/database"
	"github.com/iliyamo/account-service/internal/handler"
	"github.com/iliyamo/account-service/internal/mail"
	"github.com/iliyamo/account-service/internal/middleware"
	"github.com/iliyamo/account-service/internal/observability"
	"github.com/iliyamo/account-service/internal/queue"
	"github.com/iliyamo/account-service/internal/rbac"
	"github.com/iliyamo/account-service/internal/repository"
	"github.com/iliyamo/account-service/internal/router"
	"github.com/iliyamo/account-service/internal/service"
	"github.com/iliyamo/account-service/internal/storage"
)

func main() {
	cfg := config.Load()
	log := observability.NewLogger(cfg.LogLevel, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rbacCfg, graph, err := rbac.LoadFile(cfg.RBACFile)
	if err != nil {
		log.WithError(err).Fatal("rbac config")
	}
	if unknown := graph.UnknownParents(); len(unknown) > 0 {
		log.WithField("roles", unknown).Warn("rbac: inherited roles are not defined and grant nothing")
	}

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatal("mysql")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("migrate")
	}
	if err := database.SeedGroups(ctx, db, rbacCfg.GroupRoles()); err != nil {
		log.WithError(err).Fatal("seed groups")
	}

	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	if err != nil {
		log.WithError(err).Fatal("redis")
	}
	defer rdb.Close()

	objects, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		log.WithError(err).Fatal("s3")
	}
	mailer, err := mail.New(cfg.Mail, log)
	if err != nil {
		log.WithError(err).Fatal("mail")
	}

	metrics := observability.NewMetrics()
	users := repository.NewUserRepo(db)
	groups := repository.NewGroupRepo(db, cfg.Account.GroupCacheSize, cfg.Account.GroupCacheTTL)
	creds := repository.NewCredentialRepo(rdb)
	cacheCfg := config.LoadAvatarCacheConfig()
	avatarCache := repository.NewAvatarCache(rdb, cacheCfg.Prefix, cacheCfg.TTL)

	tokens := service.NewTokenService(cfg.JWTSecret, repository.NewTokenRepo(rdb), cfg.Account.TokenTTL)
	accounts := service.NewAccountService(service.AccountDeps{
		Users:      users,
		Groups:     groups,
		Creds:      creds,
		Tokens:     tokens,
		Mailer:     mailer,
		Graph:      graph,
		Config:     cfg.Account,
		BcryptCost: cfg.BcryptCost,
		Log:        log,
		Metrics:    metrics,
	})

	go queue.StartAvatarConsumer(ctx, cfg.AMQPURL, &queue.AvatarProcessor{
		Store:   objects,
		Users:   users,
		Cache:   avatarCache,
		Log:     log.WithField("component", "avatar-consumer"),
		Metrics: metrics,
	})

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler(log)
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: observability.NewRequestID}))
	e.Use(middleware.RequestLogger(log))
	e.Use(metrics.Middleware())

	var responseCache middleware.ResponseCache
	if cacheCfg.Enabled {
		responseCache = avatarCache
	}
	router.RegisterRoutes(e, router.Deps{
		Users: handler.NewUserHandler(accounts, cfg.Account.RequestTimeout),
		Thumbnails: &handler.ThumbnailHandler{
			Store:     objects,
			Publisher: service.NewAvatarPublisher(cfg.AMQPURL),
			Cache:     avatarCache,
			UploadDir: cfg.UploadDir,
			BaseURL:   cfg.Account.PublicBaseURL,
			Prefix:    cfg.Account.AvatarPublicPrefix,
			Timeout:   cfg.Account.RequestTimeout,
			Log:       log,
			Metrics:   metrics,
		},
		Tokens:      tokens,
		Gate:        rbac.NewGate(graph),
		RateLimit:   middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		AvatarCache: middleware.AvatarCache(responseCache, int64(cacheCfg.MaxBodyBytes), log),
		Health: handler.Health(map[string]handler.Pinger{
			"mysql": db.PingContext,
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		Metrics: metrics.Handler(),
	})

	go func() {
		addr := ":" + cfg.Port
		log.WithField("env", cfg.Env).Infof("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown")
	}
}
