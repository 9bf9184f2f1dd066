package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/AlexMickh/market-chat/internal/auth"
	"github.com/AlexMickh/market-chat/internal/config"
	grpcserver "github.com/AlexMickh/market-chat/internal/grpc/server"
	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/AlexMickh/market-chat/internal/router"
	"github.com/AlexMickh/market-chat/internal/seen"
	"github.com/AlexMickh/market-chat/internal/service"
	"github.com/AlexMickh/market-chat/internal/storage/memory"
	"github.com/AlexMickh/market-chat/internal/storage/minio"
	"github.com/AlexMickh/market-chat/internal/storage/postgres"
	"github.com/AlexMickh/market-chat/internal/storage/redis"
	"github.com/AlexMickh/market-chat/internal/transport/rest"
	"github.com/AlexMickh/market-chat/internal/transport/ws"
	"github.com/AlexMickh/market-chat/pkg/apperr"
	"github.com/AlexMickh/market-chat/pkg/logger"
	minioclient "github.com/AlexMickh/market-chat/pkg/minio-client"
	postgresclient "github.com/AlexMickh/market-chat/pkg/postgres-client"
	redisclient "github.com/AlexMickh/market-chat/pkg/redis-client"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrImagesDisabled = apperr.Validation("image messages are disabled")

type storage interface {
	service.Storage
	seen.Storage
}

type App struct {
	db     *pgxpool.Pool
	cache  *goredis.Client
	relay  *redis.Relay
	http   *http.Server
	health *grpcserver.Server
}

func Register(ctx context.Context, cfg *config.Config) *App {
	const op = "app.Register"

	ctx = logger.GetFromCtx(ctx).With(ctx, zap.String("op", op))

	a := &App{}
	var checkers []grpcserver.Checker

	var store storage
	var blobs service.S3 = disabledBlobs{}
	switch cfg.StorageDriver {
	case config.DriverMemory:
		logger.GetFromCtx(ctx).Info(ctx, "using in-memory storage")
		store = memory.New(cfg.Profiles()...)
	default:
		logger.GetFromCtx(ctx).Info(ctx, "initing postgres")
		pgCfg := postgresclient.NewConfig(
			cfg.DB.User,
			cfg.DB.Password,
			cfg.DB.Host,
			cfg.DB.Port,
			cfg.DB.Name,
			cfg.DB.MinPools,
			cfg.DB.MaxPools,
			cfg.DB.MigrationsPath,
		)
		db, err := postgresclient.New(ctx, pgCfg)
		if err != nil {
			logger.GetFromCtx(ctx).Fatal(ctx, "failed to init pgx pool", zap.Error(err))
		}
		a.db = db
		store = postgres.New(db)
		checkers = append(checkers, grpcserver.CheckFunc{Label: "postgres", Fn: db.Ping})

		logger.GetFromCtx(ctx).Info(ctx, "initing minio")
		minioCfg := minioclient.NewConfig(
			cfg.S3.Endpoint,
			cfg.S3.User,
			cfg.S3.Password,
			cfg.S3.BucketName,
			cfg.S3.IsUseSsl,
		)
		s3, err := minioclient.New(ctx, minioCfg)
		if err != nil {
			logger.GetFromCtx(ctx).Fatal(ctx, "failed to init minio", zap.Error(err))
		}
		blobs = minio.New(s3, cfg.S3.BucketName, cfg.S3.PublicURL)
	}

	svc := service.New(store, blobs, seen.New(store))
	tokens := auth.New(cfg.Auth.Secret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)

	hub := router.NewHub()
	var rooms router.Rooms = hub
	if cfg.Redis.Enabled {
		logger.GetFromCtx(ctx).Info(ctx, "initing redis")
		redisCfg := redisclient.NewConfig(
			cfg.Redis.Addr,
			cfg.Redis.User,
			cfg.Redis.Password,
			cfg.Redis.DB,
			redisclient.WithClientName("market-chat"),
			redisclient.WithPoolSize(cfg.Redis.PoolSize),
		)
		cache, err := redisclient.New(ctx, redisCfg)
		if err != nil {
			logger.GetFromCtx(ctx).Fatal(ctx, "failed to init redis", zap.Error(err))
		}
		a.cache = cache
		a.relay = redis.New(cache, hub)
		rooms = a.relay
		checkers = append(checkers, grpcserver.CheckFunc{
			Label: "redis",
			Fn:    func(ctx context.Context) error { return cache.Ping(ctx).Err() },
		})
	}

	socket := ws.New(tokens, router.New(svc, rooms), ws.Config{
		SendBuffer:     cfg.WS.SendBuffer,
		WriteWait:      cfg.WS.WriteWait,
		PongWait:       cfg.WS.PongWait,
		MaxMessageSize: cfg.WS.MaxMessageSize,
	})

	a.http = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      rest.New(svc, tokens).Router(ctx, socket),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	a.health = grpcserver.New(ctx, cfg.GrpcPort, cfg.WS.HealthInterval, checkers...)

	return a
}

// Run starts every listener and returns at once. ctx bounds the background
// workers and must live as long as the app.
func (a *App) Run(ctx context.Context) {
	const op = "app.Run"

	ctx = logger.GetFromCtx(ctx).With(ctx, zap.String("op", op))

	go func() {
		logger.GetFromCtx(ctx).Info(ctx, "http server started", zap.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.GetFromCtx(ctx).Fatal(ctx, "http server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := a.health.Run(ctx); err != nil {
			logger.GetFromCtx(ctx).Fatal(ctx, "grpc server failed", zap.Error(err))
		}
	}()

	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx); err != nil {
				logger.GetFromCtx(ctx).Error(ctx, "room relay stopped", zap.Error(err))
			}
		}()
	}
}

func (a *App) GracefulStop(ctx context.Context) {
	const op = "app.GracefulStop"

	ctx = logger.GetFromCtx(ctx).With(ctx, zap.String("op", op))

	logger.GetFromCtx(ctx).Info(ctx, "stopping http server")
	if err := a.http.Shutdown(ctx); err != nil {
		logger.GetFromCtx(ctx).Error(ctx, "failed to stop http server", zap.Error(err))
	}

	logger.GetFromCtx(ctx).Info(ctx, "stopping grpc server")
	a.health.GracefulStop()

	if a.cache != nil {
		logger.GetFromCtx(ctx).Info(ctx, "stopping redis")
		_ = a.cache.Close()
	}

	if a.db != nil {
		logger.GetFromCtx(ctx).Info(ctx, "stopping postgres")
		a.db.Close()
	}
}

type disabledBlobs struct{}

func (disabledBlobs) Upload(context.Context, models.Image) (string, error) {
	return "", ErrImagesDisabled
}

func (disabledBlobs) Delete(context.Context, string) error {
	return ErrImagesDisabled
}
