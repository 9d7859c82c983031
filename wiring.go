package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/hijaiyah-api/internal/auth"
	"github.com/example/hijaiyah-api/internal/classifier"
	"github.com/example/hijaiyah-api/internal/config"
	"github.com/example/hijaiyah-api/internal/grpcclient"
	"github.com/example/hijaiyah-api/internal/repository"
	"github.com/example/hijaiyah-api/internal/storage"
	"github.com/example/hijaiyah-api/internal/usecase"
)

// closerStack releases resources in reverse acquisition order.
type closerStack struct {
	names   []string
	closers []func() error
}

func (s *closerStack) push(name string, fn func() error) {
	s.names = append(s.names, name)
	s.closers = append(s.closers, fn)
}

func (s *closerStack) closeAll(logger *zap.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("failed to close resource", zap.String("resource", s.names[i]), zap.Error(err))
		}
	}
	s.names, s.closers = nil, nil
}

func initVerifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (auth.Verifier, error) {
	switch cfg.Auth.Provider {
	case "jwt":
		logger.Warn("using HMAC JWT verification, not suitable for production")
		v, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		v, err := auth.NewFirebaseVerifier(ctx, cfg.Auth.ProjectID, cfg.Auth.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("init firebase auth: %w", err)
		}
		return v, nil
	}
}

func initObjectStore(ctx context.Context, cfg *config.Config, bucket string, closers *closerStack) (storage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("init s3: %w", err)
		}
		return storage.NewS3Store(client, bucket, cfg.S3), nil
	default:
		client, err := storage.NewGCSClient(ctx, cfg.Storage.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("init cloud storage: %w", err)
		}
		closers.push("gcs:"+bucket, client.Close)
		return storage.NewGCSStore(client, bucket), nil
	}
}

// ensureModel installs the ONNX model from the model bucket when it is not
// present locally. Remote inference needs no local file.
func ensureModel(ctx context.Context, cfg *config.Config, logger *zap.Logger, closers *closerStack) error {
	if cfg.Model.Backend != "onnx" {
		return nil
	}

	var src classifier.Downloader
	if cfg.Model.Bucket != "" && cfg.Model.ObjectKey != "" {
		store, err := initObjectStore(ctx, cfg, cfg.Model.Bucket, closers)
		if err != nil {
			return err
		}
		src = store
	}

	downloaded, err := classifier.EnsureLocal(ctx, cfg.Model.Path, cfg.Model.ObjectKey, src)
	if err != nil {
		return err
	}
	if downloaded {
		logger.Info("downloaded model artifact",
			zap.String("bucket", cfg.Model.Bucket),
			zap.String("key", cfg.Model.ObjectKey),
			zap.String("path", cfg.Model.Path))
	}
	return nil
}

func initModel(ctx context.Context, cfg *config.Config, numClasses int, logger *zap.Logger, closers *closerStack) (classifier.Model, error) {
	if cfg.Model.Backend == "grpc" {
		model, conn, err := grpcclient.DialInference(ctx, cfg.Model.InferenceAddr, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to inference service: %w", err)
		}
		closers.push("grpc", conn.Close)
		return model, nil
	}

	model, err := classifier.LoadONNXModel(classifier.ONNXOptions{
		ModelPath:   cfg.Model.Path,
		LibraryPath: cfg.Model.ONNXLibrary,
		InputName:   cfg.Model.InputName,
		OutputName:  cfg.Model.OutputName,
		NumClasses:  numClasses,
	})
	if err != nil {
		return nil, err
	}
	closers.push("onnx", model.Close)
	return model, nil
}

func initHistoryStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, closers *closerStack) (repository.HistoryStore, error) {
	if cfg.History.Backend == "postgres" {
		db, err := initDatabase(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			closers.push("postgres", sqlDB.Close)
		}
		store := repository.NewGormHistoryStore(db, logger)
		if err := store.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		return store, nil
	}

	client, err := repository.NewFirestoreClient(ctx, cfg.History.ProjectID, cfg.History.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("init firestore: %w", err)
	}
	closers.push("firestore", client.Close)
	return repository.NewFirestoreHistoryStore(client, cfg.History.Collection, logger), nil
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Error("failed to connect to database", zap.Error(err))
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Error("database ping failed", zap.Error(err))
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// initCache returns a NopCache when no Redis address is configured.
func initCache(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger, closers *closerStack) (usecase.Cache, error) {
	if cfg.Addr == "" {
		zapLogger.Info("redis not configured, history cache disabled")
		return usecase.NopCache{}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		zapLogger.Error("redis connection failed", zap.Error(err))
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	closers.push("redis", client.Close)
	return usecase.NewRedisCache(client), nil
}
