package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/hallpass/internal/blob"
	"github.com/hitoshi/hallpass/internal/config"
	"github.com/hitoshi/hallpass/internal/database"
	"github.com/hitoshi/hallpass/internal/repository"
)

// store は選択されたバックエンドのリポジトリと後始末をまとめる。
// dbはSQLバックエンドの場合のみ設定される。
type store struct {
	repo   repository.PassRepository
	db     *sql.DB
	closer func() error
}

// Close はバックエンドの接続を閉じる。
func (s *store) Close() {
	if s.closer == nil {
		return
	}
	if err := s.closer(); err != nil {
		slog.Warn("failed to close store", slog.String("error", err.Error()))
	}
}

// openStore はSTORE_BACKENDに応じてパス記録のリポジトリを構築する。
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return &store{repo: repository.NewBlobPassRepo(blob.NewMemoryStore())}, nil

	case config.BackendFile:
		fs, err := blob.NewFSStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return &store{repo: repository.NewBlobPassRepo(fs)}, nil

	case config.BackendS3:
		s3Store, err := blob.NewS3Store(ctx, blob.S3Config{
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PathStyle:       cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open s3 store: %w", err)
		}
		return &store{repo: repository.NewBlobPassRepo(s3Store)}, nil

	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &store{repo: repository.NewPostgresPassRepo(db), db: db, closer: db.Close}, nil

	case config.BackendSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &store{repo: repository.NewSQLitePassRepo(db), db: db, closer: db.Close}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
		})
		return &store{repo: repository.NewRedisPassRepo(client), closer: client.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.StoreBackend)
	}
}
