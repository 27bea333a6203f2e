// Package remote wraps the authoritative backend: row-level access to
// the remote Postgres store and object access to the asset bucket.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vonshlovens/tillsync/internal/config"
)

// Client bundles the data and storage connections for one remote
// backend.
type Client struct {
	Pool    *pgxpool.Pool
	objects *minio.Client
	bucket  string
}

// New connects to the remote backend described by creds and cfg. The
// data connection is pinged eagerly; the storage connection is lazy
// (minio clients do not dial until the first request).
func New(ctx context.Context, creds config.Credentials, cfg *config.RemoteConfig) (*Client, error) {
	poolConfig, err := pgxpool.ParseConfig(creds.DatabaseURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping remote database: %w", err)
	}

	objects, err := minio.New(creds.StorageEndpoint(cfg), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.StorageAccessKey, creds.Secret, ""),
		Secure: cfg.StorageTLS,
		Region: cfg.StorageRegion,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	slog.Info("connected to remote backend",
		"endpoint", creds.Endpoint,
		"database", cfg.Database,
		"bucket", cfg.Bucket)

	return &Client{Pool: pool, objects: objects, bucket: cfg.Bucket}, nil
}

// Close releases the data connection pool.
func (c *Client) Close() {
	c.Pool.Close()
}
