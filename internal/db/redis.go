package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the shared redis client.
type RedisOptions struct {
	Addr     string
	Password string
	TLS      bool
}

// ConnectRedis builds a redis client and verifies connectivity.
func ConnectRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
	}
	if opts.TLS {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("db: ping redis: %w", err)
	}

	return client, nil
}
