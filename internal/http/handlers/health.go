package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthHandler serves liveness and dependency-status endpoints.
type HealthHandler struct {
	pool  *pgxpool.Pool
	redis *redis.Client
	env   string
}

// NewHealthHandler wires the health endpoints. Either dependency may be
// nil (reported as "disabled").
func NewHealthHandler(pool *pgxpool.Pool, redisClient *redis.Client, env string) *HealthHandler {
	return &HealthHandler{pool: pool, redis: redisClient, env: env}
}

// Health handles GET /health: a bare liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Status handles GET /status: pings each dependency with a short
// deadline and reports per-dependency health.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := map[string]string{
		"postgres": "disabled",
		"redis":    "disabled",
	}
	healthy := true

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			deps["postgres"] = "down: " + err.Error()
			healthy = false
		} else {
			deps["postgres"] = "ok"
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			deps["redis"] = "down: " + err.Error()
			healthy = false
		} else {
			deps["redis"] = "ok"
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       status,
		"env":          h.env,
		"dependencies": deps,
	})
}
