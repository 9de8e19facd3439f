package handlers

import (
	"net/http"
	"time"
)

const protocolVersion = "1.0.0"

// Check represents the status of a single dependency health check.
type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response (§6).
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	AgentID   string           `json:"agent_id"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health reports the node's own status plus its durable-store and
// rate-limit-backend dependency health, the same dual-check shape the
// teacher's Postgres/Redis health handler uses.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r, 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	storeStart := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = Check{Status: "fail", Message: "connection failed"}
		allHealthy = false
	} else {
		checks["store"] = Check{Status: "pass", Latency: time.Since(storeStart).String()}
	}

	if h.redis != nil {
		redisStart := time.Now()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["ratelimit_backend"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["ratelimit_backend"] = Check{Status: "pass", Latency: time.Since(redisStart).String()}
		}
	} else {
		checks["ratelimit_backend"] = Check{Status: "fail", Message: "not configured"}
		allHealthy = false
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		AgentID:   h.selfID,
		Version:   protocolVersion,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
