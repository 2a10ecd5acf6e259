package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// ErrNotConfigured is returned by probes for dependencies the deployment runs without.
var ErrNotConfigured = errors.New("not configured")

// Checker probes optional backing dependencies for readiness.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

const disabledStatus = "disabled"

// Handler exposes liveness and readiness endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes. Dependencies that are
// deliberately not configured report "disabled" and do not fail readiness.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	status := map[string]string{
		"db":    probe(func() error { return h.Checker.PingDB(ctx, h.dbTimeout()) }),
		"redis": probe(func() error { return h.Checker.PingRedis(ctx, h.redisTimeout()) }),
	}
	code := http.StatusOK
	for _, v := range status {
		if v != "ok" && v != disabledStatus {
			code = http.StatusServiceUnavailable
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func probe(ping func() error) string {
	if err := ping(); err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return disabledStatus
		}
		return err.Error()
	}
	return "ok"
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
