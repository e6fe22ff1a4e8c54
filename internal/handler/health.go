package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ComUnity/access-gate/internal/client"
	"github.com/ComUnity/access-gate/internal/config"
	"github.com/ComUnity/access-gate/internal/repository"
	"github.com/ComUnity/access-gate/internal/util/logger"
)

var startTime = time.Now()

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      HealthStatus           `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Version     string                 `json:"version,omitempty"`
	Environment string                 `json:"environment"`
	Uptime      string                 `json:"uptime"`
	Checks      map[string]CheckResult `json:"checks,omitempty"`
	Summary     HealthSummary          `json:"summary"`
}

type HealthSummary struct {
	TotalChecks     int `json:"total_checks"`
	HealthyChecks   int `json:"healthy_checks"`
	DegradedChecks  int `json:"degraded_checks"`
	UnhealthyChecks int `json:"unhealthy_checks"`
}

type CheckResult struct {
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Latency   string         `json:"latency,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HealthChecker is one dependency probe.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type HealthHandler struct {
	config   *config.Config
	checkers []HealthChecker
	version  string
	timeout  time.Duration
}

func NewHealthHandler(cfg *config.Config, version string, checkers ...HealthChecker) *HealthHandler {
	h := &HealthHandler{
		config:  cfg,
		version: version,
		timeout: 3 * time.Second,
	}
	h.checkers = append(h.checkers, checkers...)
	h.checkers = append(h.checkers, &ApplicationHealthChecker{config: cfg})
	logger.Infof("health handler initialized with %d checkers", len(h.checkers))
	return h
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestStart := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	response := HealthResponse{
		Timestamp:   time.Now().UTC(),
		Version:     h.version,
		Environment: h.config.App.Env,
		Uptime:      time.Since(startTime).String(),
		Checks:      make(map[string]CheckResult),
	}

	overall := HealthStatusHealthy
	var summary HealthSummary
	for _, checker := range h.checkers {
		checkStart := time.Now()
		result := checker.Check(ctx)
		result.Latency = time.Since(checkStart).String()
		result.Timestamp = time.Now().UTC()

		response.Checks[checker.Name()] = result
		summary.TotalChecks++

		switch result.Status {
		case HealthStatusHealthy:
			summary.HealthyChecks++
		case HealthStatusDegraded:
			summary.DegradedChecks++
			if overall != HealthStatusUnhealthy {
				overall = HealthStatusDegraded
			}
		case HealthStatusUnhealthy:
			summary.UnhealthyChecks++
			overall = HealthStatusUnhealthy
		}
	}
	response.Status = overall
	response.Summary = summary

	status := http.StatusOK
	if overall == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	logger.Debugf("health check completed: status=%s checks=%d latency=%s",
		overall, summary.TotalChecks, time.Since(requestStart))

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, status, response)
}

// DatabaseHealthChecker pings the lead database.
type DatabaseHealthChecker struct {
	Repo repository.LeadRepository
}

func (d *DatabaseHealthChecker) Name() string { return "database" }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	if err := d.Repo.Ping(ctx); err != nil {
		logger.Errorf("database ping error: %v", err)
		return CheckResult{Status: HealthStatusUnhealthy, Error: "ping failed: " + err.Error()}
	}
	return CheckResult{Status: HealthStatusHealthy, Message: "database connection successful"}
}

// RedisHealthChecker pings the flag store backend. A failing redis degrades the
// gate rather than taking it down: Mount already treats read errors as closed.
type RedisHealthChecker struct {
	Client *client.RedisClient
}

func (r *RedisHealthChecker) Name() string { return "redis" }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	stats := r.Client.Stats()
	metadata := map[string]any{
		"commands": stats.Commands,
		"misses":   stats.Misses,
		"errors":   stats.Errors,
		"timeouts": stats.Timeouts,
	}
	if err := r.Client.HealthCheck(ctx); err != nil {
		logger.Errorf("redis ping error: %v", err)
		return CheckResult{Status: HealthStatusDegraded, Error: "ping failed: " + err.Error(), Metadata: metadata}
	}
	return CheckResult{Status: HealthStatusHealthy, Message: "redis connection successful", Metadata: metadata}
}

// ApplicationHealthChecker reports configuration-level state.
type ApplicationHealthChecker struct {
	config *config.Config
}

func (a *ApplicationHealthChecker) Name() string { return "application" }

func (a *ApplicationHealthChecker) Check(context.Context) CheckResult {
	metadata := map[string]any{
		"environment":  a.config.App.Env,
		"flag_store":   a.config.Gate.FlagStore,
		"routes":       len(a.config.Routes),
		"remote_leads": a.config.RemoteLeadsEnabled(),
	}
	if a.config.App.Env == "production" && !a.config.RemoteLeadsEnabled() && a.config.App.DatabaseURL == "" {
		return CheckResult{
			Status:   HealthStatusDegraded,
			Message:  "no lead backend configured; leads are not recorded",
			Metadata: metadata,
		}
	}
	return CheckResult{Status: HealthStatusHealthy, Message: "configuration is valid", Metadata: metadata}
}
