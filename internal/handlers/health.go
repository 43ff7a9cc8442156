package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	domain "github.com/workshoplane/api/internal/domain"
	"github.com/workshoplane/api/internal/platform/httpx"
	"github.com/workshoplane/api/internal/services"
)

// HealthHandlers serves liveness and readiness endpoints.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises health handler construction.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs health handlers with the provided options.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	return h
}

// WithHealthSystemService wires the system service used for readiness checks.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo sets the build metadata reported by the liveness endpoint.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the time source, mainly for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		h.clock = clock
	}
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Time        string `json:"time"`
}

// Healthz reports process liveness. It never consults dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthzResponse{
		Status:      "ok",
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Time:        h.clock().UTC().Format(time.RFC3339),
	})
}

type readyzCheck struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readyzResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version,omitempty"`
	CommitSHA   string                 `json:"commitSha,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	UptimeSec   int64                  `json:"uptimeSeconds"`
	GeneratedAt string                 `json:"generatedAt,omitempty"`
	Checks      map[string]readyzCheck `json:"checks,omitempty"`
}

// Readyz reports dependency readiness through the system service. Without a
// system service the endpoint degrades to a liveness answer.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("health_check_failed", "dependency checks failed", http.StatusServiceUnavailable))
		return
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}

	resp := readyzResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		UptimeSec:   int64(report.Uptime.Seconds()),
	}
	if !report.GeneratedAt.IsZero() {
		resp.GeneratedAt = report.GeneratedAt.UTC().Format(time.RFC3339)
	}
	if len(report.Checks) > 0 {
		resp.Checks = make(map[string]readyzCheck, len(report.Checks))
		for name, check := range report.Checks {
			rc := readyzCheck{
				Status:    check.Status,
				LatencyMS: check.LatencyMS,
				Error:     check.Error,
			}
			if !check.CheckedAt.IsZero() {
				rc.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339)
			}
			resp.Checks[name] = rc
		}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
