package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"snaptosize/logger"
)

// HealthCheck reports a dependency problem, or nil when it is fine.
type HealthCheck struct {
	Name  string
	Check func() error
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	GoVersion string            `json:"go_version"`
	Uptime    string            `json:"uptime"`
	StartTime string            `json:"start_time"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Global start time for uptime calculation
var startTime = time.Now()

// formatUptime formats a duration into days, hours, minutes, seconds
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}

// HealthHandler answers 200 when every check passes and 503 otherwise.
func HealthHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("Health check request: remoteAddr=%s", r.RemoteAddr)

		response := HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now(),
			Version:   getVersion(),
			GoVersion: runtime.Version(),
			Uptime:    formatUptime(time.Since(startTime)),
			StartTime: startTime.Format("2006-01-02 15:04:05 MST"),
		}
		code := http.StatusOK
		if len(checks) > 0 {
			response.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			if err := c.Check(); err != nil {
				logger.Warnf("Health check %s failed: %v", c.Name, err)
				response.Checks[c.Name] = err.Error()
				response.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			response.Checks[c.Name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Errorf("Failed to encode health response: %v", err)
		}
	}
}
