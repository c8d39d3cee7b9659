package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/bryanwahyu/medgemma-tb/internal/application/xray"
	"github.com/bryanwahyu/medgemma-tb/internal/domain/inference"
)

const APIVersion = "1.0.0"

// HealthChecker defines interface for health checking
type HealthChecker interface {
	Health() xray.Health
}

// HealthStatus represents the health status
type HealthStatus struct {
	Status      string            `json:"status"`
	ModelStatus string            `json:"model_status"`
	APIVersion  string            `json:"api_version"`
	Deployment  string            `json:"deployment"`
	HasAPIToken bool              `json:"has_api_token"`
	ModelInfo   *inference.Status `json:"model_info"`
}

// HealthHandler reports process liveness and inference connectivity.
// The process is healthy even while the model is not connected.
func HealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := checker.Health()

		status := HealthStatus{
			Status:      "healthy",
			ModelStatus: "not_connected",
			APIVersion:  APIVersion,
			Deployment:  h.Model.Deployment,
			HasAPIToken: h.HasToken,
			ModelInfo:   &h.Model,
		}
		if h.Connected {
			status.ModelStatus = "connected"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
