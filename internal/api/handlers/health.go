package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	WorkerID   string
	Version    string
	RuntimeDir string
}

func NewHealthHandler(workerID, version, runtimeDir string) *HealthHandler {
	return &HealthHandler{WorkerID: workerID, Version: version, RuntimeDir: runtimeDir}
}

type HealthResponse struct {
	Status     string    `json:"status" example:"ok"`
	Service    string    `json:"service" example:"kepler-vision"`
	WorkerID   string    `json:"worker_id" example:"worker-1"`
	Version    string    `json:"version" example:"1.0.0"`
	RuntimeDir string    `json:"runtime_dir" example:"runtime"`
	Timestamp  time.Time `json:"timestamp"`
}

// @Summary Health check
// @Description Liveness probe of the pipeline control plane
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		Service:    "kepler-vision",
		WorkerID:   h.WorkerID,
		Version:    h.Version,
		RuntimeDir: h.RuntimeDir,
		Timestamp:  time.Now().UTC(),
	})
}
