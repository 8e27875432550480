package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler handles system-related endpoints
type SystemHandler struct {
	WorkerID string
	Workers  int
	started  time.Time
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(workerID string, workers int) *SystemHandler {
	return &SystemHandler{
		WorkerID: workerID,
		Workers:  workers,
		started:  time.Now(),
	}
}

// @Summary Get system stats
// @Description Process statistics of the control plane
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/stats [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"worker_id":      h.WorkerID,
			"job_workers":    h.Workers,
			"uptime_seconds": int64(time.Since(h.started).Seconds()),
			"memory_mb":      m.Alloc / 1024 / 1024,
			"cpu_cores":      runtime.NumCPU(),
			"goroutines":     runtime.NumGoroutine(),
			"go_version":     runtime.Version(),
		},
		"timestamp": time.Now().Unix(),
	})
}
