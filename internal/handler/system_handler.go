package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/edutrack/edutrack-backend/internal/response"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// QueueLength reports the depth of a worker queue.
type QueueLength interface {
	Len(ctx context.Context) (int64, error)
}

// SystemHandler serves health and runtime status.
type SystemHandler struct {
	deps      map[string]Pinger
	queue     QueueLength
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(deps map[string]Pinger, queue QueueLength, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		deps:      deps,
		queue:     queue,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Returns 503 when any dependency fails its ping.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	response.Success(c, status, gin.H{"status": state, "checks": checks})
}

type systemStatus struct {
	Uptime                string `json:"uptime"`
	Goroutines            int    `json:"goroutines"`
	HeapAlloc             uint64 `json:"heap_alloc"`
	GoVersion             string `json:"go_version"`
	PendingReconciliation int64  `json:"pending_reconciliation"`
}

// Status godoc
// GET /api/v1/admin/system/status
func (h *SystemHandler) Status(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	st := systemStatus{
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		GoVersion:  runtime.Version(),
	}
	if h.queue != nil {
		n, err := h.queue.Len(c.Request.Context())
		if err != nil {
			h.log.Warn().Err(err).Msg("failed to read reconcile queue length")
		}
		st.PendingReconciliation = n
	}

	response.Success(c, http.StatusOK, gin.H{"system": st})
}
