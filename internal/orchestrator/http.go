// Optional gin status surface for a long-running flash session, grounded
// on the teacher's runAPIServer/handleHealth/handleShutdown in
// cmd/driver/hasher-host/main.go.
package orchestrator

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatusResponse mirrors the teacher's HealthResponse shape, generalized
// from ASIC chip health to flash session state.
type StatusResponse struct {
	State      string  `json:"state"`
	Partition  string  `json:"partition"`
	BytesDone  int64   `json:"bytes_done"`
	BytesTotal int64   `json:"bytes_total"`
	Device     string  `json:"device_chip,omitempty"`
	Serial     string  `json:"device_serial,omitempty"`
}

// ReportResponse is the JSON rendering of a finished session's Report.
type ReportResponse struct {
	State       string            `json:"state"`
	FaultReason string            `json:"fault_reason,omitempty"`
	Steps       []stepResponse    `json:"steps"`
	DurationMS  int64             `json:"duration_ms"`
}

type stepResponse struct {
	Partition string `json:"partition"`
	Op        string `json:"op"`
	Skipped   bool   `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// RunServer starts a gin status server on addr in a background goroutine,
// serving live state from sess until the returned server is closed. It
// never mutates sess; Cancel is reached
// through /api/v1/cancel as the one write affordance.
func RunServer(addr string, sess *Session, lastReport func() (Report, bool)) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		api.GET("/status", func(c *gin.Context) {
			p := sess.Progress()
			dev := sess.Device()
			c.JSON(http.StatusOK, StatusResponse{
				State:      sess.State().String(),
				Partition:  p.Partition,
				BytesDone:  p.Done,
				BytesTotal: p.Total,
				Device:     dev.ChipName,
				Serial:     dev.Serial,
			})
		})
		api.GET("/report", func(c *gin.Context) {
			report, ok := lastReport()
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "no session has completed yet"})
				return
			}
			c.JSON(http.StatusOK, toReportResponse(report))
		})
		api.POST("/cancel", func(c *gin.Context) {
			sess.Cancel()
			c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
		})
	}

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}

func toReportResponse(r Report) ReportResponse {
	out := ReportResponse{State: r.State.String(), FaultReason: r.FaultReason}
	if !r.FinishedAt.IsZero() {
		out.DurationMS = int64(r.FinishedAt.Sub(r.StartedAt) / time.Millisecond)
	}
	for _, s := range r.Steps {
		sr := stepResponse{Partition: s.Entry, Op: string(s.Op), Skipped: s.Skipped}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		out.Steps = append(out.Steps, sr)
	}
	return out
}
