package handler

import (
	"runtime"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
)

// Version is the gateway build version, overridden at link time
var Version = "dev"

// SystemHandler serves the unauthenticated /system endpoints
type SystemHandler struct {
	BaseHandler
	name     string
	started  time.Time
	revision string
	now      func() time.Time
}

func NewSystemHandler(name string) *SystemHandler {
	if name == "" {
		name = "CRM Integration Gateway"
	}
	return &SystemHandler{
		name:     name,
		started:  time.Now(),
		revision: vcsRevision(),
		now:      time.Now,
	}
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

type SystemInfoResponse struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Revision  string    `json:"revision,omitempty"`
	GoVersion string    `json:"go_version"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

// GetSystemInfo reports the build and how long the process has been up
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:      h.name,
		Version:   Version,
		Revision:  h.revision,
		GoVersion: runtime.Version(),
		StartedAt: h.started.UTC(),
		Uptime:    h.now().Sub(h.started).Round(time.Second).String(),
	})
}

type PingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{Message: "pong", Timestamp: h.now().UTC().Format(time.RFC3339)})
}
