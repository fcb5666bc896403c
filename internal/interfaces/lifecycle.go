package interfaces

import (
	"context"
	"time"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State         string            `json:"state"`
	StartedAt     time.Time         `json:"started_at"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Components    map[string]string `json:"components"`
	WSClients     int               `json:"ws_clients"`
}

type LifecycleManager interface {
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
