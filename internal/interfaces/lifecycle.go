package interfaces

import (
	"context"

	"github.com/KevinKickass/OdinBridge/internal/config"
	"github.com/KevinKickass/OdinBridge/internal/controller"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State          string   `json:"state"`
	Discovery      string   `json:"discovery"`
	SnapshotID     string   `json:"snapshot_id,omitempty"`
	Adapters       int      `json:"adapters"`
	Attributes     int      `json:"attributes"`
	FailedAdapters []string `json:"failed_adapters,omitempty"`
	Connected      bool     `json:"connected"`
	Error          string   `json:"error,omitempty"`
	Timestamp      int64    `json:"timestamp"`
}

type LifecycleManager interface {
	Config() *config.Config
	Composer() *controller.Composer
	GetCurrentStatus() SystemStatus
	Rediscover(ctx context.Context) (*controller.DiscoveryReport, error)
	Shutdown(ctx context.Context) error
}
