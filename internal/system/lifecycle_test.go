package system

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/config"
	"github.com/KevinKickass/OdinBridge/internal/controller"
	"github.com/KevinKickass/OdinBridge/internal/odin/odintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const fpTree = `{
	"0": {
		"status": {"hdf": {"frames_written": {"value": 0, "type": "int", "writeable": false}}},
		"config": {"hdf": {"file": {"path": {"value": "/tmp", "type": "str", "writeable": true}}}}
	}
}`

func newManager(t *testing.T, srv *odintest.Server) *LifecycleManager {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	cfg.Odin.Host = host
	cfg.Odin.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Odin.PollInterval = 10 * time.Millisecond
	cfg.Odin.DiscoveryAttempts = 1
	cfg.Server.HTTPPort = 0
	cfg.Server.GRPCPort = 0

	lm, err := NewLifecycleManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { lm.Shutdown(context.Background()) })
	return lm
}

func servingStatus(t *testing.T, lm *LifecycleManager) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := lm.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	return resp.Status
}

func TestStartDiscoversAndPolls(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)
	lm := newManager(t, srv)

	require.NoError(t, lm.Start(context.Background()))
	assert.Equal(t, StateRunning, lm.getState())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(t, lm))

	status := lm.GetCurrentStatus()
	assert.Equal(t, "RUNNING", status.State)
	assert.Equal(t, "ready", status.Discovery)
	assert.Equal(t, 1, status.Adapters)
	assert.Equal(t, 2, status.Attributes)
	assert.True(t, status.Connected)
	assert.NotEmpty(t, status.SnapshotID)

	node, ok := lm.Composer().Root().Find("fp.0")
	require.True(t, ok)
	written, ok := node.Attributes().Get("frames_written")
	require.True(t, ok)

	require.True(t, srv.SetValue("fp/0/status/hdf/frames_written", json.Number("9")))
	assert.Eventually(t, func() bool { return written.Value() == int64(9) }, 2*time.Second, 10*time.Millisecond)
}

func TestRediscoverFailureKeepsTree(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)
	lm := newManager(t, srv)
	require.NoError(t, lm.Start(context.Background()))
	root := lm.Composer().Root()

	srv.Fail("adapters", true)
	_, err := lm.Rediscover(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, lm.getState())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, lm))
	assert.Same(t, root, lm.Composer().Root())
	assert.True(t, lm.scanner.IsRunning())

	status := lm.GetCurrentStatus()
	assert.Equal(t, "ERROR", status.State)
	assert.Equal(t, "failed", status.Discovery)
	assert.NotEmpty(t, status.Error)

	srv.Fail("adapters", false)
	report, err := lm.Rediscover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, lm.getState())
	assert.Equal(t, report.ID.String(), lm.GetCurrentStatus().SnapshotID)
	assert.NotSame(t, root, lm.Composer().Root())
	assert.Empty(t, lm.GetCurrentStatus().Error)
}

func TestStartWithUnreachableOdinStaysUp(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.Fail("adapters", true)
	lm := newManager(t, srv)

	require.NoError(t, lm.Start(context.Background()))
	assert.Equal(t, StateError, lm.getState())
	assert.Equal(t, controller.StateFailed, lm.Composer().State())
}

func TestShutdownStopsEverything(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)
	lm := newManager(t, srv)
	require.NoError(t, lm.Start(context.Background()))

	require.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, lm.getState())
	assert.False(t, lm.scanner.IsRunning())
	assert.False(t, lm.Composer().Connected())

	select {
	case <-lm.Done():
	default:
		t.Fatal("done channel not closed")
	}

	require.NoError(t, lm.Shutdown(context.Background()))
	_, err := lm.Rediscover(context.Background())
	assert.Error(t, err)
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateDiscovering))
	assert.NoError(t, ValidateTransition(StateDiscovering, StateRunning))
	assert.NoError(t, ValidateTransition(StateRunning, StateDiscovering))
	assert.NoError(t, ValidateTransition(StateError, StateDiscovering))
	assert.NoError(t, ValidateTransition(StateRunning, StateStopping))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(StateStopping, StateDiscovering))
	assert.Equal(t, "UNKNOWN", SystemState(42).String())
}
