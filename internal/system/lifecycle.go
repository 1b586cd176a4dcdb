package system

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/api/rest"
	"github.com/KevinKickass/OdinBridge/internal/api/websocket"
	"github.com/KevinKickass/OdinBridge/internal/attributes"
	"github.com/KevinKickass/OdinBridge/internal/auth"
	"github.com/KevinKickass/OdinBridge/internal/config"
	"github.com/KevinKickass/OdinBridge/internal/controller"
	"github.com/KevinKickass/OdinBridge/internal/interfaces"
	"github.com/KevinKickass/OdinBridge/internal/metrics"
	"github.com/KevinKickass/OdinBridge/internal/odin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type LifecycleManager struct {
	config      *config.Config
	logger      *zap.Logger
	conn        *odin.Connection
	composer    *controller.Composer
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	authService *auth.Service
	wsHub       *websocket.Hub
	hubCancel   context.CancelFunc

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server

	discoverMu sync.Mutex
	scanner    *attributes.Scanner
	boundRoot  *controller.Controller

	stateMu      sync.RWMutex
	currentState SystemState
	lastErr      error

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	conn := odin.NewConnection(cfg.Odin.Host, cfg.Odin.Port, cfg.Odin.RequestTimeout)
	composer, err := controller.NewComposer(conn, controller.Options{
		Composition:  cfg.Odin.Composition(),
		UpdatePeriod: cfg.Odin.PollInterval,
		VerifyWrites: cfg.Odin.VerifyWrites,
		Attempts:     cfg.Odin.DiscoveryAttempts,
		RetryDelay:   cfg.Odin.DiscoveryRetryDelay,
		Observer:     m,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create composer: %w", err)
	}

	authService := auth.NewService(auth.Options{
		Enabled:            cfg.Auth.Enabled,
		Secret:             cfg.Auth.GetJWTSecret(),
		AccessTokenTTL:     cfg.Auth.AccessTokenTTL,
		MachineTokenHashes: cfg.Auth.MachineTokenHashes,
	}, logger)

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		conn:         conn,
		composer:     composer,
		registry:     registry,
		metrics:      m,
		authService:  authService,
		wsHub:        websocket.NewHub(logger, authService),
		health:       health.NewServer(),
		scanner:      attributes.NewScanner(logger, m),
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}
	lm.restServer = rest.NewServer(cfg, lm, logger, lm.wsHub, authService, registry)
	return lm, nil
}

// Start brings up the hosting surfaces and runs the first discovery. A
// failed discovery leaves the bridge up in ERROR so that it can be
// retried through the API.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting odin bridge",
		zap.String("odin_host", lm.config.Odin.Host),
		zap.Int("odin_port", lm.config.Odin.Port))

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(hubCtx)

	if err := lm.composer.Connect(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to connect to odin server: %w", err)
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	if err := lm.restServer.Start(); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	if _, err := lm.Rediscover(ctx); err != nil {
		lm.logger.Error("Initial discovery failed", zap.Error(err))
	}

	lm.logger.Info("System started",
		zap.String("state", lm.getState().String()),
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort))
	return nil
}

// Rediscover stops polling, rebuilds the tree and resumes polling on
// whatever tree the composer now holds.
func (lm *LifecycleManager) Rediscover(ctx context.Context) (*controller.DiscoveryReport, error) {
	lm.discoverMu.Lock()
	defer lm.discoverMu.Unlock()

	if err := lm.setState(StateDiscovering); err != nil {
		return nil, err
	}
	lm.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	lm.scanner.Stop()
	report, err := lm.composer.Discover(ctx)
	lm.metrics.ObserveDiscovery(lm.composer.Root(), report, err)
	lm.startScanner()

	if err != nil {
		lm.setError(err)
		return report, err
	}

	root := lm.composer.Root()
	lm.wsHub.Broadcast(websocket.NewDiscoveryMessage(report.ID.String(), root.AttributeCount(), report.Failed()))
	lm.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if err := lm.setState(StateRunning); err != nil {
		return report, err
	}
	return report, nil
}

func (lm *LifecycleManager) startScanner() {
	root := lm.composer.Root()
	if root != lm.boundRoot {
		for _, node := range root.Nodes() {
			listener := lm.wsHub.AttributeListener(node.ID())
			for _, attr := range node.Attributes().List() {
				attr.OnUpdate(listener)
			}
		}
		lm.scanner = attributes.NewScanner(lm.logger, lm.metrics)
		lm.scanner.Add(root.Tasks()...)
		lm.boundRoot = root
	}

	if err := lm.scanner.Start(); err != nil {
		lm.logger.Error("Failed to start scanner", zap.Error(err))
	}
}

// Shutdown stops polling before the servers and closes the odin
// connection last.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Unexpected state on shutdown", zap.Error(err))
		}

		lm.discoverMu.Lock()
		lm.scanner.Stop()
		lm.discoverMu.Unlock()

		shutdownErr = lm.gracefulShutdown(ctx)
		shutdownErr = multierr.Append(shutdownErr, lm.composer.Close())

		if err := lm.setState(StateStopped); err != nil {
			lm.logger.Warn("Unexpected state on shutdown", zap.Error(err))
		}
		if lm.hubCancel != nil {
			lm.hubCancel()
		}
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
		}
	}()

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.health.Shutdown()
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		return fmt.Errorf("shutdown timeout exceeded")
	}

	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)
	lm.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) getState() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	prev := lm.currentState
	if err := ValidateTransition(prev, state); err != nil {
		lm.stateMu.Unlock()
		return err
	}
	lm.currentState = state
	if state != StateError {
		lm.lastErr = nil
	}
	lm.stateMu.Unlock()

	lm.logger.Debug("System state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", state))
	lm.wsHub.Broadcast(websocket.NewSystemStateMessage(state.String(), prev.String()))
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	if stateErr := lm.setState(StateError); stateErr != nil {
		lm.logger.Warn("Cannot enter error state", zap.Error(stateErr))
	}
	lm.stateMu.Lock()
	lm.lastErr = err
	lm.stateMu.Unlock()
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	status := interfaces.SystemStatus{
		State:     lm.currentState.String(),
		Timestamp: time.Now().Unix(),
	}
	if lm.lastErr != nil {
		status.Error = lm.lastErr.Error()
	}
	lm.stateMu.RUnlock()

	root := lm.composer.Root()
	status.Discovery = lm.composer.State().String()
	status.Adapters = len(root.Children())
	status.Attributes = root.AttributeCount()
	status.Connected = lm.composer.Connected()
	if report := lm.composer.Report(); report != nil {
		status.SnapshotID = report.ID.String()
		status.FailedAdapters = report.Failed()
	}
	return status
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Composer() *controller.Composer {
	return lm.composer
}

// Handler exposes the REST router.
func (lm *LifecycleManager) Handler() http.Handler {
	return lm.restServer.Handler()
}
