package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/acquisition/modbus"
	"github.com/KevinKickass/SensorIntegration/internal/acquisition/mqtt"
	"github.com/KevinKickass/SensorIntegration/internal/api/rest"
	"github.com/KevinKickass/SensorIntegration/internal/api/rpc"
	"github.com/KevinKickass/SensorIntegration/internal/api/websocket"
	"github.com/KevinKickass/SensorIntegration/internal/auth"
	"github.com/KevinKickass/SensorIntegration/internal/catalog"
	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/diagnostics"
	"github.com/KevinKickass/SensorIntegration/internal/interfaces"
	"github.com/KevinKickass/SensorIntegration/internal/machines"
	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/readings"
	"github.com/KevinKickass/SensorIntegration/internal/reports"
	"github.com/KevinKickass/SensorIntegration/internal/seed"
	"github.com/KevinKickass/SensorIntegration/internal/sensors"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/engine"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/streaming"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const pingTimeout = 2 * time.Second

// LifecycleManager builds every component, starts them in dependency order
// and tears them down again.
type LifecycleManager struct {
	config  *config.Config
	storage *storage.PostgresClient
	redis   *storage.RedisStore
	logger  *zap.Logger

	auth        *auth.AuthService
	machines    *machines.Service
	sensors     *sensors.Service
	readings    *readings.Service
	diagnostics *diagnostics.Service
	reports     *reports.Service
	alerts      *monitoring.AlertService
	broker      *monitoring.Broker
	evaluator   *monitoring.Evaluator
	streamer    *streaming.EventStreamer
	engine      *engine.Engine
	hub         *websocket.Hub
	health      healthcheck.Handler

	poller     *modbus.Poller
	subscriber *mqtt.Subscriber
	restServer *rest.Server
	grpcServer *rpc.Server

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time
	components   map[string]string

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(db *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	return &LifecycleManager{
		config:       cfg,
		storage:      db,
		logger:       logger,
		currentState: StateInitializing,
		components:   make(map[string]string),
		shutdownChan: make(chan struct{}),
	}
}

// Done is closed once Shutdown has finished, whoever triggered it.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

// Start brings the system up. Infrastructure errors abort the start;
// optional pieces (Redis, seed, bootstrap admin) only log.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting SensorIntegration")
	lm.startedAt = time.Now()

	if err := lm.storage.Migrate(ctx); err != nil {
		return lm.fail(fmt.Errorf("failed to migrate schema: %w", err))
	}
	lm.setComponent("postgres", "up")

	lm.connectRedis(ctx)
	lm.buildServices()

	if err := lm.auth.BootstrapAdmin(ctx); err != nil {
		lm.logger.Warn("Bootstrap admin not created", zap.Error(err))
	}

	bindings, err := lm.importCatalog(ctx)
	if err != nil {
		return lm.abort(err)
	}

	if _, err := seed.NewSeeder(lm.machines, lm.sensors, lm.diagnostics, lm.config.Seed, lm.logger).Run(ctx); err != nil {
		lm.logger.Warn("Seeding failed", zap.Error(err))
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	lm.bgCancel = cancel

	lm.bgWG.Add(2)
	go func() {
		defer lm.bgWG.Done()
		lm.hub.Run(bgCtx)
	}()
	go func() {
		defer lm.bgWG.Done()
		lm.hub.ForwardWorkflowEvents(bgCtx, lm.streamer)
	}()
	lm.evaluator.Start(bgCtx)

	if err := lm.engine.Recover(ctx); err != nil {
		lm.logger.Warn("Workflow recovery incomplete", zap.Error(err))
	}
	lm.setComponent("workflow", "running")

	if err := lm.startAcquisition(bgCtx, bindings); err != nil {
		return lm.abort(err)
	}

	if err := lm.startGRPCServer(); err != nil {
		return lm.abort(fmt.Errorf("failed to start gRPC: %w", err))
	}

	lm.restServer = rest.NewServer(lm.config.Server, lm.services(), lm.hub, lm.health, lm.logger)
	if err := lm.restServer.Start(); err != nil {
		return lm.abort(fmt.Errorf("failed to start REST API: %w", err))
	}

	lm.setState(StateRunning)
	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort))

	return nil
}

func (lm *LifecycleManager) connectRedis(ctx context.Context) {
	if !lm.config.Redis.Enabled {
		lm.setComponent("redis", "disabled")
		return
	}

	r, err := storage.NewRedisStore(ctx, lm.config.Redis)
	if err != nil {
		// alert dedup falls back to memory, live snapshots are unavailable
		lm.logger.Warn("Redis unavailable, continuing without it", zap.Error(err))
		lm.setComponent("redis", "unavailable")
		return
	}
	lm.redis = r
	lm.setComponent("redis", "up")
}

func (lm *LifecycleManager) buildServices() {
	cfg := lm.config
	db := lm.storage

	lm.auth = auth.NewAuthService(db, cfg.Auth, lm.logger)
	lm.hub = websocket.NewHub(lm.logger, lm.auth)
	lm.broker = monitoring.NewBroker()
	lm.streamer = streaming.NewEventStreamer()

	notifiers := []monitoring.Notifier{lm.broker, lm.hub}
	var dedup monitoring.Deduper = monitoring.NewMemoryDeduper()
	if lm.redis != nil {
		dedup = monitoring.NewRedisDeduper(lm.redis)
		notifiers = append(notifiers, monitoring.NewRedisPublisher(lm.redis, lm.logger))
	}
	lm.evaluator = monitoring.NewEvaluator(db, dedup, cfg.Monitoring, lm.logger, notifiers...)
	lm.alerts = monitoring.NewAlertService(db, lm.logger)

	lm.machines = machines.NewService(db, cfg.Monitoring.OfflineAfter, lm.logger)
	lm.sensors = sensors.NewService(db, lm.logger)
	lm.diagnostics = diagnostics.NewService(db, lm.logger)
	lm.reports = reports.NewService(db, cfg.Reports, lm.logger)

	lm.readings = readings.NewService(db, lm.evaluator, lm.logger, lm.hub)
	if lm.redis != nil {
		lm.readings.AddSink(readings.NewSnapshotSink(lm.redis, cfg.Monitoring.SnapshotTTL, lm.logger))
		lm.readings.UseSnapshots(lm.redis)
	}

	lm.engine = engine.NewEngine(db, lm.diagnostics, lm.machines, lm.streamer, cfg.Workflow, lm.logger, notifiers...)

	lm.health = healthcheck.NewHandler()
	lm.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	lm.health.AddReadinessCheck("postgres", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		return lm.storage.Ping(ctx)
	})
	if lm.redis != nil {
		lm.health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			defer cancel()
			return lm.redis.Ping(ctx)
		})
	}
}

func (lm *LifecycleManager) services() rest.Services {
	return rest.Services{
		Machines:    lm.machines,
		Sensors:     lm.sensors,
		Readings:    lm.readings,
		Alerts:      lm.alerts,
		Diagnostics: lm.diagnostics,
		Reports:     lm.reports,
		Accounts:    lm.auth,
		Workflows:   lm.engine,
		Lifecycle:   lm,
	}
}

func (lm *LifecycleManager) importCatalog(ctx context.Context) ([]catalog.Binding, error) {
	path := lm.config.Catalog.Path
	if path == "" {
		lm.setComponent("catalog", "none")
		return nil, nil
	}

	loader, err := catalog.NewLoader()
	if err != nil {
		return nil, err
	}
	c, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	res, err := catalog.NewImporter(lm.storage, lm.logger).Import(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to import catalog: %w", err)
	}
	lm.setComponent("catalog", fmt.Sprintf("%d machines", len(c.Machines)))
	return res.Bindings, nil
}

func (lm *LifecycleManager) startAcquisition(ctx context.Context, bindings []catalog.Binding) error {
	if lm.config.Modbus.Enabled {
		poller, err := modbus.NewPoller(bindings, lm.readings, lm.config.Modbus, lm.logger)
		if err != nil {
			return fmt.Errorf("failed to configure Modbus poller: %w", err)
		}
		lm.poller = poller
		lm.poller.Start(ctx)
		lm.setComponent("modbus", fmt.Sprintf("polling %d sensors", poller.Len()))
	} else {
		lm.setComponent("modbus", "disabled")
	}

	if lm.config.MQTT.Enabled {
		lm.subscriber = mqtt.NewSubscriber(lm.config.MQTT, bindings, lm.readings, lm.logger)
		lm.subscriber.Start(ctx)
		lm.health.AddReadinessCheck("mqtt", lm.subscriber.CheckConnected())
	} else {
		lm.setComponent("mqtt", "disabled")
	}
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = rpc.NewServer(lm.auth,
		rpc.NewSensorService(lm.readings, lm.broker, lm.logger),
		rpc.NewWorkflowService(lm.engine, lm.streamer),
		lm.logger)

	go func() {
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the system. Only the first call does work.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	// 1. stop intake: servers and acquisition in parallel
	var wg sync.WaitGroup
	errChan := make(chan error, 4)

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lm.restServer.Shutdown(ctx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.grpcServer.GracefulStop()
		}()
	}
	if lm.poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.poller.Stop()
		}()
	}
	if lm.subscriber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.subscriber.Stop()
		}()
	}

	if err := waitOrTimeout(ctx, &wg); err != nil {
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return err
	}
	close(errChan)
	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	// 2. drain workflows and the alert queue
	if lm.engine != nil {
		if err := lm.engine.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("workflow engine stop failed: %w", err))
		}
	}
	if lm.evaluator != nil {
		lm.evaluator.Stop()
	}

	// 3. background loops
	if lm.bgCancel != nil {
		lm.bgCancel()
		if err := waitOrTimeout(ctx, &lm.bgWG); err != nil {
			errs = append(errs, err)
		}
	}

	if lm.redis != nil {
		if err := lm.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close failed: %w", err))
		}
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func waitOrTimeout(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (lm *LifecycleManager) fail(err error) error {
	lm.logger.Error("Startup failed", zap.Error(err))
	lm.setState(StateError)
	return err
}

// abort fails the start and tears down whatever Start already launched.
func (lm *LifecycleManager) abort(err error) error {
	err = lm.fail(err)

	timeout := lm.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if sErr := lm.Shutdown(ctx); sErr != nil {
		lm.logger.Warn("Cleanup after failed start incomplete", zap.Error(sErr))
	}
	return err
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if lm.currentState.Terminal() {
		return
	}
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setComponent(name, status string) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.components[name] = status
}

// GetCurrentStatus returns current system status
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	components := make(map[string]string, len(lm.components)+1)
	for k, v := range lm.components {
		components[k] = v
	}
	status := interfaces.SystemStatus{
		State:     lm.currentState.String(),
		StartedAt: lm.startedAt,
	}
	lm.stateMu.RUnlock()

	if lm.subscriber != nil {
		components["mqtt"] = "connected"
		if err := lm.subscriber.CheckConnected()(); err != nil {
			components["mqtt"] = "disconnected"
		}
	}
	if !status.StartedAt.IsZero() {
		status.UptimeSeconds = int64(time.Since(status.StartedAt).Seconds())
	}
	if lm.hub != nil {
		status.WSClients = lm.hub.GetClientCount()
	}
	status.Components = components
	return status
}
