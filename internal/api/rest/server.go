package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/api/websocket"
	"github.com/KevinKickass/SensorIntegration/internal/auth"
	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/metrics"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	svc    Services
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
	health healthcheck.Handler
}

func NewServer(cfg config.ServerConfig, svc Services, wsHub *websocket.Hub, health healthcheck.Handler, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		svc:    svc,
		logger: logger,
		wsHub:  wsHub,
		health: health,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	s.router.Use(ginzap.RecoveryWithZap(s.logger, true))
	s.router.Use(metricsMiddleware())
	s.router.Use(corsMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	if s.health != nil {
		s.router.GET("/live", gin.WrapF(s.health.LiveEndpoint))
		s.router.GET("/ready", gin.WrapF(s.health.ReadyEndpoint))
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authn := s.svc.Accounts.AuthMiddleware()
	operator := auth.RequirePermission(auth.PermOperator)
	technician := auth.RequirePermission(auth.PermTechnician)
	admin := auth.RequirePermission(auth.PermAdmin)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ENDPOINTS (PUBLIC) ====================
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/register", s.register)
			authPublic.POST("/login", s.login)
			authPublic.POST("/refresh", s.refreshToken)
		}

		// ==================== AUTH ENDPOINTS (AUTHENTICATED) ====================
		authProtected := v1.Group("/auth", authn)
		{
			authProtected.POST("/logout", s.logout)
			authProtected.POST("/logout-all", s.logoutAll)
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== ACCOUNTS (ADMIN ONLY) ====================
		accounts := v1.Group("/accounts", authn, admin)
		{
			accounts.POST("", s.createAccount)
			accounts.GET("", s.listAccounts)
			accounts.GET("/:id", s.getAccount)
			accounts.PATCH("/:id", s.updateAccount)
			accounts.POST("/:id/activate", s.activateAccount)
			accounts.DELETE("/:id", s.deleteAccount)
		}

		// ==================== GATEWAY TOKENS (ADMIN ONLY) ====================
		tokens := v1.Group("/gateway-tokens", authn, admin)
		{
			tokens.POST("", s.createGatewayToken)
			tokens.GET("", s.listGatewayTokens)
			tokens.DELETE("/:id", s.deleteGatewayToken)
		}

		// ==================== MACHINES ====================
		machines := v1.Group("/machines", authn)
		{
			// Read operations: Operator+
			machines.GET("", operator, s.listMachines)
			machines.GET("/count", operator, s.countMachines)
			machines.GET("/stats", operator, s.machineStats)
			machines.GET("/:id", operator, s.getMachine)
			machines.GET("/:id/exists", operator, s.machineExists)
			machines.GET("/:id/status", operator, s.machineStatus)
			machines.GET("/:id/availability", operator, s.machineAvailability)
			machines.GET("/:id/sensors", operator, s.machineSensors)
			machines.GET("/:id/sensors/count", operator, s.machineSensorCount)
			machines.GET("/:id/readings/latest", operator, s.machineLatestReadings)
			machines.GET("/:id/alerts", operator, s.machineAlerts)
			machines.GET("/:id/diagnostics", operator, s.machineDiagnostics)
			machines.GET("/:id/diagnostics/count", operator, s.machineDiagnosticCount)
			machines.GET("/:id/diagnostics/pending", operator, s.machineHasPending)
			machines.GET("/:id/reports", operator, s.machineReports)
			machines.GET("/:id/reports/unresolved-alerts", operator, s.machineReportsWithAlerts)

			// Write operations: Technician+
			machines.POST("", technician, s.createMachine)
			machines.PUT("/:id", technician, s.updateMachine)
			machines.POST("/:id/reports", technician, s.generateReport)
			machines.DELETE("/:id", admin, s.deleteMachine)
		}

		// ==================== SENSORS ====================
		sensors := v1.Group("/sensors", authn)
		{
			sensors.GET("", operator, s.listSensors)
			sensors.GET("/count", operator, s.countSensors)
			sensors.GET("/stats", operator, s.sensorStats)
			sensors.GET("/:id", operator, s.getSensor)
			sensors.GET("/:id/exists", operator, s.sensorExists)
			sensors.POST("/:id/check", operator, s.checkSensorValue)
			sensors.GET("/:id/readings", operator, s.sensorReadings)
			sensors.GET("/:id/readings/latest", operator, s.sensorLatestReadings)
			sensors.GET("/:id/readings/last", operator, s.sensorLastReading)
			sensors.GET("/:id/readings/live", operator, s.sensorLiveReading)
			sensors.GET("/:id/readings/average", operator, s.sensorAverage)
			sensors.GET("/:id/readings/out-of-threshold", operator, s.sensorOutOfThreshold)
			sensors.GET("/:id/readings/count", operator, s.sensorReadingCount)

			sensors.POST("", technician, s.createSensor)
			sensors.PUT("/:id", technician, s.updateSensor)
			sensors.DELETE("/:id", admin, s.deleteSensor)
		}

		// ==================== READINGS ====================
		readings := v1.Group("/readings", authn)
		{
			readings.POST("", auth.RequirePermission(auth.PermIngest), s.createReading)
			readings.POST("/batch", auth.RequirePermission(auth.PermIngest), s.createReadingBatch)

			readings.GET("", operator, s.listReadings)
			readings.GET("/:id", operator, s.getReading)
			readings.GET("/:id/in-threshold", operator, s.readingInThreshold)

			readings.PUT("/:id", technician, s.updateReading)
			readings.DELETE("/:id", technician, s.deleteReading)
		}

		// ==================== ALERTS ====================
		alerts := v1.Group("/alerts", authn)
		{
			alerts.GET("", operator, s.listAlerts)
			alerts.GET("/:id", operator, s.getAlert)
			alerts.POST("/:id/resolve", technician, s.resolveAlert)
		}

		// ==================== DIAGNOSTICS ====================
		diagnostics := v1.Group("/diagnostics", authn)
		{
			diagnostics.GET("", operator, s.listDiagnostics)
			diagnostics.GET("/count", operator, s.countDiagnostics)
			diagnostics.GET("/stats", operator, s.diagnosticStats)
			diagnostics.GET("/recent", operator, s.recentDiagnostics)
			diagnostics.GET("/critical", operator, s.criticalDiagnostics)
			diagnostics.GET("/active", operator, s.activeDiagnostics)
			diagnostics.GET("/completed", operator, s.completedDiagnostics)
			diagnostics.POST("/classify", operator, s.classifyDiagnostic)
			diagnostics.GET("/:id", operator, s.getDiagnostic)

			diagnostics.POST("", technician, s.createDiagnostic)
			diagnostics.PUT("/:id", technician, s.updateDiagnostic)
			diagnostics.PATCH("/:id/status", technician, s.updateDiagnosticStatus)
			diagnostics.DELETE("/:id", admin, s.deleteDiagnostic)
		}

		// ==================== REPORTS ====================
		reports := v1.Group("/reports", authn)
		{
			reports.GET("/search", operator, s.searchReports)
			reports.GET("/counts", operator, s.reportCounts)
			reports.GET("/:id", operator, s.getReport)
			reports.GET("/:id/pdf", operator, s.exportReportPDF)
			reports.DELETE("/:id", admin, s.deleteReport)
		}

		// ==================== WORKFLOWS ====================
		workflows := v1.Group("/workflows", authn)
		{
			// Start & control: Technician+
			workflows.POST("/diagnostics", technician, s.startDiagnostic)
			workflows.POST("/diagnostics/bulk", technician, s.startBulkDiagnostics)
			workflows.POST("/maintenance", technician, s.scheduleMaintenance)
			workflows.POST("/executions/:id/signal", technician, s.signalExecution)
			workflows.POST("/executions/:id/cancel", technician, s.cancelExecution)
			workflows.POST("/executions/:id/terminate", admin, s.terminateExecution)

			// Read: Operator+
			workflows.GET("/executions", operator, s.listExecutions)
			workflows.GET("/executions/:id", operator, s.getExecution)
			workflows.GET("/executions/:id/events", operator, s.getExecutionEvents)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system", authn)
		{
			system.GET("/status", operator, s.getSystemStatus)
			system.POST("/shutdown", admin, s.shutdown)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", authn, operator, s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	s.wsHub.ServeWs(c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
