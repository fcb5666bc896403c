package rest

import (
	"context"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/auth"
	"github.com/KevinKickass/SensorIntegration/internal/diagnostics"
	"github.com/KevinKickass/SensorIntegration/internal/interfaces"
	"github.com/KevinKickass/SensorIntegration/internal/machines"
	"github.com/KevinKickass/SensorIntegration/internal/readings"
	"github.com/KevinKickass/SensorIntegration/internal/sensors"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/definition"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/engine"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MachineService interface {
	Create(ctx context.Context, in machines.Input) (*storage.Machine, error)
	Get(ctx context.Context, id uuid.UUID) (*storage.Machine, error)
	List(ctx context.Context) ([]*storage.Machine, error)
	Update(ctx context.Context, id uuid.UUID, in machines.Input) (*storage.Machine, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SearchByLocation(ctx context.Context, location string) ([]*storage.Machine, error)
	SearchByName(ctx context.Context, name string) ([]*storage.Machine, error)
	ByType(ctx context.Context, machineType string) ([]*storage.Machine, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*storage.MachineStats, error)
	Status(ctx context.Context, id uuid.UUID) (*machines.MachineStatus, error)
	AvailableForDiagnostic(ctx context.Context, id uuid.UUID) (bool, error)
}

type SensorService interface {
	Create(ctx context.Context, in sensors.Input) (*storage.Sensor, error)
	Get(ctx context.Context, id int64) (*storage.Sensor, error)
	List(ctx context.Context) ([]*storage.Sensor, error)
	Update(ctx context.Context, id int64, in sensors.Input) (*storage.Sensor, error)
	Delete(ctx context.Context, id int64) error
	ByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.Sensor, error)
	ByType(ctx context.Context, sensorType string) ([]*storage.Sensor, error)
	ByMachineAndType(ctx context.Context, machineID uuid.UUID, sensorType string) ([]*storage.Sensor, error)
	ByThresholdRange(ctx context.Context, min, max float64) ([]*storage.Sensor, error)
	Active(ctx context.Context) ([]*storage.Sensor, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Count(ctx context.Context) (int64, error)
	CountByMachine(ctx context.Context, machineID uuid.UUID) (int64, error)
	Stats(ctx context.Context) (*storage.SensorStats, error)
	IsValueOutOfThreshold(sensor *storage.Sensor, value float64) bool
}

type ReadingService interface {
	Create(ctx context.Context, in readings.NewReading, source string) (*readings.Accepted, error)
	CreateBatch(ctx context.Context, in []readings.NewReading, source string) ([]*readings.Accepted, error)
	Update(ctx context.Context, id int64, in readings.NewReading) (*readings.Accepted, error)
	Get(ctx context.Context, id int64) (*storage.Reading, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f storage.ReadingFilter) ([]*storage.Reading, error)
	BySensorPaged(ctx context.Context, sensorID int64, req types.PageRequest) (types.Page[*storage.Reading], error)
	BySensorAndDateRange(ctx context.Context, sensorID int64, from, to time.Time) ([]*storage.Reading, error)
	LatestBySensor(ctx context.Context, sensorID int64, limit int) ([]*storage.Reading, error)
	LatestSingle(ctx context.Context, sensorID int64) (*storage.Reading, error)
	Live(ctx context.Context, sensorID int64) (*storage.Reading, error)
	Average(ctx context.Context, sensorID int64) (*float64, error)
	AverageInRange(ctx context.Context, sensorID int64, from, to time.Time) (*float64, error)
	OutOfThreshold(ctx context.Context, sensorID int64) ([]*storage.Reading, error)
	Count(ctx context.Context, sensorID int64) (int64, error)
	CountOutOfThreshold(ctx context.Context, sensorID int64) (int64, error)
	IsInThreshold(ctx context.Context, readingID int64) (bool, error)
	LatestByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.SensorReading, error)
}

type AlertService interface {
	List(ctx context.Context, machineID *uuid.UUID, unresolvedOnly bool, limit int) ([]*storage.Alert, error)
	Get(ctx context.Context, id int64) (*storage.Alert, error)
	Resolve(ctx context.Context, id int64) (*storage.Alert, error)
}

type DiagnosticService interface {
	Create(ctx context.Context, in diagnostics.Input) (*storage.Diagnostic, error)
	Get(ctx context.Context, id uuid.UUID) (*storage.Diagnostic, error)
	Update(ctx context.Context, id uuid.UUID, in diagnostics.Input) (*storage.Diagnostic, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status, interventionDetails string) (*storage.Diagnostic, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Find(ctx context.Context, f storage.DiagnosticFilter) ([]*storage.Diagnostic, error)
	ByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.Diagnostic, error)
	Count(ctx context.Context) (int64, error)
	CountByMachine(ctx context.Context, machineID uuid.UUID) (int64, error)
	Recent(ctx context.Context) ([]*storage.Diagnostic, error)
	Critical(ctx context.Context) ([]*storage.Diagnostic, error)
	Active(ctx context.Context) ([]*storage.Diagnostic, error)
	Completed(ctx context.Context) ([]*storage.Diagnostic, error)
	LatestByMachine(ctx context.Context, machineID uuid.UUID, limit int) ([]*storage.Diagnostic, error)
	Stats(ctx context.Context) (*diagnostics.Stats, error)
	HasPending(ctx context.Context, machineID uuid.UUID) (bool, error)
}

type ReportService interface {
	Generate(ctx context.Context, machineID uuid.UUID) (*storage.Report, error)
	Get(ctx context.Context, id int64) (*storage.Report, error)
	ExportPDF(ctx context.Context, id int64) ([]byte, error)
	Delete(ctx context.Context, id int64) error
	ByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.Report, error)
	SearchByMachineGeneratorAndDate(ctx context.Context, machineID uuid.UUID, generatedBy string, from, to time.Time) ([]*storage.Report, error)
	SearchByKeyword(ctx context.Context, keyword string, req types.PageRequest) (types.Page[*storage.Report], error)
	CountByMachineAndGenerator(ctx context.Context) ([]storage.ReportCount, error)
	RecentWithUnresolvedAlerts(ctx context.Context, machineID uuid.UUID, since time.Time) ([]*storage.Report, error)
}

type AccountService interface {
	AuthMiddleware() gin.HandlerFunc
	Register(ctx context.Context, username, password, firstName, lastName string) (*storage.Account, error)
	CreateAccount(ctx context.Context, in auth.NewAccount) (*storage.Account, error)
	SignIn(ctx context.Context, username, password, ipAddress, userAgent string) (*auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, accountID uuid.UUID) error
	GetAccount(ctx context.Context, id uuid.UUID) (*storage.Account, error)
	ListAccounts(ctx context.Context) ([]*storage.Account, error)
	Activate(ctx context.Context, id uuid.UUID) (*storage.Account, error)
	UpdateAccount(ctx context.Context, id uuid.UUID, changes auth.AccountChanges) (*storage.Account, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	CreateGatewayToken(ctx context.Context, name string, permissions []string, machineID, createdBy *uuid.UUID) (string, *storage.GatewayToken, error)
	ListGatewayTokens(ctx context.Context) ([]*storage.GatewayToken, error)
	DeleteGatewayToken(ctx context.Context, id uuid.UUID) error
}

type WorkflowEngine interface {
	StartDiagnostic(ctx context.Context, in definition.DiagnosticInput) (*storage.WorkflowExecution, error)
	RunDiagnostic(ctx context.Context, in definition.DiagnosticInput) (*storage.WorkflowExecution, *storage.Diagnostic, error)
	StartBulkDiagnostics(ctx context.Context, in definition.BulkDiagnosticInput) (*storage.WorkflowExecution, error)
	ScheduleMaintenance(ctx context.Context, in definition.MaintenanceInput) (*storage.WorkflowExecution, error)
	Status(ctx context.Context, id string) (*engine.ExecutionStatus, error)
	Events(ctx context.Context, id string) ([]*storage.ExecutionEvent, error)
	List(ctx context.Context, kind string, status storage.ExecutionStatus, limit int) ([]*storage.WorkflowExecution, error)
	SignalStatus(ctx context.Context, id string, sig definition.StatusSignal) (*storage.Diagnostic, error)
	Cancel(ctx context.Context, id string) error
	Terminate(ctx context.Context, id, reason string) error
}

// Services is everything the REST API serves.
type Services struct {
	Machines    MachineService
	Sensors     SensorService
	Readings    ReadingService
	Alerts      AlertService
	Diagnostics DiagnosticService
	Reports     ReportService
	Accounts    AccountService
	Workflows   WorkflowEngine
	Lifecycle   interfaces.LifecycleManager
}
