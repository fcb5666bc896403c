package sensors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// activeWindow is how recent a reading must be for a sensor to count as active.
const activeWindow = 24 * time.Hour

type Store interface {
	CreateSensor(ctx context.Context, s *storage.Sensor) error
	GetSensor(ctx context.Context, id int64) (*storage.Sensor, error)
	ListSensors(ctx context.Context) ([]*storage.Sensor, error)
	UpdateSensor(ctx context.Context, s *storage.Sensor) error
	DeleteSensor(ctx context.Context, id int64) error
	SensorsByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.Sensor, error)
	SensorsByType(ctx context.Context, sensorType string) ([]*storage.Sensor, error)
	SensorsByMachineAndType(ctx context.Context, machineID uuid.UUID, sensorType string) ([]*storage.Sensor, error)
	SensorsByThresholdRange(ctx context.Context, min, max float64) ([]*storage.Sensor, error)
	SensorsWithReadingsSince(ctx context.Context, since time.Time) ([]*storage.Sensor, error)
	SensorExists(ctx context.Context, id int64) (bool, error)
	CountSensors(ctx context.Context) (int64, error)
	CountSensorsByMachine(ctx context.Context, machineID uuid.UUID) (int64, error)
	SensorStats(ctx context.Context) (*storage.SensorStats, error)
	MachineExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Input struct {
	MachineID    uuid.UUID `json:"machine_id"`
	Type         string    `json:"type"`
	Unit         string    `json:"unit"`
	MinThreshold *float64  `json:"min_threshold"`
	MaxThreshold *float64  `json:"max_threshold"`
}

func (in Input) validate() error {
	if in.MachineID == uuid.Nil {
		return fmt.Errorf("%w: machine_id is required", types.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Type) == "" {
		return fmt.Errorf("%w: sensor type is required", types.ErrInvalidInput)
	}
	if in.MinThreshold != nil && in.MaxThreshold != nil && *in.MinThreshold > *in.MaxThreshold {
		return fmt.Errorf("%w: min_threshold %.2f is above max_threshold %.2f",
			types.ErrInvalidInput, *in.MinThreshold, *in.MaxThreshold)
	}
	return nil
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) checkMachine(ctx context.Context, id uuid.UUID) error {
	exists, err := s.store.MachineExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("machine %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in Input) (*storage.Sensor, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.checkMachine(ctx, in.MachineID); err != nil {
		return nil, err
	}

	sensor := &storage.Sensor{
		MachineID:    in.MachineID,
		Type:         strings.TrimSpace(in.Type),
		Unit:         in.Unit,
		MinThreshold: in.MinThreshold,
		MaxThreshold: in.MaxThreshold,
	}
	if err := s.store.CreateSensor(ctx, sensor); err != nil {
		return nil, err
	}
	s.logger.Info("Sensor created",
		zap.Int64("sensor_id", sensor.ID),
		zap.String("machine_id", sensor.MachineID.String()),
		zap.String("type", sensor.Type))
	return sensor, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*storage.Sensor, error) {
	return s.store.GetSensor(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*storage.Sensor, error) {
	return s.store.ListSensors(ctx)
}

func (s *Service) Update(ctx context.Context, id int64, in Input) (*storage.Sensor, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.checkMachine(ctx, in.MachineID); err != nil {
		return nil, err
	}

	sensor := &storage.Sensor{
		ID:           id,
		MachineID:    in.MachineID,
		Type:         strings.TrimSpace(in.Type),
		Unit:         in.Unit,
		MinThreshold: in.MinThreshold,
		MaxThreshold: in.MaxThreshold,
	}
	if err := s.store.UpdateSensor(ctx, sensor); err != nil {
		return nil, err
	}
	return sensor, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteSensor(ctx, id)
}

func (s *Service) ByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.Sensor, error) {
	return s.store.SensorsByMachine(ctx, machineID)
}

func (s *Service) ByType(ctx context.Context, sensorType string) ([]*storage.Sensor, error) {
	return s.store.SensorsByType(ctx, sensorType)
}

func (s *Service) ByMachineAndType(ctx context.Context, machineID uuid.UUID, sensorType string) ([]*storage.Sensor, error) {
	return s.store.SensorsByMachineAndType(ctx, machineID, sensorType)
}

func (s *Service) ByThresholdRange(ctx context.Context, min, max float64) ([]*storage.Sensor, error) {
	if min > max {
		return nil, fmt.Errorf("%w: min %.2f is above max %.2f", types.ErrInvalidInput, min, max)
	}
	return s.store.SensorsByThresholdRange(ctx, min, max)
}

// Active returns sensors that reported during the last 24 hours.
func (s *Service) Active(ctx context.Context) ([]*storage.Sensor, error) {
	return s.store.SensorsWithReadingsSince(ctx, time.Now().Add(-activeWindow))
}

func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	return s.store.SensorExists(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountSensors(ctx)
}

func (s *Service) CountByMachine(ctx context.Context, machineID uuid.UUID) (int64, error) {
	return s.store.CountSensorsByMachine(ctx, machineID)
}

func (s *Service) Stats(ctx context.Context) (*storage.SensorStats, error) {
	return s.store.SensorStats(ctx)
}

// IsValueOutOfThreshold checks value against the sensor's thresholds and
// logs a warning on a breach.
func (s *Service) IsValueOutOfThreshold(sensor *storage.Sensor, value float64) bool {
	breach := monitoring.Evaluate(sensor, value)
	if breach == nil {
		return false
	}
	s.logger.Warn("Sensor value out of threshold",
		zap.Int64("sensor_id", sensor.ID),
		zap.String("sensor_type", sensor.Type),
		zap.Float64("value", value),
		zap.String("direction", string(breach.Direction)),
		zap.Float64("limit", breach.Limit))
	return true
}
