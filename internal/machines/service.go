package machines

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	CreateMachine(ctx context.Context, m *storage.Machine) error
	GetMachine(ctx context.Context, id uuid.UUID) (*storage.Machine, error)
	ListMachines(ctx context.Context) ([]*storage.Machine, error)
	UpdateMachine(ctx context.Context, m *storage.Machine) error
	DeleteMachine(ctx context.Context, id uuid.UUID) error
	MachinesByLocation(ctx context.Context, location string) ([]*storage.Machine, error)
	MachinesByNameContaining(ctx context.Context, fragment string) ([]*storage.Machine, error)
	MachineExists(ctx context.Context, id uuid.UUID) (bool, error)
	CountMachines(ctx context.Context) (int64, error)
	MachineStats(ctx context.Context) (*storage.MachineStats, error)
	GetMachineActivity(ctx context.Context, id uuid.UUID, inProgressStatus string) (*storage.MachineActivity, error)
}

// Input is the writable part of a machine.
type Input struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: machine name is required", types.ErrInvalidInput)
	}
	return nil
}

type Service struct {
	store        Store
	logger       *zap.Logger
	offlineAfter time.Duration
	now          func() time.Time
}

func NewService(store Store, offlineAfter time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		logger:       logger,
		offlineAfter: offlineAfter,
		now:          time.Now,
	}
}

func (s *Service) Create(ctx context.Context, in Input) (*storage.Machine, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	m := &storage.Machine{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Location:    in.Location,
	}
	if err := s.store.CreateMachine(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info("Machine created", zap.String("machine_id", m.ID.String()), zap.String("name", m.Name))
	return m, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*storage.Machine, error) {
	return s.store.GetMachine(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*storage.Machine, error) {
	return s.store.ListMachines(ctx)
}

// Update replaces name, description and location.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (*storage.Machine, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	m := &storage.Machine{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Location:    in.Location,
	}
	if err := s.store.UpdateMachine(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes the machine with its sensors, readings, diagnostics,
// reports and alerts.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteMachine(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Machine deleted", zap.String("machine_id", id.String()))
	return nil
}

func (s *Service) SearchByLocation(ctx context.Context, location string) ([]*storage.Machine, error) {
	return s.store.MachinesByLocation(ctx, location)
}

func (s *Service) SearchByName(ctx context.Context, name string) ([]*storage.Machine, error) {
	return s.store.MachinesByNameContaining(ctx, name)
}

// ByType finds machines whose name contains the type, e.g. "Blow molding".
func (s *Service) ByType(ctx context.Context, machineType string) ([]*storage.Machine, error) {
	if strings.TrimSpace(machineType) == "" {
		return nil, fmt.Errorf("%w: machine type is required", types.ErrInvalidInput)
	}
	return s.store.MachinesByNameContaining(ctx, machineType)
}

func (s *Service) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.store.MachineExists(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountMachines(ctx)
}

func (s *Service) Stats(ctx context.Context) (*storage.MachineStats, error) {
	return s.store.MachineStats(ctx)
}

// Status derives the operating state from diagnostics, alerts and the
// latest reading.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*MachineStatus, error) {
	exists, err := s.store.MachineExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("machine %s: %w", id, types.ErrNotFound)
	}

	activity, err := s.store.GetMachineActivity(ctx, id, storage.DiagnosticInProgress)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &MachineStatus{
		MachineID:         id,
		State:             deriveState(activity.LastReadingAt, activity.OpenAlerts, activity.InProgressDiagnosis, now, s.offlineAfter),
		LastReadingAt:     activity.LastReadingAt,
		OpenAlerts:        activity.OpenAlerts,
		ActiveDiagnostics: activity.InProgressDiagnosis,
		CheckedAt:         now,
	}, nil
}

// AvailableForDiagnostic is true for existing machines not under maintenance.
func (s *Service) AvailableForDiagnostic(ctx context.Context, id uuid.UUID) (bool, error) {
	status, err := s.Status(ctx, id)
	if err != nil {
		return false, err
	}
	return status.State != StateMaintenance, nil
}
