package diagnostics

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

const recentWindow = 24 * time.Hour

var validStatuses = map[string]bool{
	storage.DiagnosticInProgress: true,
	storage.DiagnosticPending:    true,
	storage.DiagnosticScheduled:  true,
	storage.DiagnosticCompleted:  true,
	storage.DiagnosticResolved:   true,
	storage.DiagnosticClosed:     true,
	storage.DiagnosticCancelled:  true,
}

var completedStatuses = []string{storage.DiagnosticCompleted, storage.DiagnosticResolved, storage.DiagnosticClosed}

type Store interface {
	MachineExists(ctx context.Context, id uuid.UUID) (bool, error)
	CreateDiagnostic(ctx context.Context, d *storage.Diagnostic) error
	GetDiagnostic(ctx context.Context, id uuid.UUID) (*storage.Diagnostic, error)
	UpdateDiagnostic(ctx context.Context, d *storage.Diagnostic) error
	UpdateDiagnosticStatus(ctx context.Context, id uuid.UUID, status, interventionDetails string, at time.Time) (*storage.Diagnostic, error)
	DeleteDiagnostic(ctx context.Context, id uuid.UUID) error
	FindDiagnostics(ctx context.Context, f storage.DiagnosticFilter) ([]*storage.Diagnostic, error)
	CountDiagnostics(ctx context.Context, f storage.DiagnosticFilter) (int64, error)
}

type Input struct {
	MachineID           uuid.UUID  `json:"machine_id"`
	Timestamp           time.Time  `json:"timestamp"`
	DiagnosticType      string     `json:"diagnostic_type"`
	Details             string     `json:"details"`
	Status              string     `json:"status"`
	Severity            string     `json:"severity"`
	InterventionDetails string     `json:"intervention_details"`
	Technician          string     `json:"technician"`
	InterventionDate    *time.Time `json:"intervention_date"`
}

type Stats struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Critical  int64 `json:"critical"`
	Recent    int64 `json:"recent"`
}

type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

func ValidStatus(status string) bool {
	return validStatuses[status]
}

func (s *Service) normalize(ctx context.Context, in *Input) error {
	if in.MachineID == uuid.Nil {
		return fmt.Errorf("%w: machine_id is required", types.ErrInvalidInput)
	}
	in.DiagnosticType = strings.TrimSpace(in.DiagnosticType)
	if in.DiagnosticType == "" {
		return fmt.Errorf("%w: diagnostic_type is required", types.ErrInvalidInput)
	}
	if in.Status == "" {
		in.Status = storage.DiagnosticPending
	}
	if !ValidStatus(in.Status) {
		return fmt.Errorf("%w: unknown status %q", types.ErrInvalidInput, in.Status)
	}
	if in.Severity == "" {
		in.Severity = Classify(in.DiagnosticType, in.Details)
	}

	exists, err := s.store.MachineExists(ctx, in.MachineID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("machine %s: %w", in.MachineID, types.ErrNotFound)
	}
	return nil
}

func (in Input) toDiagnostic() *storage.Diagnostic {
	return &storage.Diagnostic{
		MachineID:           in.MachineID,
		Timestamp:           in.Timestamp,
		DiagnosticType:      in.DiagnosticType,
		Details:             in.Details,
		Status:              in.Status,
		Severity:            in.Severity,
		InterventionDetails: in.InterventionDetails,
		Technician:          in.Technician,
		InterventionDate:    in.InterventionDate,
	}
}

// Create stores a diagnostic. Status defaults to pending and the severity is
// classified from type and details when not given.
func (s *Service) Create(ctx context.Context, in Input) (*storage.Diagnostic, error) {
	if err := s.normalize(ctx, &in); err != nil {
		return nil, err
	}
	d := in.toDiagnostic()
	if err := s.store.CreateDiagnostic(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info("Diagnostic created",
		zap.String("diagnostic_id", d.ID.String()),
		zap.String("machine_id", d.MachineID.String()),
		zap.String("type", d.DiagnosticType),
		zap.String("severity", d.Severity))
	return d, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*storage.Diagnostic, error) {
	return s.store.GetDiagnostic(ctx, id)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (*storage.Diagnostic, error) {
	existing, err := s.store.GetDiagnostic(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = existing.Timestamp
	}
	if err := s.normalize(ctx, &in); err != nil {
		return nil, err
	}
	d := in.toDiagnostic()
	d.ID = id
	if err := s.store.UpdateDiagnostic(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateStatus moves a diagnostic to status and stamps the intervention date.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status, interventionDetails string) (*storage.Diagnostic, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrInvalidInput, status)
	}
	d, err := s.store.UpdateDiagnosticStatus(ctx, id, status, interventionDetails, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("Diagnostic status updated",
		zap.String("diagnostic_id", id.String()),
		zap.String("status", status))
	return d, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteDiagnostic(ctx, id)
}

func (s *Service) Find(ctx context.Context, f storage.DiagnosticFilter) ([]*storage.Diagnostic, error) {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, fmt.Errorf("%w: from is after to", types.ErrInvalidInput)
	}
	return s.store.FindDiagnostics(ctx, f)
}

func (s *Service) List(ctx context.Context) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, storage.DiagnosticFilter{})
}

func (s *Service) ByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, storage.DiagnosticFilter{MachineID: &machineID})
}

func (s *Service) ByType(ctx context.Context, diagnosticType string) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, storage.DiagnosticFilter{DiagnosticType: diagnosticType})
}

func (s *Service) ByDateRange(ctx context.Context, from, to time.Time) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, storage.DiagnosticFilter{From: &from, To: &to})
}

func (s *Service) ByMachineAndDateRange(ctx context.Context, machineID uuid.UUID, from, to time.Time) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, storage.DiagnosticFilter{MachineID: &machineID, From: &from, To: &to})
}

func (s *Service) ByMachineAndType(ctx context.Context, machineID uuid.UUID, diagnosticType string) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, storage.DiagnosticFilter{MachineID: &machineID, DiagnosticType: diagnosticType})
}

func (s *Service) ByStatus(ctx context.Context, status string) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, storage.DiagnosticFilter{Status: []string{status}})
}

func (s *Service) ByTechnician(ctx context.Context, technician string) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, storage.DiagnosticFilter{Technician: technician})
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDiagnostics(ctx, storage.DiagnosticFilter{})
}

func (s *Service) CountByMachine(ctx context.Context, machineID uuid.UUID) (int64, error) {
	return s.store.CountDiagnostics(ctx, storage.DiagnosticFilter{MachineID: &machineID})
}

func (s *Service) recentFilter() storage.DiagnosticFilter {
	since := s.now().Add(-recentWindow)
	return storage.DiagnosticFilter{From: &since}
}

// Recent returns diagnostics of the last 24 hours.
func (s *Service) Recent(ctx context.Context) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, s.recentFilter())
}

// Critical returns diagnostics whose status or severity mentions critical
// or urgent.
func (s *Service) Critical(ctx context.Context) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, storage.DiagnosticFilter{Critical: true})
}

func (s *Service) Active(ctx context.Context) ([]*storage.Diagnostic, error) {
	return s.ByStatus(ctx, storage.DiagnosticInProgress)
}

func (s *Service) Completed(ctx context.Context) ([]*storage.Diagnostic, error) {
	return s.Find(ctx, storage.DiagnosticFilter{Status: completedStatuses})
}

func (s *Service) LatestByMachine(ctx context.Context, machineID uuid.UUID, limit int) ([]*storage.Diagnostic, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.Find(ctx, storage.DiagnosticFilter{MachineID: &machineID, Limit: limit})
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	counts := []struct {
		dst *int64
		f   storage.DiagnosticFilter
	}{
		{&st.Total, storage.DiagnosticFilter{}},
		{&st.Active, storage.DiagnosticFilter{Status: []string{storage.DiagnosticInProgress}}},
		{&st.Completed, storage.DiagnosticFilter{Status: completedStatuses}},
		{&st.Critical, storage.DiagnosticFilter{Critical: true}},
		{&st.Recent, s.recentFilter()},
	}
	for _, c := range counts {
		n, err := s.store.CountDiagnostics(ctx, c.f)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	return &st, nil
}

// HasPending reports whether the machine has a diagnostic in progress.
func (s *Service) HasPending(ctx context.Context, machineID uuid.UUID) (bool, error) {
	n, err := s.store.CountDiagnostics(ctx, storage.DiagnosticFilter{
		MachineID: &machineID,
		Status:    []string{storage.DiagnosticInProgress},
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
