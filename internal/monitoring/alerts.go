package monitoring

import (
	"context"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AlertStore interface {
	GetAlert(ctx context.Context, id int64) (*storage.Alert, error)
	ListAlerts(ctx context.Context, machineID *uuid.UUID, resolved *bool, limit int) ([]*storage.Alert, error)
	ResolveAlert(ctx context.Context, id int64) (*storage.Alert, error)
}

type AlertService struct {
	store  AlertStore
	logger *zap.Logger
}

func NewAlertService(store AlertStore, logger *zap.Logger) *AlertService {
	return &AlertService{store: store, logger: logger}
}

// List returns alerts newest first, optionally only those of one machine or
// only unresolved ones.
func (s *AlertService) List(ctx context.Context, machineID *uuid.UUID, unresolvedOnly bool, limit int) ([]*storage.Alert, error) {
	var resolved *bool
	if unresolvedOnly {
		f := false
		resolved = &f
	}
	return s.store.ListAlerts(ctx, machineID, resolved, limit)
}

func (s *AlertService) Get(ctx context.Context, id int64) (*storage.Alert, error) {
	return s.store.GetAlert(ctx, id)
}

// Resolve marks an alert resolved. Resolving twice keeps the first time.
func (s *AlertService) Resolve(ctx context.Context, id int64) (*storage.Alert, error) {
	alert, err := s.store.ResolveAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Alert resolved", zap.Int64("alert_id", id))
	return alert, nil
}
