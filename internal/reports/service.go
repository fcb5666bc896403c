package reports

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type Store interface {
	GetMachine(ctx context.Context, id uuid.UUID) (*storage.Machine, error)
	LatestReadingsByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.SensorReading, error)
	MachineReadingStatsSince(ctx context.Context, machineID uuid.UUID, since time.Time) ([]storage.SensorWindowStats, error)
	CreateReport(ctx context.Context, r *storage.Report) error
	GetReport(ctx context.Context, id int64) (*storage.Report, error)
	DeleteReport(ctx context.Context, id int64) error
	LatestReport(ctx context.Context, machineID uuid.UUID) (*storage.Report, error)
	ReportsByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.Report, error)
	ReportsByMachineGeneratorAndDate(ctx context.Context, machineID uuid.UUID, generatedBy string, from, to time.Time) ([]*storage.Report, error)
	ReportsByKeyword(ctx context.Context, keyword string, offset, limit int) ([]*storage.Report, int64, error)
	CountReportsByMachineAndGenerator(ctx context.Context) ([]storage.ReportCount, error)
	ReportsWithUnresolvedAlerts(ctx context.Context, machineID uuid.UUID, since time.Time) ([]*storage.Report, error)
}

type Service struct {
	store       Store
	generatedBy string
	pdfCache    *cache.Cache
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(store Store, cfg config.ReportsConfig, logger *zap.Logger) *Service {
	generatedBy := cfg.GeneratedBy
	if generatedBy == "" {
		generatedBy = "auto"
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		store:       store,
		generatedBy: generatedBy,
		pdfCache:    cache.New(ttl, 2*ttl),
		logger:      logger,
		now:         time.Now,
	}
}

// Generate builds a report from the latest reading of every sensor of the
// machine and compares it with the machine's previous report.
func (s *Service) Generate(ctx context.Context, machineID uuid.UUID) (*storage.Report, error) {
	machine, err := s.store.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}

	latest, err := s.store.LatestReadingsByMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}

	previous, err := s.store.LatestReport(ctx, machineID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	var stats []storage.SensorWindowStats
	if previous != nil {
		stats, err = s.store.MachineReadingStatsSince(ctx, machineID, previous.Date)
		if err != nil {
			return nil, err
		}
	}

	summary, recommendations := buildSummary(machine, latest)
	report := &storage.Report{
		MachineID:       machineID,
		Summary:         summary + buildComparison(previous, stats),
		Recommendations: recommendations,
		Date:            s.now().UTC(),
		GeneratedBy:     s.generatedBy,
	}
	if err := s.store.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	s.logger.Info("Report generated",
		zap.Int64("report_id", report.ID),
		zap.String("machine_id", machineID.String()),
		zap.Int("sensors", len(latest)))
	return report, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*storage.Report, error) {
	return s.store.GetReport(ctx, id)
}

// ExportPDF renders a report. Rendered documents are cached per report.
func (s *Service) ExportPDF(ctx context.Context, id int64) ([]byte, error) {
	key := strconv.FormatInt(id, 10)
	if cached, ok := s.pdfCache.Get(key); ok {
		return cached.([]byte), nil
	}

	report, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	machine, err := s.store.GetMachine(ctx, report.MachineID)
	if err != nil {
		return nil, err
	}

	doc, err := renderPDF(report, machine)
	if err != nil {
		return nil, err
	}
	s.pdfCache.SetDefault(key, doc)
	return doc, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteReport(ctx, id); err != nil {
		return err
	}
	s.pdfCache.Delete(strconv.FormatInt(id, 10))
	return nil
}

func (s *Service) ByMachine(ctx context.Context, machineID uuid.UUID) ([]*storage.Report, error) {
	return s.store.ReportsByMachine(ctx, machineID)
}

func (s *Service) SearchByMachineGeneratorAndDate(ctx context.Context, machineID uuid.UUID, generatedBy string, from, to time.Time) ([]*storage.Report, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: from is after to", types.ErrInvalidInput)
	}
	if generatedBy == "" {
		generatedBy = s.generatedBy
	}
	return s.store.ReportsByMachineGeneratorAndDate(ctx, machineID, generatedBy, from, to)
}

// SearchByKeyword pages through reports whose recommendations contain the
// keyword, ignoring case.
func (s *Service) SearchByKeyword(ctx context.Context, keyword string, req types.PageRequest) (types.Page[*storage.Report], error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return types.Page[*storage.Report]{}, fmt.Errorf("%w: keyword is required", types.ErrInvalidInput)
	}
	req = req.Normalize()
	items, total, err := s.store.ReportsByKeyword(ctx, keyword, req.Offset(), req.Size)
	if err != nil {
		return types.Page[*storage.Report]{}, err
	}
	return types.NewPage(items, req, total), nil
}

func (s *Service) CountByMachineAndGenerator(ctx context.Context) ([]storage.ReportCount, error) {
	return s.store.CountReportsByMachineAndGenerator(ctx)
}

func (s *Service) RecentWithUnresolvedAlerts(ctx context.Context, machineID uuid.UUID, since time.Time) ([]*storage.Report, error) {
	return s.store.ReportsWithUnresolvedAlerts(ctx, machineID, since)
}
