// Package seed fills an empty database with demonstration machines, sensors
// and a diagnostic history.
package seed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/config"
	"github.com/KevinKickass/SensorIntegration/internal/diagnostics"
	"github.com/KevinKickass/SensorIntegration/internal/machines"
	"github.com/KevinKickass/SensorIntegration/internal/sensors"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"go.uber.org/zap"
)

type Machines interface {
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, in machines.Input) (*storage.Machine, error)
}

type Sensors interface {
	Create(ctx context.Context, in sensors.Input) (*storage.Sensor, error)
}

type Diagnostics interface {
	Create(ctx context.Context, in diagnostics.Input) (*storage.Diagnostic, error)
}

var DiagnosticTypes = []string{
	"Temperature fault",
	"Pressure fault",
	"Excessive vibration",
	"Adjustment needed",
	"Preventive maintenance",
	"Part replacement",
}

var Technicians = []string{
	"Jean Dupont",
	"Marie Martin",
	"Pierre Dubois",
	"Sophie Bernard",
	"Thomas Lefevre",
}

var statuses = []string{
	storage.DiagnosticInProgress,
	storage.DiagnosticCompleted,
	storage.DiagnosticPending,
	storage.DiagnosticScheduled,
	storage.DiagnosticCancelled,
}

type sensorTemplate struct {
	kind string
	unit string
	min  float64
	max  float64
}

type machineProfile struct {
	kind          string
	description   string
	minDiagnostic int
	maxDiagnostic int
	sensors       []sensorTemplate
	issues        []string
	interventions []string
}

var profiles = []machineProfile{
	{
		kind:          "Plastic injection molding",
		description:   "Injection molding of plastic bottle preforms",
		minDiagnostic: 8,
		maxDiagnostic: 14,
		sensors: []sensorTemplate{
			{"temperature", "°C", 180, 250},
			{"pressure", "bar", 60, 140},
			{"vibration", "mm/s", 0, 0.15},
		},
		issues: []string{
			"temperature too high (>250°C)",
			"insufficient pressure (<60 bar)",
			"excessive vibration (>0.15)",
			"mold wear",
		},
		interventions: []string{
			"Adjusted temperature set points",
			"Tuned injection pressure",
			"Replaced temperature sensors",
			"Cleaned and lubricated molds",
			"Calibrated pressure sensors",
		},
	},
	{
		kind:          "Blow molding",
		description:   "Stretch blow molding of plastic bottles",
		minDiagnostic: 6,
		maxDiagnostic: 14,
		sensors: []sensorTemplate{
			{"temperature", "°C", 90, 120},
			{"air_pressure", "bar", 20, 40},
			{"vibration", "mm/s", 0, 0.18},
		},
		issues: []string{
			"temperature too low (<90°C)",
			"air pressure too high (>40 bar)",
			"excessive vibration (>0.18)",
			"stabilisation problem",
		},
		interventions: []string{
			"Adjusted temperature set points",
			"Tuned air pressure",
			"Replaced air pressure sensors",
			"Cleaned air channels",
			"Calibrated vibration sensors",
		},
	},
}

type Result struct {
	Machines    int
	Sensors     int
	Diagnostics int
}

type Seeder struct {
	machines    Machines
	sensors     Sensors
	diagnostics Diagnostics
	cfg         config.SeedConfig
	logger      *zap.Logger
	rng         *rand.Rand
	now         func() time.Time
}

func NewSeeder(m Machines, s Sensors, d Diagnostics, cfg config.SeedConfig, logger *zap.Logger) *Seeder {
	return &Seeder{
		machines:    m,
		sensors:     s,
		diagnostics: d,
		cfg:         cfg,
		logger:      logger,
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		now:         time.Now,
	}
}

// Run seeds only when enabled and no machine exists yet. A nil result means
// nothing was done.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	if !s.cfg.Enabled || s.cfg.MachinesPerType <= 0 {
		return nil, nil
	}

	n, err := s.machines.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count machines: %w", err)
	}
	if n > 0 {
		s.logger.Info("Database already holds machines, skipping seed", zap.Int64("machines", n))
		return nil, nil
	}

	res := &Result{}
	for i := 1; i <= s.cfg.MachinesPerType; i++ {
		for _, p := range profiles {
			if err := s.seedMachine(ctx, p, i, res); err != nil {
				return res, err
			}
		}
	}

	s.logger.Info("Seed data created",
		zap.Int("machines", res.Machines),
		zap.Int("sensors", res.Sensors),
		zap.Int("diagnostics", res.Diagnostics))
	return res, nil
}

func (s *Seeder) seedMachine(ctx context.Context, p machineProfile, number int, res *Result) error {
	m, err := s.machines.Create(ctx, machines.Input{
		Name:        fmt.Sprintf("%s %d", p.kind, number),
		Description: p.description,
		Location:    "Production floor",
	})
	if err != nil {
		return fmt.Errorf("create machine: %w", err)
	}
	res.Machines++

	for _, t := range p.sensors {
		lo, hi := t.min, t.max
		if _, err := s.sensors.Create(ctx, sensors.Input{
			MachineID:    m.ID,
			Type:         t.kind,
			Unit:         t.unit,
			MinThreshold: &lo,
			MaxThreshold: &hi,
		}); err != nil {
			return fmt.Errorf("create sensor %s for %s: %w", t.kind, m.Name, err)
		}
		res.Sensors++
	}

	count := p.minDiagnostic + s.rng.IntN(p.maxDiagnostic-p.minDiagnostic+1)
	now := s.now().UTC()
	for range count {
		intervention := now.AddDate(0, 0, -s.rng.IntN(30))
		if _, err := s.diagnostics.Create(ctx, diagnostics.Input{
			MachineID:           m.ID,
			Timestamp:           now.AddDate(0, 0, -s.rng.IntN(365)),
			DiagnosticType:      pick(s.rng, DiagnosticTypes),
			Details:             "Detected " + pick(s.rng, p.issues),
			Status:              pick(s.rng, statuses),
			InterventionDetails: pick(s.rng, p.interventions),
			Technician:          pick(s.rng, Technicians),
			InterventionDate:    &intervention,
		}); err != nil {
			return fmt.Errorf("create diagnostic for %s: %w", m.Name, err)
		}
		res.Diagnostics++
	}
	return nil
}

func pick(rng *rand.Rand, from []string) string {
	return from[rng.IntN(len(from))]
}
