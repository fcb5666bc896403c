package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	GetMachineByName(ctx context.Context, name string) (*storage.Machine, error)
	CreateMachine(ctx context.Context, m *storage.Machine) error
	UpdateMachine(ctx context.Context, m *storage.Machine) error
	SensorsByMachineAndType(ctx context.Context, machineID uuid.UUID, sensorType string) ([]*storage.Sensor, error)
	CreateSensor(ctx context.Context, s *storage.Sensor) error
	UpdateSensor(ctx context.Context, s *storage.Sensor) error
}

// Result summarises one import run.
type Result struct {
	MachinesCreated int
	MachinesUpdated int
	SensorsCreated  int
	SensorsUpdated  int
	Bindings        []Binding
}

type Importer struct {
	store  Store
	logger *zap.Logger
}

func NewImporter(store Store, logger *zap.Logger) *Importer {
	return &Importer{store: store, logger: logger}
}

// Import upserts machines by name and sensors by machine and type. Entities
// missing from the catalog are left alone.
func (i *Importer) Import(ctx context.Context, c *Catalog) (*Result, error) {
	res := &Result{}

	for _, spec := range c.Machines {
		machine, created, err := i.upsertMachine(ctx, spec)
		if err != nil {
			return res, fmt.Errorf("machine %q: %w", spec.Name, err)
		}
		if created {
			res.MachinesCreated++
		} else {
			res.MachinesUpdated++
		}

		for _, ss := range spec.Sensors {
			sensor, created, err := i.upsertSensor(ctx, machine.ID, ss)
			if err != nil {
				return res, fmt.Errorf("machine %q sensor %q: %w", spec.Name, ss.Type, err)
			}
			if created {
				res.SensorsCreated++
			} else {
				res.SensorsUpdated++
			}

			if ss.Source != nil {
				res.Bindings = append(res.Bindings, Binding{
					SensorID:    sensor.ID,
					MachineName: machine.Name,
					SensorType:  sensor.Type,
					Modbus:      ss.Source.Modbus,
					MQTT:        ss.Source.MQTT,
				})
			}
		}
	}

	i.logger.Info("Catalog imported",
		zap.Int("machines_created", res.MachinesCreated),
		zap.Int("machines_updated", res.MachinesUpdated),
		zap.Int("sensors_created", res.SensorsCreated),
		zap.Int("sensors_updated", res.SensorsUpdated),
		zap.Int("bindings", len(res.Bindings)))
	return res, nil
}

func (i *Importer) upsertMachine(ctx context.Context, spec MachineSpec) (*storage.Machine, bool, error) {
	existing, err := i.store.GetMachineByName(ctx, spec.Name)
	switch {
	case errors.Is(err, types.ErrNotFound):
		m := &storage.Machine{
			Name:        spec.Name,
			Description: spec.Description,
			Location:    spec.Location,
		}
		if err := i.store.CreateMachine(ctx, m); err != nil {
			return nil, false, err
		}
		return m, true, nil
	case err != nil:
		return nil, false, err
	}

	existing.Description = spec.Description
	existing.Location = spec.Location
	if err := i.store.UpdateMachine(ctx, existing); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (i *Importer) upsertSensor(ctx context.Context, machineID uuid.UUID, spec SensorSpec) (*storage.Sensor, bool, error) {
	found, err := i.store.SensorsByMachineAndType(ctx, machineID, spec.Type)
	if err != nil {
		return nil, false, err
	}

	if len(found) == 0 {
		s := &storage.Sensor{
			MachineID:    machineID,
			Type:         spec.Type,
			Unit:         spec.Unit,
			MinThreshold: spec.MinThreshold,
			MaxThreshold: spec.MaxThreshold,
		}
		if err := i.store.CreateSensor(ctx, s); err != nil {
			return nil, false, err
		}
		return s, true, nil
	}

	s := found[0]
	s.Unit = spec.Unit
	s.MinThreshold = spec.MinThreshold
	s.MaxThreshold = spec.MaxThreshold
	if err := i.store.UpdateSensor(ctx, s); err != nil {
		return nil, false, err
	}
	return s, false, nil
}
