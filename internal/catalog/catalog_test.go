package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleCatalog = `
version: 1
machines:
  - name: Press 01
    description: Plastic injection molding
    location: Hall A
    sensors:
      - type: temperature
        unit: "°C"
        min_threshold: 20
        max_threshold: 80.5
        source:
          modbus:
            host: 10.0.0.12
            register: 40
            data_type: float32
            poll_interval: 2s
      - type: pressure
        unit: bar
        source:
          mqtt:
            topic: plant/press01/pressure
      - type: vibration
        unit: mm/s
`

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	require.NoError(t, err)
	return l
}

func TestParseCatalog(t *testing.T) {
	c, err := newTestLoader(t).Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	require.Len(t, c.Machines, 1)
	m := c.Machines[0]
	assert.Equal(t, "Press 01", m.Name)
	require.Len(t, m.Sensors, 3)

	temp := m.Sensors[0]
	require.NotNil(t, temp.MinThreshold)
	assert.Equal(t, 20.0, *temp.MinThreshold)
	assert.Equal(t, 80.5, *temp.MaxThreshold)

	mb := temp.Source.Modbus
	require.NotNil(t, mb)
	assert.Equal(t, DefaultModbusPort, mb.Port)
	assert.Equal(t, "holding", mb.RegisterType)
	assert.Equal(t, "float32", mb.DataType)
	assert.Equal(t, 1.0, mb.Scale)
	assert.Equal(t, 2*time.Second, mb.PollInterval)

	assert.Equal(t, "plant/press01/pressure", m.Sensors[1].Source.MQTT.Topic)
	assert.Nil(t, m.Sensors[2].Source)
	assert.Nil(t, m.Sensors[2].MinThreshold)
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "machines: [\n"},
		{"empty", ""},
		{"unknown field", "machines:\n  - name: A\n    colour: red\n"},
		{"machine without name", "machines:\n  - location: Hall A\n"},
		{"two sources", "machines:\n  - name: A\n    sensors:\n      - type: t\n        source:\n          mqtt: {topic: x}\n          modbus: {host: h, register: 1}\n"},
		{"bad data type", "machines:\n  - name: A\n    sensors:\n      - type: t\n        source:\n          modbus: {host: h, register: 1, data_type: float64}\n"},
		{"bad interval", "machines:\n  - name: A\n    sensors:\n      - type: t\n        source:\n          modbus: {host: h, register: 1, poll_interval: soon}\n"},
		{"duplicate machine", "machines:\n  - name: A\n  - name: A\n"},
		{"duplicate sensor", "machines:\n  - name: A\n    sensors:\n      - type: t\n      - type: t\n"},
		{"inverted thresholds", "machines:\n  - name: A\n    sensors:\n      - type: t\n        min_threshold: 10\n        max_threshold: 5\n"},
	}

	l := newTestLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	c, err := newTestLoader(t).Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Machines, 1)

	_, err = newTestLoader(t).Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type memStore struct {
	machines map[uuid.UUID]*storage.Machine
	sensors  map[int64]*storage.Sensor
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{
		machines: make(map[uuid.UUID]*storage.Machine),
		sensors:  make(map[int64]*storage.Sensor),
	}
}

func (m *memStore) GetMachineByName(_ context.Context, name string) (*storage.Machine, error) {
	for _, mc := range m.machines {
		if mc.Name == name {
			cp := *mc
			return &cp, nil
		}
	}
	return nil, types.ErrNotFound
}

func (m *memStore) CreateMachine(_ context.Context, mc *storage.Machine) error {
	mc.ID = uuid.New()
	cp := *mc
	m.machines[mc.ID] = &cp
	return nil
}

func (m *memStore) UpdateMachine(_ context.Context, mc *storage.Machine) error {
	cp := *mc
	m.machines[mc.ID] = &cp
	return nil
}

func (m *memStore) SensorsByMachineAndType(_ context.Context, machineID uuid.UUID, sensorType string) ([]*storage.Sensor, error) {
	var out []*storage.Sensor
	for _, s := range m.sensors {
		if s.MachineID == machineID && s.Type == sensorType {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateSensor(_ context.Context, s *storage.Sensor) error {
	m.nextID++
	s.ID = m.nextID
	cp := *s
	m.sensors[s.ID] = &cp
	return nil
}

func (m *memStore) UpdateSensor(_ context.Context, s *storage.Sensor) error {
	cp := *s
	m.sensors[s.ID] = &cp
	return nil
}

func TestImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	imp := NewImporter(store, zap.NewNop())

	c, err := newTestLoader(t).Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	first, err := imp.Import(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 1, first.MachinesCreated)
	assert.Equal(t, 3, first.SensorsCreated)
	require.Len(t, first.Bindings, 2)
	assert.Equal(t, "temperature", first.Bindings[0].SensorType)
	assert.NotNil(t, first.Bindings[0].Modbus)
	assert.NotNil(t, first.Bindings[1].MQTT)

	// change a threshold and import again
	limit := 90.0
	c.Machines[0].Sensors[0].MaxThreshold = &limit
	c.Machines[0].Location = "Hall B"

	second, err := imp.Import(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 0, second.MachinesCreated)
	assert.Equal(t, 1, second.MachinesUpdated)
	assert.Equal(t, 0, second.SensorsCreated)
	assert.Equal(t, 3, second.SensorsUpdated)
	assert.Equal(t, first.Bindings[0].SensorID, second.Bindings[0].SensorID)

	assert.Len(t, store.machines, 1)
	assert.Len(t, store.sensors, 3)
	for _, mc := range store.machines {
		assert.Equal(t, "Hall B", mc.Location)
	}
	assert.Equal(t, 90.0, *store.sensors[first.Bindings[0].SensorID].MaxThreshold)
}
