package catalog

import "time"

// Catalog is the declarative list of machines and their sensors.
type Catalog struct {
	Version  int           `yaml:"version"`
	Machines []MachineSpec `yaml:"machines"`
}

type MachineSpec struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Location    string       `yaml:"location"`
	Sensors     []SensorSpec `yaml:"sensors"`
}

type SensorSpec struct {
	Type         string      `yaml:"type"`
	Unit         string      `yaml:"unit"`
	MinThreshold *float64    `yaml:"min_threshold"`
	MaxThreshold *float64    `yaml:"max_threshold"`
	Source       *SourceSpec `yaml:"source"`
}

// SourceSpec binds a sensor to exactly one acquisition channel.
type SourceSpec struct {
	Modbus *ModbusSource `yaml:"modbus"`
	MQTT   *MQTTSource   `yaml:"mqtt"`
}

type ModbusSource struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	UnitID       uint8         `yaml:"unit_id"`
	Register     uint16        `yaml:"register"`
	RegisterType string        `yaml:"register_type"`
	DataType     string        `yaml:"data_type"`
	Scale        float64       `yaml:"scale"`
	Offset       float64       `yaml:"offset"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MQTTSource maps a custom topic onto the sensor. Sensors without one are
// still reachable on the default per-sensor topic.
type MQTTSource struct {
	Topic string `yaml:"topic"`
}

// Binding is an imported sensor with its acquisition source.
type Binding struct {
	SensorID    int64
	MachineName string
	SensorType  string
	Modbus      *ModbusSource
	MQTT        *MQTTSource
}

const (
	DefaultModbusPort   = 502
	DefaultPollInterval = 5 * time.Second
)

func (m *ModbusSource) applyDefaults() {
	if m.Port == 0 {
		m.Port = DefaultModbusPort
	}
	if m.RegisterType == "" {
		m.RegisterType = "holding"
	}
	if m.DataType == "" {
		m.DataType = "uint16"
	}
	if m.Scale == 0 {
		m.Scale = 1
	}
	if m.PollInterval <= 0 {
		m.PollInterval = DefaultPollInterval
	}
}
