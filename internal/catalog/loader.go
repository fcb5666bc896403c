package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/KevinKickass/SensorIntegration/internal/types"
	"gopkg.in/yaml.v3"
)

type Loader struct {
	validator *Validator
}

func NewLoader() (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}
	return &Loader{validator: validator}, nil
}

func (l *Loader) Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	c, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse validates a YAML catalog against the embedded schema, then decodes it.
func (l *Loader) Parse(data []byte) (*Catalog, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %v", types.ErrInvalidInput, err)
	}

	// the schema validator works on JSON values
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	if err := l.validator.Validate(asJSON); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: failed to decode catalog: %v", types.ErrInvalidInput, err)
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

// check enforces the rules the schema cannot express and fills in Modbus
// defaults.
func (c *Catalog) check() error {
	names := make(map[string]bool, len(c.Machines))
	for _, m := range c.Machines {
		if names[m.Name] {
			return fmt.Errorf("%w: duplicate machine %q", types.ErrInvalidInput, m.Name)
		}
		names[m.Name] = true

		kinds := make(map[string]bool, len(m.Sensors))
		for _, s := range m.Sensors {
			if kinds[s.Type] {
				return fmt.Errorf("%w: machine %q declares sensor %q twice", types.ErrInvalidInput, m.Name, s.Type)
			}
			kinds[s.Type] = true

			if s.Source != nil && s.Source.Modbus != nil {
				s.Source.Modbus.applyDefaults()
			}

			if s.MinThreshold != nil && s.MaxThreshold != nil && *s.MinThreshold > *s.MaxThreshold {
				return fmt.Errorf("%w: machine %q sensor %q has min_threshold above max_threshold",
					types.ErrInvalidInput, m.Name, s.Type)
			}
		}
	}
	return nil
}
