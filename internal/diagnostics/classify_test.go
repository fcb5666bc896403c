package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		diagnosticType string
		details        string
		want           string
	}{
		{"Temperature check", "Temperature too high on zone 2", SeverityCritical},
		{"temperature check", "temperature TOO LOW", SeverityAttention},
		{"Temperature check", "within range", SeverityNormal},
		{"Pressure analysis", "insufficient pressure", SeverityUrgent},
		{"Pressure analysis", "pressure too high", SeverityUrgent},
		{"Vibration analysis", "excessive vibration on spindle", SeverityInspect},
		{"Vibration analysis", "slight noise", SeverityNormal},
		{"Preventive maintenance", "", SeverityScheduled},
		{"Electrical check", "too high", SeverityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.diagnosticType+"/"+tt.details, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.diagnosticType, tt.details))
		})
	}
}

func TestIsCritical(t *testing.T) {
	assert.True(t, IsCritical(SeverityCritical))
	assert.True(t, IsCritical(SeverityUrgent))
	assert.False(t, IsCritical(SeverityInspect))
	assert.False(t, IsCritical("completed"))
}
