package definition

import (
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
)

type Issue struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every issue found in a workflow input.
type ValidationError struct {
	Issues []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", is.Field, is.Message))
	}
	return "invalid workflow input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return types.ErrInvalidInput }

type issues []Issue

func (l *issues) add(code, field, message string) {
	*l = append(*l, Issue{Code: code, Field: field, Message: message})
}

func (l issues) err() error {
	if len(l) == 0 {
		return nil
	}
	return &ValidationError{Issues: l}
}

func (in DiagnosticInput) Validate() error {
	var l issues
	if in.MachineID == uuid.Nil {
		l.add("WORKFLOW_401", "machine_id", "machine is required")
	}
	if strings.TrimSpace(in.DiagnosticType) == "" {
		l.add("WORKFLOW_402", "diagnostic_type", "diagnostic type is required")
	}
	return l.err()
}

func (in BulkDiagnosticInput) Validate() error {
	var l issues
	if len(in.MachineIDs) == 0 {
		l.add("WORKFLOW_403", "machine_ids", "at least one machine is required")
	}
	seen := make(map[uuid.UUID]bool, len(in.MachineIDs))
	for i, id := range in.MachineIDs {
		switch {
		case id == uuid.Nil:
			l.add("WORKFLOW_401", fmt.Sprintf("machine_ids[%d]", i), "machine is required")
		case seen[id]:
			l.add("WORKFLOW_404", fmt.Sprintf("machine_ids[%d]", i), "duplicate machine "+id.String())
		}
		seen[id] = true
	}
	if strings.TrimSpace(in.DiagnosticType) == "" {
		l.add("WORKFLOW_402", "diagnostic_type", "diagnostic type is required")
	}
	return l.err()
}

// Validate rejects windows further in the past than the grace period;
// slightly late windows run immediately.
func (in MaintenanceInput) Validate(now time.Time, grace time.Duration) error {
	var l issues
	if in.MachineID == uuid.Nil {
		l.add("WORKFLOW_401", "machine_id", "machine is required")
	}
	if in.At.IsZero() {
		l.add("WORKFLOW_405", "at", "maintenance date is required")
	} else if in.At.Before(now.Add(-grace)) {
		l.add("WORKFLOW_406", "at", "maintenance date is in the past")
	}
	for i, task := range in.Tasks {
		if strings.TrimSpace(task) == "" {
			l.add("WORKFLOW_407", fmt.Sprintf("tasks[%d]", i), "task must not be empty")
		}
	}
	return l.err()
}
