package definition

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindDiagnostic     Kind = "diagnostic"
	KindBulkDiagnostic Kind = "bulk-diagnostic"
	KindMaintenance    Kind = "maintenance"
)

// Activity names, in the order a diagnostic run executes them.
const (
	ActivityCheckMachine     = "check_machine"
	ActivityCreateDiagnostic = "create_diagnostic"
	ActivityClassify         = "classify_severity"
	ActivityNotify           = "notify"
	ActivityUpdateDiagnostic = "update_diagnostic"
	ActivityReport           = "report_summary"

	ActivityWaitWindow        = "wait_window"
	ActivityCheckAvailability = "check_availability"
	ActivityRecordMaintenance = "record_maintenance"
	ActivityCompleteTasks     = "complete_tasks"
)

const (
	DefaultTechnician         = "Automated system"
	MaintenanceDiagnosticType = "Preventive maintenance"
)

// DefaultMaintenanceTasks is used when a schedule request names no tasks.
var DefaultMaintenanceTasks = []string{
	"Clean filters",
	"Lubricate moving parts",
	"Check electrical connections",
	"Calibrate sensors",
	"Visual inspection of components",
	"Replace wear parts",
	"Test safety systems",
	"Update operating parameters",
	"Check fluid levels",
	"General performance test",
}

type DiagnosticInput struct {
	MachineID      uuid.UUID `json:"machine_id"`
	DiagnosticType string    `json:"diagnostic_type"`
	Details        string    `json:"details"`
	Technician     string    `json:"technician,omitempty"`
}

type BulkDiagnosticInput struct {
	MachineIDs     []uuid.UUID `json:"machine_ids"`
	DiagnosticType string      `json:"diagnostic_type"`
	Details        string      `json:"details"`
	Technician     string      `json:"technician,omitempty"`
}

// Child returns the single-machine input for one member of the batch.
func (in BulkDiagnosticInput) Child(machineID uuid.UUID) DiagnosticInput {
	return DiagnosticInput{
		MachineID:      machineID,
		DiagnosticType: in.DiagnosticType,
		Details:        in.Details,
		Technician:     in.Technician,
	}
}

type MaintenanceInput struct {
	MachineID uuid.UUID `json:"machine_id"`
	At        time.Time `json:"at"`
	Tasks     []string  `json:"tasks,omitempty"`
}

// StatusSignal updates the diagnostic linked to a running execution.
type StatusSignal struct {
	Status              string `json:"status"`
	InterventionDetails string `json:"intervention_details"`
}

// ParseInput decodes the stored input of an execution of the given kind.
func ParseInput(kind Kind, data []byte) (any, error) {
	var target any
	switch kind {
	case KindDiagnostic:
		target = &DiagnosticInput{}
	case KindBulkDiagnostic:
		target = &BulkDiagnosticInput{}
	case KindMaintenance:
		target = &MaintenanceInput{}
	default:
		return nil, fmt.Errorf("unknown workflow kind: %s", kind)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s input: %w", kind, err)
	}
	return target, nil
}
