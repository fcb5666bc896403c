package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Machine struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type MachineStats struct {
	Total           int64 `json:"total"`
	UniqueLocations int64 `json:"unique_locations"`
}

type Sensor struct {
	ID           int64     `json:"id"`
	MachineID    uuid.UUID `json:"machine_id"`
	Type         string    `json:"type"`
	Unit         string    `json:"unit"`
	MinThreshold *float64  `json:"min_threshold"`
	MaxThreshold *float64  `json:"max_threshold"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type SensorStats struct {
	Total       int64 `json:"total"`
	UniqueTypes int64 `json:"unique_types"`
}

type Reading struct {
	ID        int64     `json:"id"`
	SensorID  int64     `json:"sensor_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// SensorReading is a reading joined with the sensor that produced it.
type SensorReading struct {
	Reading
	SensorType   string   `json:"sensor_type"`
	Unit         string   `json:"unit"`
	MinThreshold *float64 `json:"min_threshold"`
	MaxThreshold *float64 `json:"max_threshold"`
}

// ReadingFilter selects readings; zero fields are ignored.
type ReadingFilter struct {
	SensorID *int64
	From     *time.Time
	To       *time.Time
	MinValue *float64
	MaxValue *float64
	Limit    int
}

type Diagnostic struct {
	ID                  uuid.UUID  `json:"id"`
	MachineID           uuid.UUID  `json:"machine_id"`
	Timestamp           time.Time  `json:"timestamp"`
	DiagnosticType      string     `json:"diagnostic_type"`
	Details             string     `json:"details"`
	Status              string     `json:"status"`
	Severity            string     `json:"severity"`
	InterventionDetails string     `json:"intervention_details"`
	Technician          string     `json:"technician"`
	InterventionDate    *time.Time `json:"intervention_date"`
}

// Diagnostic status vocabulary.
const (
	DiagnosticInProgress = "in_progress"
	DiagnosticPending    = "pending"
	DiagnosticScheduled  = "scheduled"
	DiagnosticCompleted  = "completed"
	DiagnosticResolved   = "resolved"
	DiagnosticClosed     = "closed"
	DiagnosticCancelled  = "cancelled"
)

// DiagnosticFilter selects diagnostics; zero fields are ignored.
type DiagnosticFilter struct {
	MachineID      *uuid.UUID
	DiagnosticType string
	Status         []string
	Technician     string
	From           *time.Time
	To             *time.Time
	Critical       bool
	Limit          int
}

type Report struct {
	ID              int64     `json:"id"`
	MachineID       uuid.UUID `json:"machine_id"`
	Summary         string    `json:"summary"`
	Recommendations string    `json:"recommendations"`
	Date            time.Time `json:"date"`
	GeneratedBy     string    `json:"generated_by"`
}

type ReportCount struct {
	MachineID   uuid.UUID `json:"machine_id"`
	GeneratedBy string    `json:"generated_by"`
	Count       int64     `json:"count"`
}

type Alert struct {
	ID          int64      `json:"id"`
	MachineID   uuid.UUID  `json:"machine_id"`
	SensorID    *int64     `json:"sensor_id,omitempty"`
	Type        string     `json:"type"`
	Criticality string     `json:"criticality"`
	Description string     `json:"description"`
	Value       *float64   `json:"value,omitempty"`
	Resolved    bool       `json:"resolved"`
	Timestamp   time.Time  `json:"timestamp"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

type Account struct {
	ID                  uuid.UUID  `json:"id"`
	Username            string     `json:"username"`
	PasswordHash        string     `json:"-"` // Never expose in JSON
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Enabled             bool       `json:"enabled"`
	Role                string     `json:"role"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	LastLoginAt         *time.Time `json:"last_login_at"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
}

// AccountUpdate carries the optional fields of an account change.
type AccountUpdate struct {
	PasswordHash *string
	Role         *string
	Enabled      *bool
	FirstName    *string
	LastName     *string
}

type GatewayToken struct {
	ID                 uuid.UUID  `json:"id"`
	TokenHash          string     `json:"-"` // Never expose
	Name               string     `json:"name"`
	Permissions        []string   `json:"permissions"`
	MachineID          *uuid.UUID `json:"machine_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	LastUsedAt         *time.Time `json:"last_used_at"`
	CreatedByAccountID *uuid.UUID `json:"created_by_account_id"`
}

type ExecutionStatus string

const (
	ExecutionScheduled  ExecutionStatus = "scheduled"
	ExecutionRunning    ExecutionStatus = "running"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionCancelled  ExecutionStatus = "cancelled"
	ExecutionTerminated ExecutionStatus = "terminated"
)

// Terminal reports whether no further transition can happen.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTerminated:
		return true
	}
	return false
}

type WorkflowExecution struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	ParentID     *string         `json:"parent_id,omitempty"`
	MachineID    *uuid.UUID      `json:"machine_id,omitempty"`
	DiagnosticID *uuid.UUID      `json:"diagnostic_id,omitempty"`
	Status       ExecutionStatus `json:"status"`
	CurrentStep  string          `json:"current_step,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type ExecutionEvent struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
