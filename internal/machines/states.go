package machines

import (
	"time"

	"github.com/google/uuid"
)

// State is the derived operating state of a machine.
type State string

const (
	StateMaintenance State = "maintenance"
	StateAlarm       State = "alarm"
	StateOnline      State = "online"
	StateOffline     State = "offline"
)

type MachineStatus struct {
	MachineID         uuid.UUID  `json:"machine_id"`
	State             State      `json:"state"`
	LastReadingAt     *time.Time `json:"last_reading_at,omitempty"`
	OpenAlerts        int64      `json:"open_alerts"`
	ActiveDiagnostics int64      `json:"active_diagnostics"`
	CheckedAt         time.Time  `json:"checked_at"`
}

// deriveState applies maintenance > alarm > online > offline.
func deriveState(lastReadingAt *time.Time, openAlerts, activeDiagnostics int64, now time.Time, offlineAfter time.Duration) State {
	switch {
	case activeDiagnostics > 0:
		return StateMaintenance
	case openAlerts > 0:
		return StateAlarm
	case lastReadingAt != nil && now.Sub(*lastReadingAt) <= offlineAfter:
		return StateOnline
	default:
		return StateOffline
	}
}
