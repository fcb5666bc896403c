package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/diagnostics"
	"github.com/KevinKickass/SensorIntegration/internal/monitoring"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/definition"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/executor"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// followUpStatus is the diagnostic status left after automatic analysis.
func followUpStatus(severity string) string {
	l := strings.ToLower(severity)
	if strings.HasPrefix(l, "normal") || strings.HasPrefix(l, "scheduled") {
		return storage.DiagnosticCompleted
	}
	return storage.DiagnosticPending
}

func alertCriticality(severity string) string {
	if strings.Contains(strings.ToLower(severity), "critical") {
		return monitoring.CriticalityCritical
	}
	return monitoring.CriticalityWarning
}

func (e *Engine) runDiagnostic(ctx context.Context, exec *storage.WorkflowExecution, in definition.DiagnosticInput) (map[string]any, error) {
	state := map[string]any{"machine_id": in.MachineID.String()}
	technician := in.Technician
	if technician == "" {
		technician = definition.DefaultTechnician
	}

	var (
		diagID      uuid.UUID
		machineName string
		severity    string
	)

	// checked before this run opens its own in_progress diagnostic
	err := e.activity(ctx, exec, state, definition.ActivityCheckMachine, func(ctx context.Context) (map[string]any, error) {
		m, err := e.machines.Get(ctx, in.MachineID)
		if err != nil {
			return nil, err
		}
		st, err := e.machines.Status(ctx, in.MachineID)
		if err != nil {
			return nil, err
		}
		machineName = m.Name
		return map[string]any{
			"machine_name":  m.Name,
			"machine_state": string(st.State),
			"open_alerts":   st.OpenAlerts,
		}, nil
	})
	if err != nil {
		return state, err
	}

	err = e.activity(ctx, exec, state, definition.ActivityCreateDiagnostic, func(ctx context.Context) (map[string]any, error) {
		d, err := e.diagnostics.Create(ctx, diagnostics.Input{
			MachineID:           in.MachineID,
			Timestamp:           e.now().UTC(),
			DiagnosticType:      in.DiagnosticType,
			Details:             in.Details,
			Status:              storage.DiagnosticInProgress,
			Technician:          technician,
			InterventionDetails: "Diagnostic created automatically",
		})
		if err != nil {
			return nil, err
		}
		diagID = d.ID
		exec.DiagnosticID = &diagID
		return map[string]any{"diagnostic_id": d.ID.String()}, nil
	})
	if err != nil {
		return state, err
	}

	err = e.activity(ctx, exec, state, definition.ActivityClassify, func(context.Context) (map[string]any, error) {
		severity = diagnostics.Classify(in.DiagnosticType, in.Details)
		return map[string]any{"severity": severity}, nil
	})
	if err != nil {
		return state, err
	}

	err = e.activity(ctx, exec, state, definition.ActivityNotify, func(ctx context.Context) (map[string]any, error) {
		if !diagnostics.IsCritical(severity) {
			return map[string]any{"notified": false}, nil
		}
		alert := &storage.Alert{
			MachineID:   in.MachineID,
			Type:        "diagnostic",
			Criticality: alertCriticality(severity),
			Description: fmt.Sprintf("%s on %s: %s", in.DiagnosticType, machineName, severity),
			Timestamp:   e.now().UTC(),
		}
		if err := e.store.InsertAlert(ctx, alert); err != nil {
			return nil, err
		}
		for _, n := range e.notifiers {
			n.NotifyAlert(ctx, alert)
		}
		e.logger.Warn("Diagnostic requires attention",
			zap.String("machine", machineName),
			zap.String("type", in.DiagnosticType),
			zap.String("severity", severity))
		return map[string]any{"notified": true, "alert_id": alert.ID}, nil
	})
	if err != nil {
		return state, err
	}

	err = e.activity(ctx, exec, state, definition.ActivityUpdateDiagnostic, func(ctx context.Context) (map[string]any, error) {
		status := followUpStatus(severity)
		if _, err := e.diagnostics.UpdateStatus(ctx, diagID, status, "Automatic analysis completed: "+severity); err != nil {
			return nil, err
		}
		return map[string]any{"diagnostic_status": status}, nil
	})
	if err != nil {
		return state, err
	}

	err = e.activity(ctx, exec, state, definition.ActivityReport, func(ctx context.Context) (map[string]any, error) {
		d, err := e.diagnostics.Get(ctx, diagID)
		if err != nil {
			return nil, err
		}
		summary := fmt.Sprintf("%s on %s by %s: %s, status %s",
			d.DiagnosticType, machineName, d.Technician, d.Severity, d.Status)
		e.logger.Info("Diagnostic report",
			zap.String("diagnostic_id", d.ID.String()),
			zap.String("summary", summary))
		return map[string]any{"summary": summary}, nil
	})
	return state, err
}

type childResult struct {
	ID     string                  `json:"id"`
	Status storage.ExecutionStatus `json:"status"`
}

func (e *Engine) runBulk(ctx context.Context, parent *storage.WorkflowExecution, in definition.BulkDiagnosticInput, children []*storage.WorkflowExecution) (map[string]any, error) {
	// every child is registered up front so queued ones can be cancelled
	ctxs := make([]context.Context, len(children))
	runs := make([]*run, len(children))
	for i, child := range children {
		ctxs[i], runs[i] = e.register(ctx, child.ID)
	}

	slots := semaphore.NewWeighted(int64(e.bulkLimit))
	var g errgroup.Group
	for i, child := range children {
		childIn := in.Child(in.MachineIDs[i])
		g.Go(func() error {
			_ = e.execute(ctxs[i], runs[i], child, func(ctx context.Context, exec *storage.WorkflowExecution) (map[string]any, error) {
				if err := slots.Acquire(ctx, 1); err != nil {
					return nil, err
				}
				defer slots.Release(1)
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				e.markRunning(ctx, exec)
				return e.runDiagnostic(ctx, exec, childIn)
			})
			return nil
		})
	}
	_ = g.Wait()

	results := make([]childResult, 0, len(children))
	failed := 0
	for _, child := range children {
		results = append(results, childResult{ID: child.ID, Status: child.Status})
		if child.Status != storage.ExecutionCompleted {
			failed++
		}
	}
	out := map[string]any{
		"total":     len(children),
		"completed": len(children) - failed,
		"failed":    failed,
		"children":  results,
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	if failed == len(children) {
		return out, fmt.Errorf("all %d diagnostics failed", failed)
	}
	return out, nil
}

func (e *Engine) runMaintenance(ctx context.Context, exec *storage.WorkflowExecution, in definition.MaintenanceInput) (map[string]any, error) {
	state := map[string]any{"machine_id": in.MachineID.String()}

	if delay := in.At.Sub(e.now()); delay > 0 {
		e.publish(ctx, exec.ID, "activity.started", map[string]any{
			"activity": definition.ActivityWaitWindow,
			"until":    in.At.UTC(),
		})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return state, ctx.Err()
		case <-timer.C:
		}
	}
	e.markRunning(ctx, exec)

	err := e.activity(ctx, exec, state, definition.ActivityCheckAvailability, func(ctx context.Context) (map[string]any, error) {
		ok, err := e.machines.AvailableForDiagnostic(ctx, in.MachineID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, executor.Permanent(fmt.Errorf("%w: machine %s is already under maintenance", types.ErrConflict, in.MachineID))
		}
		return map[string]any{"available": true}, nil
	})
	if err != nil {
		return state, err
	}

	var diagID uuid.UUID
	err = e.activity(ctx, exec, state, definition.ActivityRecordMaintenance, func(ctx context.Context) (map[string]any, error) {
		d, err := e.diagnostics.Create(ctx, diagnostics.Input{
			MachineID:           in.MachineID,
			Timestamp:           e.now().UTC(),
			DiagnosticType:      definition.MaintenanceDiagnosticType,
			Details:             "Scheduled maintenance executed",
			Status:              storage.DiagnosticInProgress,
			Technician:          definition.DefaultTechnician,
			InterventionDetails: "Maintenance started",
		})
		if err != nil {
			return nil, err
		}
		diagID = d.ID
		exec.DiagnosticID = &diagID
		return map[string]any{"diagnostic_id": d.ID.String()}, nil
	})
	if err != nil {
		return state, err
	}

	err = e.activity(ctx, exec, state, definition.ActivityCompleteTasks, func(ctx context.Context) (map[string]any, error) {
		details := "Tasks: " + strings.Join(in.Tasks, "; ")
		if _, err := e.diagnostics.UpdateStatus(ctx, diagID, storage.DiagnosticCompleted, details); err != nil {
			return nil, err
		}
		return map[string]any{"tasks": in.Tasks}, nil
	})
	return state, err
}
