package rest

import (
	"net/http"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/workflow/definition"
	"github.com/gin-gonic/gin"
)

// POST /api/v1/workflows/diagnostics?wait=true
//
// Without wait the execution is started in the background and 202 is
// returned; with wait the call blocks until the diagnostic is analysed.
func (s *Server) startDiagnostic(c *gin.Context) {
	var req definition.DiagnosticInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "WORKFLOW", "Invalid request body", err.Error())
		return
	}
	ctx := c.Request.Context()

	if c.Query("wait") == "true" {
		exec, diag, err := s.svc.Workflows.RunDiagnostic(ctx, req)
		if err != nil && exec == nil {
			s.fail(c, "WORKFLOW", err)
			return
		}
		body := gin.H{"execution": exec, "diagnostic": diag}
		if err != nil {
			body["error"] = err.Error()
		}
		c.JSON(http.StatusOK, body)
		return
	}

	exec, err := s.svc.Workflows.StartDiagnostic(ctx, req)
	if err != nil {
		s.fail(c, "WORKFLOW", err)
		return
	}
	c.JSON(http.StatusAccepted, exec)
}

// POST /api/v1/workflows/diagnostics/bulk
func (s *Server) startBulkDiagnostics(c *gin.Context) {
	var req definition.BulkDiagnosticInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "WORKFLOW", "Invalid request body", err.Error())
		return
	}

	exec, err := s.svc.Workflows.StartBulkDiagnostics(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "WORKFLOW", err)
		return
	}
	c.JSON(http.StatusAccepted, exec)
}

// POST /api/v1/workflows/maintenance
func (s *Server) scheduleMaintenance(c *gin.Context) {
	var req definition.MaintenanceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "WORKFLOW", "Invalid request body", err.Error())
		return
	}

	exec, err := s.svc.Workflows.ScheduleMaintenance(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "WORKFLOW", err)
		return
	}
	c.JSON(http.StatusAccepted, exec)
}

// GET /api/v1/workflows/executions?kind=&status=&limit=
func (s *Server) listExecutions(c *gin.Context) {
	list, err := s.svc.Workflows.List(
		c.Request.Context(),
		c.Query("kind"),
		storage.ExecutionStatus(c.Query("status")),
		intQuery(c, "limit", 50),
	)
	if err != nil {
		s.fail(c, "WORKFLOW", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"executions": list,
		"count":      len(list),
	})
}

func (s *Server) getExecution(c *gin.Context) {
	status, err := s.svc.Workflows.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "WORKFLOW", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getExecutionEvents(c *gin.Context) {
	events, err := s.svc.Workflows.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "WORKFLOW", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_id": c.Param("id"),
		"events":       events,
		"count":        len(events),
	})
}

// POST /api/v1/workflows/executions/:id/signal
func (s *Server) signalExecution(c *gin.Context) {
	var req definition.StatusSignal
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "WORKFLOW", "Invalid request body", err.Error())
		return
	}

	diag, err := s.svc.Workflows.SignalStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		s.fail(c, "WORKFLOW", err)
		return
	}
	c.JSON(http.StatusOK, diag)
}

func (s *Server) cancelExecution(c *gin.Context) {
	if err := s.svc.Workflows.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, "WORKFLOW", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "execution cancelled"})
}

// POST /api/v1/workflows/executions/:id/terminate {"reason": "..."}
func (s *Server) terminateExecution(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// body is optional
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "terminated by operator"
	}

	if err := s.svc.Workflows.Terminate(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		s.fail(c, "WORKFLOW", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "execution terminated"})
}
