package rest

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/SensorIntegration/internal/diagnostics"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/diagnostics?machine_id=&type=&status=a,b&technician=&from=&to=&critical=true&limit=
func (s *Server) listDiagnostics(c *gin.Context) {
	machineID, err := machineIDQuery(c)
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	f := storage.DiagnosticFilter{
		MachineID:      machineID,
		DiagnosticType: c.Query("type"),
		Technician:     c.Query("technician"),
		Critical:       c.Query("critical") == "true",
		Limit:          intQuery(c, "limit", 0),
	}
	if raw := c.Query("status"); raw != "" {
		f.Status = strings.Split(raw, ",")
	}
	if f.From, err = timeQuery(c, "from"); err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	if f.To, err = timeQuery(c, "to"); err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}

	list, err := s.svc.Diagnostics.Find(c.Request.Context(), f)
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"diagnostics": list,
		"count":       len(list),
	})
}

func (s *Server) diagnosticList(c *gin.Context, list []*storage.Diagnostic, err error) {
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"diagnostics": list,
		"count":       len(list),
	})
}

// GET /api/v1/diagnostics/recent
func (s *Server) recentDiagnostics(c *gin.Context) {
	list, err := s.svc.Diagnostics.Recent(c.Request.Context())
	s.diagnosticList(c, list, err)
}

func (s *Server) criticalDiagnostics(c *gin.Context) {
	list, err := s.svc.Diagnostics.Critical(c.Request.Context())
	s.diagnosticList(c, list, err)
}

func (s *Server) activeDiagnostics(c *gin.Context) {
	list, err := s.svc.Diagnostics.Active(c.Request.Context())
	s.diagnosticList(c, list, err)
}

func (s *Server) completedDiagnostics(c *gin.Context) {
	list, err := s.svc.Diagnostics.Completed(c.Request.Context())
	s.diagnosticList(c, list, err)
}

func (s *Server) countDiagnostics(c *gin.Context) {
	n, err := s.svc.Diagnostics.Count(c.Request.Context())
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) diagnosticStats(c *gin.Context) {
	stats, err := s.svc.Diagnostics.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// POST /api/v1/diagnostics/classify
func (s *Server) classifyDiagnostic(c *gin.Context) {
	var req struct {
		DiagnosticType string `json:"diagnostic_type" binding:"required"`
		Details        string `json:"details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "DIAGNOSTIC", "Invalid request body", err.Error())
		return
	}

	severity := diagnostics.Classify(req.DiagnosticType, req.Details)
	c.JSON(http.StatusOK, gin.H{
		"severity": severity,
		"critical": diagnostics.IsCritical(severity),
	})
}

// POST /api/v1/diagnostics
func (s *Server) createDiagnostic(c *gin.Context) {
	var req diagnostics.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "DIAGNOSTIC", "Invalid request body", err.Error())
		return
	}

	d, err := s.svc.Diagnostics.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) getDiagnostic(c *gin.Context) {
	id, ok := uuidParam(c, "DIAGNOSTIC", "id")
	if !ok {
		return
	}

	d, err := s.svc.Diagnostics.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// PUT /api/v1/diagnostics/:id
func (s *Server) updateDiagnostic(c *gin.Context) {
	id, ok := uuidParam(c, "DIAGNOSTIC", "id")
	if !ok {
		return
	}

	var req diagnostics.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "DIAGNOSTIC", "Invalid request body", err.Error())
		return
	}

	d, err := s.svc.Diagnostics.Update(c.Request.Context(), id, req)
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// PATCH /api/v1/diagnostics/:id/status
func (s *Server) updateDiagnosticStatus(c *gin.Context) {
	id, ok := uuidParam(c, "DIAGNOSTIC", "id")
	if !ok {
		return
	}

	var req struct {
		Status              string `json:"status" binding:"required"`
		InterventionDetails string `json:"intervention_details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "DIAGNOSTIC", "Invalid request body", err.Error())
		return
	}

	d, err := s.svc.Diagnostics.UpdateStatus(c.Request.Context(), id, req.Status, req.InterventionDetails)
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) deleteDiagnostic(c *gin.Context) {
	id, ok := uuidParam(c, "DIAGNOSTIC", "id")
	if !ok {
		return
	}

	if err := s.svc.Diagnostics.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "diagnostic deleted"})
}
