package rest

import (
	"net/http"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/machines"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/machines?location=&name=&type=
func (s *Server) listMachines(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		list []*storage.Machine
		err  error
	)
	switch {
	case c.Query("location") != "":
		list, err = s.svc.Machines.SearchByLocation(ctx, c.Query("location"))
	case c.Query("name") != "":
		list, err = s.svc.Machines.SearchByName(ctx, c.Query("name"))
	case c.Query("type") != "":
		list, err = s.svc.Machines.ByType(ctx, c.Query("type"))
	default:
		list, err = s.svc.Machines.List(ctx)
	}
	if err != nil {
		s.fail(c, "MACHINE", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"machines": list,
		"count":    len(list),
	})
}

// POST /api/v1/machines
func (s *Server) createMachine(c *gin.Context) {
	var req machines.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "MACHINE", "Invalid request body", err.Error())
		return
	}

	m, err := s.svc.Machines.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "MACHINE", err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// GET /api/v1/machines/:id
func (s *Server) getMachine(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	m, err := s.svc.Machines.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "MACHINE", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// PUT /api/v1/machines/:id
func (s *Server) updateMachine(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	var req machines.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "MACHINE", "Invalid request body", err.Error())
		return
	}

	m, err := s.svc.Machines.Update(c.Request.Context(), id, req)
	if err != nil {
		s.fail(c, "MACHINE", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// DELETE /api/v1/machines/:id
func (s *Server) deleteMachine(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	if err := s.svc.Machines.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, "MACHINE", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "machine deleted"})
}

func (s *Server) machineExists(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	exists, err := s.svc.Machines.Exists(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "MACHINE", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

func (s *Server) countMachines(c *gin.Context) {
	n, err := s.svc.Machines.Count(c.Request.Context())
	if err != nil {
		s.fail(c, "MACHINE", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) machineStats(c *gin.Context) {
	stats, err := s.svc.Machines.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, "MACHINE", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GET /api/v1/machines/:id/status
func (s *Server) machineStatus(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	status, err := s.svc.Machines.Status(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "MACHINE", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) machineAvailability(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	available, err := s.svc.Machines.AvailableForDiagnostic(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "MACHINE", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"machine_id": id, "available": available})
}

// GET /api/v1/machines/:id/sensors?type=
func (s *Server) machineSensors(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		list []*storage.Sensor
		err  error
	)
	if sensorType := c.Query("type"); sensorType != "" {
		list, err = s.svc.Sensors.ByMachineAndType(ctx, id, sensorType)
	} else {
		list, err = s.svc.Sensors.ByMachine(ctx, id)
	}
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sensors": list,
		"count":   len(list),
	})
}

func (s *Server) machineSensorCount(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	n, err := s.svc.Sensors.CountByMachine(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// GET /api/v1/machines/:id/readings/latest
func (s *Server) machineLatestReadings(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	latest, err := s.svc.Readings.LatestByMachine(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"readings": latest,
		"count":    len(latest),
	})
}

// GET /api/v1/machines/:id/alerts?unresolved=true&limit=
func (s *Server) machineAlerts(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	list, err := s.svc.Alerts.List(c.Request.Context(), &id, c.Query("unresolved") == "true", intQuery(c, "limit", 100))
	if err != nil {
		s.fail(c, "ALERT", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": list,
		"count":  len(list),
	})
}

// GET /api/v1/machines/:id/diagnostics?type=&from=&to=&limit=
func (s *Server) machineDiagnostics(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	from, err := timeQuery(c, "from")
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}

	var list []*storage.Diagnostic
	switch {
	case c.Query("type") != "" || from != nil || to != nil:
		list, err = s.svc.Diagnostics.Find(ctx, storage.DiagnosticFilter{
			MachineID:      &id,
			DiagnosticType: c.Query("type"),
			From:           from,
			To:             to,
		})
	case c.Query("limit") != "":
		list, err = s.svc.Diagnostics.LatestByMachine(ctx, id, intQuery(c, "limit", 10))
	default:
		list, err = s.svc.Diagnostics.ByMachine(ctx, id)
	}
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"diagnostics": list,
		"count":       len(list),
	})
}

func (s *Server) machineDiagnosticCount(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	n, err := s.svc.Diagnostics.CountByMachine(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) machineHasPending(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	pending, err := s.svc.Diagnostics.HasPending(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "DIAGNOSTIC", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

// GET /api/v1/machines/:id/reports?generated_by=&from=&to=
func (s *Server) machineReports(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		list []*storage.Report
		err  error
	)
	if c.Query("from") != "" || c.Query("to") != "" {
		from, to, rerr := rangeQuery(c)
		if rerr != nil {
			s.fail(c, "REPORT", rerr)
			return
		}
		list, err = s.svc.Reports.SearchByMachineGeneratorAndDate(ctx, id, c.Query("generated_by"), from, to)
	} else {
		list, err = s.svc.Reports.ByMachine(ctx, id)
	}
	if err != nil {
		s.fail(c, "REPORT", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": list,
		"count":   len(list),
	})
}

// GET /api/v1/machines/:id/reports/unresolved-alerts?since=
func (s *Server) machineReportsWithAlerts(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	since, err := timeQuery(c, "since")
	if err != nil {
		s.fail(c, "REPORT", err)
		return
	}
	if since == nil {
		t := time.Now().Add(-7 * 24 * time.Hour)
		since = &t
	}

	list, err := s.svc.Reports.RecentWithUnresolvedAlerts(c.Request.Context(), id, *since)
	if err != nil {
		s.fail(c, "REPORT", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reports": list,
		"count":   len(list),
	})
}

// POST /api/v1/machines/:id/reports
func (s *Server) generateReport(c *gin.Context) {
	id, ok := uuidParam(c, "MACHINE", "id")
	if !ok {
		return
	}

	report, err := s.svc.Reports.Generate(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "REPORT", err)
		return
	}
	c.JSON(http.StatusCreated, report)
}
