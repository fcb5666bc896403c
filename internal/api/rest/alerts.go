package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/alerts?machine_id=&unresolved=true&limit=
func (s *Server) listAlerts(c *gin.Context) {
	machineID, err := machineIDQuery(c)
	if err != nil {
		s.fail(c, "ALERT", err)
		return
	}

	list, err := s.svc.Alerts.List(c.Request.Context(), machineID, c.Query("unresolved") == "true", intQuery(c, "limit", 100))
	if err != nil {
		s.fail(c, "ALERT", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) getAlert(c *gin.Context) {
	id, ok := int64Param(c, "ALERT", "id")
	if !ok {
		return
	}

	alert, err := s.svc.Alerts.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "ALERT", err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// POST /api/v1/alerts/:id/resolve
func (s *Server) resolveAlert(c *gin.Context) {
	id, ok := int64Param(c, "ALERT", "id")
	if !ok {
		return
	}

	alert, err := s.svc.Alerts.Resolve(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "ALERT", err)
		return
	}
	c.JSON(http.StatusOK, alert)
}
