package rest

import (
	"net/http"

	"github.com/KevinKickass/SensorIntegration/internal/readings"
	"github.com/gin-gonic/gin"
)

// POST /api/v1/readings
func (s *Server) createReading(c *gin.Context) {
	var req readings.NewReading
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "READING", "Invalid request body", err.Error())
		return
	}

	accepted, err := s.svc.Readings.Create(c.Request.Context(), req, readings.SourceREST)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusCreated, accepted)
}

// POST /api/v1/readings/batch
func (s *Server) createReadingBatch(c *gin.Context) {
	var req struct {
		Readings []readings.NewReading `json:"readings" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "READING", "Invalid request body", err.Error())
		return
	}

	accepted, err := s.svc.Readings.CreateBatch(c.Request.Context(), req.Readings, readings.SourceREST)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}

	outside := 0
	for _, a := range accepted {
		if a.OutOfThreshold {
			outside++
		}
	}
	c.JSON(http.StatusCreated, gin.H{
		"readings":         accepted,
		"count":            len(accepted),
		"out_of_threshold": outside,
	})
}

// GET /api/v1/readings?sensor_id=&from=&to=&min=&max=&limit=
func (s *Server) listReadings(c *gin.Context) {
	f, err := readingFilter(c)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}

	list, err := s.svc.Readings.List(c.Request.Context(), f)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"readings": list,
		"count":    len(list),
	})
}

func (s *Server) getReading(c *gin.Context) {
	id, ok := int64Param(c, "READING", "id")
	if !ok {
		return
	}

	r, err := s.svc.Readings.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// PUT /api/v1/readings/:id re-runs the threshold check.
func (s *Server) updateReading(c *gin.Context) {
	id, ok := int64Param(c, "READING", "id")
	if !ok {
		return
	}

	var req readings.NewReading
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "READING", "Invalid request body", err.Error())
		return
	}

	accepted, err := s.svc.Readings.Update(c.Request.Context(), id, req)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, accepted)
}

func (s *Server) deleteReading(c *gin.Context) {
	id, ok := int64Param(c, "READING", "id")
	if !ok {
		return
	}

	if err := s.svc.Readings.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reading deleted"})
}

func (s *Server) readingInThreshold(c *gin.Context) {
	id, ok := int64Param(c, "READING", "id")
	if !ok {
		return
	}

	in, err := s.svc.Readings.IsInThreshold(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reading_id": id, "in_threshold": in})
}
