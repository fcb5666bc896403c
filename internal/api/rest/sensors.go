package rest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/KevinKickass/SensorIntegration/internal/sensors"
	"github.com/KevinKickass/SensorIntegration/internal/storage"
	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GET /api/v1/sensors?type=&min=&max=&active=true
func (s *Server) listSensors(c *gin.Context) {
	ctx := c.Request.Context()

	min, err := floatQuery(c, "min")
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}
	max, err := floatQuery(c, "max")
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}

	var list []*storage.Sensor
	switch {
	case min != nil || max != nil:
		if min == nil || max == nil {
			s.fail(c, "SENSOR", fmt.Errorf("%w: min and max go together", types.ErrInvalidInput))
			return
		}
		list, err = s.svc.Sensors.ByThresholdRange(ctx, *min, *max)
	case c.Query("active") == "true":
		list, err = s.svc.Sensors.Active(ctx)
	case c.Query("type") != "":
		list, err = s.svc.Sensors.ByType(ctx, c.Query("type"))
	default:
		list, err = s.svc.Sensors.List(ctx)
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

// POST /api/v1/sensors
func (s *Server) createSensor(c *gin.Context) {
	var req sensors.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "SENSOR", "Invalid request body", err.Error())
		return
	}

	sensor, err := s.svc.Sensors.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}
	c.JSON(http.StatusCreated, sensor)
}

func (s *Server) getSensor(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}

	sensor, err := s.svc.Sensors.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}
	c.JSON(http.StatusOK, sensor)
}

// PUT /api/v1/sensors/:id
func (s *Server) updateSensor(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}

	var req sensors.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "SENSOR", "Invalid request body", err.Error())
		return
	}

	sensor, err := s.svc.Sensors.Update(c.Request.Context(), id, req)
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}
	c.JSON(http.StatusOK, sensor)
}

func (s *Server) deleteSensor(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}

	if err := s.svc.Sensors.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, "SENSOR", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sensor deleted"})
}

func (s *Server) sensorExists(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}

	exists, err := s.svc.Sensors.Exists(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

func (s *Server) countSensors(c *gin.Context) {
	n, err := s.svc.Sensors.Count(c.Request.Context())
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) sensorStats(c *gin.Context) {
	stats, err := s.svc.Sensors.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// POST /api/v1/sensors/:id/check {"value": 42.1}
func (s *Server) checkSensorValue(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}

	var req struct {
		Value *float64 `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "SENSOR", "Invalid request body", err.Error())
		return
	}

	sensor, err := s.svc.Sensors.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "SENSOR", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sensor_id":        id,
		"value":            *req.Value,
		"out_of_threshold": s.svc.Sensors.IsValueOutOfThreshold(sensor, *req.Value),
	})
}

// GET /api/v1/sensors/:id/readings?page=&size= or ?from=&to=
func (s *Server) sensorReadings(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if c.Query("from") != "" || c.Query("to") != "" {
		from, to, err := rangeQuery(c)
		if err != nil {
			s.fail(c, "READING", err)
			return
		}
		list, err := s.svc.Readings.BySensorAndDateRange(ctx, id, from, to)
		if err != nil {
			s.fail(c, "READING", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"readings": list,
			"count":    len(list),
		})
		return
	}

	page, err := s.svc.Readings.BySensorPaged(ctx, id, pageQuery(c))
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) sensorLatestReadings(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}

	list, err := s.svc.Readings.LatestBySensor(c.Request.Context(), id, intQuery(c, "limit", 10))
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"readings": list,
		"count":    len(list),
	})
}

func (s *Server) sensorLastReading(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}

	r, err := s.svc.Readings.LatestSingle(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// GET /api/v1/sensors/:id/readings/live serves the cached snapshot when present.
func (s *Server) sensorLiveReading(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}

	r, err := s.svc.Readings.Live(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// GET /api/v1/sensors/:id/readings/average?from=&to=
func (s *Server) sensorAverage(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		avg *float64
		err error
	)
	if c.Query("from") != "" || c.Query("to") != "" {
		from, to, rerr := rangeQuery(c)
		if rerr != nil {
			s.fail(c, "READING", rerr)
			return
		}
		avg, err = s.svc.Readings.AverageInRange(ctx, id, from, to)
	} else {
		avg, err = s.svc.Readings.Average(ctx, id)
	}
	if err != nil {
		s.fail(c, "READING", err)
		return
	}

	// null when the sensor has no readings in range
	c.JSON(http.StatusOK, gin.H{"sensor_id": id, "average": avg})
}

func (s *Server) sensorOutOfThreshold(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}

	list, err := s.svc.Readings.OutOfThreshold(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"readings": list,
		"count":    len(list),
	})
}

func (s *Server) sensorReadingCount(c *gin.Context) {
	id, ok := int64Param(c, "SENSOR", "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	total, err := s.svc.Readings.Count(ctx, id)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	outside, err := s.svc.Readings.CountOutOfThreshold(ctx, id)
	if err != nil {
		s.fail(c, "READING", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sensor_id":        id,
		"count":            total,
		"out_of_threshold": outside,
	})
}

// readingFilter builds a list filter from sensor_id, from, to, min, max and limit.
func readingFilter(c *gin.Context) (storage.ReadingFilter, error) {
	f := storage.ReadingFilter{Limit: intQuery(c, "limit", 1000)}

	if raw := c.Query("sensor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, fmt.Errorf("%w: sensor_id must be an integer", types.ErrInvalidInput)
		}
		f.SensorID = &id
	}
	var err error
	if f.From, err = timeQuery(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = timeQuery(c, "to"); err != nil {
		return f, err
	}
	if f.MinValue, err = floatQuery(c, "min"); err != nil {
		return f, err
	}
	if f.MaxValue, err = floatQuery(c, "max"); err != nil {
		return f, err
	}
	return f, nil
}

// machineIDQuery parses an optional machine_id query parameter.
func machineIDQuery(c *gin.Context) (*uuid.UUID, error) {
	raw := c.Query("machine_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: machine_id must be a UUID", types.ErrInvalidInput)
	}
	return &id, nil
}
