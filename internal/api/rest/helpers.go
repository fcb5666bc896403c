package rest

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fail writes err with the status of its sentinel. Internal errors are
// logged and never echoed to the client.
func (s *Server) fail(c *gin.Context, prefix string, err error) {
	status := types.HTTPStatus(err)
	code := fmt.Sprintf("%s_%d", prefix, status)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err))
		c.JSON(status, types.NewErrorResponse(code, "Internal server error", nil))
		return
	}
	c.JSON(status, types.NewErrorResponse(code, err.Error(), nil))
}

func badRequest(c *gin.Context, prefix, message string, details any) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(prefix+"_400", message, details))
}

func uuidParam(c *gin.Context, prefix, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, prefix, "Invalid "+name, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func int64Param(c *gin.Context, prefix, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		badRequest(c, prefix, "Invalid "+name, err.Error())
		return 0, false
	}
	return id, true
}

// timeQuery parses an optional RFC 3339 query parameter.
func timeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC 3339", types.ErrInvalidInput, name)
	}
	return &t, nil
}

func floatQuery(c *gin.Context, name string) (*float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", types.ErrInvalidInput, name)
	}
	return &v, nil
}

func intQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// rangeQuery reads a required from/to pair.
func rangeQuery(c *gin.Context) (time.Time, time.Time, error) {
	from, err := timeQuery(c, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from == nil || to == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from and to are required", types.ErrInvalidInput)
	}
	return *from, *to, nil
}

func pageQuery(c *gin.Context) types.PageRequest {
	return types.PageRequest{
		Page: intQuery(c, "page", 0),
		Size: intQuery(c, "size", types.DefaultPageSize),
	}.Normalize()
}
