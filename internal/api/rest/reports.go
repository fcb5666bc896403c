package rest

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/reports/search?keyword=&page=&size=
func (s *Server) searchReports(c *gin.Context) {
	page, err := s.svc.Reports.SearchByKeyword(c.Request.Context(), c.Query("keyword"), pageQuery(c))
	if err != nil {
		s.fail(c, "REPORT", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GET /api/v1/reports/counts
func (s *Server) reportCounts(c *gin.Context) {
	counts, err := s.svc.Reports.CountByMachineAndGenerator(c.Request.Context())
	if err != nil {
		s.fail(c, "REPORT", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (s *Server) getReport(c *gin.Context) {
	id, ok := int64Param(c, "REPORT", "id")
	if !ok {
		return
	}

	report, err := s.svc.Reports.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "REPORT", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GET /api/v1/reports/:id/pdf
func (s *Server) exportReportPDF(c *gin.Context) {
	id, ok := int64Param(c, "REPORT", "id")
	if !ok {
		return
	}

	pdf, err := s.svc.Reports.ExportPDF(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "REPORT", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="report_%d.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *Server) deleteReport(c *gin.Context) {
	id, ok := int64Param(c, "REPORT", "id")
	if !ok {
		return
	}

	if err := s.svc.Reports.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, "REPORT", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "report deleted"})
}
