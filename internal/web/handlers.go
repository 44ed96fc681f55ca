package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/report"
)

func (s *Server) handleList(c *gin.Context) {
	entries, err := s.reports.List()
	if err != nil {
		s.fail(c, err)
		return
	}

	if remote := c.Query("remote"); remote != "" {
		filtered := []report.Entry{}
		for _, e := range entries {
			if e.Remote == remote {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   entries,
	})
}

func (s *Server) handleReport(c *gin.Context) {
	data, _, err := s.reports.Get(c.Param("path"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) fail(c *gin.Context, err error) {
	code := ir.CodeOf(err)
	status := http.StatusInternalServerError
	if code == ir.CodeNotFound {
		status = http.StatusNotFound
	} else {
		s.logger.Error("report query failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{
		"status": "error",
		"error": gin.H{
			"code":    code,
			"message": err.Error(),
		},
	})
}
