package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// errorsCap bounds the aggregated upstream log listing.
const errorsCap = 400

// handleErrors aggregates normalized logs from every configured service
// and the download client, newest first, optionally filtered by service,
// level, and message substring.
func (s *RESTServer) handleErrors(c *gin.Context) {
	service := strings.ToLower(c.DefaultQuery("service", "all"))
	level := strings.ToLower(c.DefaultQuery("level", "all"))
	search := c.Query("search")

	items := s.engine.AggregateLogs(c.Request.Context(), service, level, search, errorsCap)
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// handleRecentLogs serves the aggregator's own ring buffer.
func (s *RESTServer) handleRecentLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": s.log.Recent()})
}
