package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/hydrarr/internal/config"
)

func (s *RESTServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":                 true,
		"configuredServices": s.cfg.ConfiguredServices(),
		"uptime":             time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *RESTServer) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": s.cfg.ConfiguredServices()})
}

// handleOverview probes every service fresh and reports per-service
// online/offline/not-configured plus the download client block. A dead
// service shows up as offline; the request itself never fails.
func (s *RESTServer) handleOverview(c *gin.Context) {
	statuses, qbitStatus := s.prober.CheckAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"services":    statuses,
		"qbittorrent": qbitStatus,
	})
}

// handleDashboard serves the legacy category dashboard: flat status and
// queue cards for every service mapped to the category.
func (s *RESTServer) handleDashboard(c *gin.Context) {
	category := c.Param("category")
	serviceNames, ok := config.CategoryServices[category]
	if !ok {
		respondBadRequest(c, "Unknown category")
		return
	}
	items := s.engine.DashboardItems(c.Request.Context(), serviceNames)
	c.JSON(http.StatusOK, gin.H{"items": items})
}
