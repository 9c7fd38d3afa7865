package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// releaseTarget resolves the seriesId/movieId query parameters into the
// owning service and item id. Exactly one of the two must be present.
func releaseTarget(c *gin.Context) (service string, itemID int64, ok bool) {
	seriesID := c.Query("seriesId")
	movieID := c.Query("movieId")

	switch {
	case seriesID != "" && movieID != "":
		respondBadRequest(c, "Provide either seriesId or movieId, not both")
		return "", 0, false
	case seriesID != "":
		id, err := strconv.ParseInt(seriesID, 10, 64)
		if err != nil {
			respondBadRequest(c, "Invalid seriesId")
			return "", 0, false
		}
		return "sonarr", id, true
	case movieID != "":
		id, err := strconv.ParseInt(movieID, 10, 64)
		if err != nil {
			respondBadRequest(c, "Invalid movieId")
			return "", 0, false
		}
		return "radarr", id, true
	default:
		respondBadRequest(c, "Missing seriesId or movieId")
		return "", 0, false
	}
}

func (s *RESTServer) handleReleases(c *gin.Context) {
	service, itemID, ok := releaseTarget(c)
	if !ok {
		return
	}

	releases, err := s.engine.Releases(c.Request.Context(), service, itemID)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": service, "releases": releases})
}

func (s *RESTServer) handleRejectedCheck(c *gin.Context) {
	service, itemID, ok := releaseTarget(c)
	if !ok {
		return
	}

	rejected, err := s.engine.HasRejectedReleases(c.Request.Context(), service, itemID)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": service, "id": itemID, "rejected": rejected})
}

type rejectedBatchRequest struct {
	Service string  `json:"service" binding:"required"`
	IDs     []int64 `json:"ids" binding:"required"`
}

func (s *RESTServer) handleRejectedBatch(c *gin.Context) {
	var req rejectedBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body: service and ids are required")
		return
	}
	if req.Service != "sonarr" && req.Service != "radarr" {
		respondBadRequest(c, "Unknown service: "+req.Service)
		return
	}
	if len(req.IDs) == 0 {
		respondBadRequest(c, "No ids provided")
		return
	}

	results, failed := s.engine.RejectedBatch(c.Request.Context(), req.Service, req.IDs)

	// JSON object keys are strings; render the id map accordingly.
	rendered := make(map[string]bool, len(results))
	for id, rejected := range results {
		rendered[strconv.FormatInt(id, 10)] = rejected
	}
	c.JSON(http.StatusOK, gin.H{
		"service": req.Service,
		"results": rendered,
		"failed":  failed,
	})
}

type grabRequest struct {
	Service string `json:"service" binding:"required"`
	Release any    `json:"release" binding:"required"`
}

// handleGrabRelease passes the opaque release payload straight through to
// the manager. No retry on failure; the upstream's answer is the answer.
func (s *RESTServer) handleGrabRelease(c *gin.Context) {
	var req grabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body: service and release are required")
		return
	}
	if req.Service != "sonarr" && req.Service != "radarr" {
		respondBadRequest(c, "Unknown service: "+req.Service)
		return
	}

	resp, err := s.engine.GrabRelease(c.Request.Context(), req.Service, req.Release)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": req.Service, "result": resp})
}
