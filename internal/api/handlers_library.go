package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *RESTServer) handleTVOverview(c *gin.Context) {
	overview, err := s.engine.TVOverview(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (s *RESTServer) handleMoviesOverview(c *gin.Context) {
	overview, err := s.engine.MoviesOverview(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (s *RESTServer) handleEpisodes(c *gin.Context) {
	seriesID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "Invalid series id")
		return
	}
	season, err := strconv.Atoi(c.Query("season"))
	if err != nil || season < 0 {
		respondBadRequest(c, "Invalid or missing season")
		return
	}

	episodes, err := s.engine.Episodes(c.Request.Context(), seriesID, season)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, episodes)
}
