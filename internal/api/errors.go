package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/hydrarr/internal/arr"
)

// respondBadRequest answers a client input error. These messages are
// validation errors and safe to expose.
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

// respondUpstreamError converts an upstream failure into a response.
// A not-configured service is the caller asking for something that was
// never set up, not an upstream outage, so it answers 400; everything
// else is a 502 carrying the upstream error's message.
func respondUpstreamError(c *gin.Context, err error) {
	if arr.IsNotConfigured(err) {
		respondBadRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
