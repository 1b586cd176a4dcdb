package rest

import (
	"bytes"
	"net/http"

	"github.com/KevinKickass/OdinBridge/internal/controller"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// GET /api/v1/discovery
func (s *Server) getDiscoveryReport(c *gin.Context) {
	report := s.lm.Composer().Report()
	if report == nil {
		respondError(c, http.StatusNotFound, "DISCOVERY_404", "No discovery has run yet", nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

// POST /api/v1/discovery
func (s *Server) rediscover(c *gin.Context) {
	report, err := s.lm.Rediscover(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusBadGateway, "DISCOVERY_502", "Discovery failed", gin.H{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GET /api/v1/manifest?format=yaml|json
func (s *Server) getManifest(c *gin.Context) {
	composer := s.lm.Composer()
	manifest := controller.BuildManifest(composer.Root(), composer.Report())

	if c.DefaultQuery("format", "yaml") == "json" {
		c.JSON(http.StatusOK, manifest)
		return
	}

	var buf bytes.Buffer
	if err := manifest.WriteYAML(&buf); err != nil {
		respondError(c, http.StatusInternalServerError, "MANIFEST_500", "Failed to render manifest", err.Error())
		return
	}
	c.Data(http.StatusOK, "application/yaml", buf.Bytes())
}
