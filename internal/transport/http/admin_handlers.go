package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AdminHandlers provides HTTP handlers for channel and client administration.
type AdminHandlers struct {
	admin Admin
	log   *zerolog.Logger
}

// NewAdminHandlers creates a new admin handlers instance.
func NewAdminHandlers(admin Admin, logger *zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{
		admin: admin,
		log:   logger,
	}
}

// ListChannels handles listing live channels.
// GET /api/channels
func (h *AdminHandlers) ListChannels(c *gin.Context) {
	channels := h.admin.Channels()
	h.log.Debug().Int("channel_count", len(channels)).Msg("channels listed")
	c.JSON(http.StatusOK, channels)
}

// ListClients handles listing connected clients.
// GET /api/clients
func (h *AdminHandlers) ListClients(c *gin.Context) {
	clients := h.admin.Clients()
	h.log.Debug().Int("client_count", len(clients)).Msg("clients listed")
	c.JSON(http.StatusOK, clients)
}

// KickClient disconnects a client by name.
// DELETE /api/clients/:name
func (h *AdminHandlers) KickClient(c *gin.Context) {
	name := c.Param("name")
	if !h.admin.Kick(name) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "client not found"})
		return
	}

	h.log.Info().Str("client", name).Str("operator", c.GetString(ContextKeyOperator)).Msg("client kicked by operator")
	c.Status(http.StatusNoContent)
}
