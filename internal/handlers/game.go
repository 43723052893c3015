package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"game-lobby-backend/internal/models"
	"game-lobby-backend/internal/services"
)

type GameHandler struct {
	visibility *services.VisibilityService
	sessions   *services.SessionRegistry
	logger     *slog.Logger
}

func NewGameHandler(visibility *services.VisibilityService, sessions *services.SessionRegistry, logger *slog.Logger) *GameHandler {
	return &GameHandler{
		visibility: visibility,
		sessions:   sessions,
		logger:     logger,
	}
}

// ListGames is the lobby listing. Hidden games are left out; maintenance
// games are listed with their resolution so the client can grey them out.
func (h *GameHandler) ListGames(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var filter models.GameFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	games, err := h.visibility.Lobby(c.Request.Context(), userID, filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"games":   games,
		"count":   len(games),
	})
}

func (h *GameHandler) LaunchGame(c *gin.Context) {
	userID := c.GetInt64("user_id")
	gameID, ok := paramID(c, "id")
	if !ok {
		return
	}

	result, err := h.sessions.LaunchGame(c.Request.Context(), userID, gameID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": result,
	})
}

func (h *GameHandler) GetGameVisibility(c *gin.Context) {
	userID := c.GetInt64("user_id")
	gameID, ok := paramID(c, "id")
	if !ok {
		return
	}

	gr, err := h.visibility.ResolveGame(c.Request.Context(), userID, gameID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"game_id":    gr.Game.ID,
		"visibility": gr.Resolution,
	})
}

func (h *GameHandler) GetProviderVisibility(c *gin.Context) {
	userID := c.GetInt64("user_id")
	providerID, ok := paramID(c, "id")
	if !ok {
		return
	}
	apiTag := c.Param("tag")

	res, err := h.visibility.ResolveProvider(c.Request.Context(), userID, apiTag, providerID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"api_tag":     apiTag,
		"provider_id": providerID,
		"visibility":  res,
	})
}

func (h *GameHandler) GetGroupVisibility(c *gin.Context) {
	userID := c.GetInt64("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}

	res, err := h.visibility.ResolveGroup(c.Request.Context(), userID, groupID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"group_id":   groupID,
		"visibility": res,
	})
}
