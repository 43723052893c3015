package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"game-lobby-backend/internal/services"
)

type SessionHandler struct {
	sessions *services.SessionRegistry
	logger   *slog.Logger
}

func NewSessionHandler(sessions *services.SessionRegistry, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

type SurfaceRequest struct {
	Status string `json:"status" binding:"required,oneof=opened blocked"`
}

// ReportSurface records whether the client's popup opened. A blocked popup
// answers with the stored launch URL so the retry does not mint a new one.
func (h *SessionHandler) ReportSurface(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req SurfaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	session, err := h.sessions.ReportSurface(c.Request.Context(), userID, c.Param("id"), req.Status == "opened")
	if err != nil {
		var le *services.LaunchError
		if errors.As(err, &le) && le.Kind == services.KindPopupBlocked {
			c.JSON(http.StatusOK, gin.H{
				"success":    false,
				"error_kind": le.Kind,
				"error":      le.Message,
				"launch_url": le.LaunchURL,
				"session":    session,
			})
			return
		}
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *SessionHandler) SurfaceClosed(c *gin.Context) {
	userID := c.GetInt64("user_id")

	if err := h.sessions.NotifyUserSurfaceClosed(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *SessionHandler) Heartbeat(c *gin.Context) {
	userID := c.GetInt64("user_id")

	if err := h.sessions.Heartbeat(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) EndSession(c *gin.Context) {
	userID := c.GetInt64("user_id")

	session, err := h.sessions.EndSession(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *SessionHandler) GetActiveSession(c *gin.Context) {
	userID := c.GetInt64("user_id")

	session, err := h.sessions.ActiveSession(c.Request.Context(), userID)
	if errors.Is(err, services.ErrSessionNotFound) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"session": nil,
		})
		return
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *SessionHandler) Reconcile(c *gin.Context) {
	userID := c.GetInt64("user_id")

	recovered, err := h.sessions.Reconcile(c.Request.Context(), userID)
	if err != nil && len(recovered) == 0 {
		respondError(c, h.logger, err)
		return
	}
	if err != nil {
		h.logger.Warn("partial reconcile", "user_id", userID, "err", err)
	}
	if recovered == nil {
		recovered = []services.Recovered{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   err == nil,
		"recovered": recovered,
	})
}

func (h *SessionHandler) GetHistory(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var query struct {
		Limit int64 `form:"limit"`
	}
	c.ShouldBindQuery(&query)

	sessions, err := h.sessions.History(c.Request.Context(), userID, query.Limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": sessions,
		"count":    len(sessions),
	})
}
