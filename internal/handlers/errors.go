package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"game-lobby-backend/internal/models"
	"game-lobby-backend/internal/services"
)

var kindStatus = map[services.LaunchErrorKind]int{
	services.KindPermissionDenied: http.StatusForbidden,
	services.KindSessionConflict:  http.StatusConflict,
	services.KindPopupBlocked:     http.StatusOK,
	services.KindProviderError:    http.StatusBadGateway,
	services.KindRaceConflict:     http.StatusConflict,
	services.KindNotFound:         http.StatusNotFound,
}

// respondError writes err in the lobby's error shape. Launch errors carry
// their kind; anything else is a 404 for missing rows or a 500.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var le *services.LaunchError
	if errors.As(err, &le) {
		body := gin.H{
			"success":    false,
			"error_kind": le.Kind,
			"error":      le.Message,
		}
		if le.RunningGame != "" {
			body["running_game"] = le.RunningGame
		}
		if le.LaunchURL != "" {
			body["launch_url"] = le.LaunchURL
		}
		if le.Kind == services.KindProviderError {
			logger.Warn("provider error", "path", c.FullPath(), "err", err)
		}
		c.JSON(kindStatus[le.Kind], body)
		return
	}

	if errors.Is(err, models.ErrNotFound) || errors.Is(err, services.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success":    false,
			"error_kind": services.KindNotFound,
			"error":      "Not found",
		})
		return
	}

	logger.Error("request failed", "path", c.FullPath(), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "Internal error",
	})
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}
