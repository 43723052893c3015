package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"game-lobby-backend/internal/services"
)

type UserHandler struct {
	redisService *services.RedisService
	catalog      services.CatalogReader
	logger       *slog.Logger
}

func NewUserHandler(redisService *services.RedisService, catalog services.CatalogReader, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		redisService: redisService,
		catalog:      catalog,
		logger:       logger,
	}
}

func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	userID := c.GetInt64("user_id")

	user, err := h.catalog.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	wallet, err := h.redisService.GetWallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":       user,
		"session_id": c.GetString("session_id"),
		"wallet":     wallet.Response(),
	})
}

func (h *UserHandler) GetBalance(c *gin.Context) {
	userID := c.GetInt64("user_id")

	wallet, err := h.redisService.GetWallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"wallet":  wallet.Response(),
	})
}

func (h *UserHandler) GetTransactions(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var query struct {
		Limit int64 `form:"limit"`
	}
	c.ShouldBindQuery(&query)

	transactions, err := h.redisService.GetUserTransactions(c.Request.Context(), userID, query.Limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"transactions": transactions,
		"count":        len(transactions),
	})
}
