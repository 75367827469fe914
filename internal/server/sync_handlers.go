package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/cloud"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handlePull(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		reject(c, http.StatusUnauthorized, syncapi.CodeUnauthorized, "unauthorized")
		return
	}

	var request syncapi.PullRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		reject(c, http.StatusBadRequest, syncapi.CodeInvalidRequest, "malformed pull request")
		return
	}

	response, err := h.sync.Pull(c.Request.Context(), userID, request.LastSyncTime)
	if err != nil {
		h.logger.Error("failed to serve pull", zap.String("user_id", userID), zap.Error(err))
		reject(c, http.StatusInternalServerError, syncapi.CodeInternal, "pull failed")
		return
	}
	respond(c, response)
}

func (h *httpHandler) handlePush(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		reject(c, http.StatusUnauthorized, syncapi.CodeUnauthorized, "unauthorized")
		return
	}

	var request syncapi.PushRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		reject(c, http.StatusBadRequest, syncapi.CodeInvalidRequest, "malformed push request")
		return
	}

	result, err := h.sync.Push(c.Request.Context(), userID, request)
	if errors.Is(err, cloud.ErrInvalidRecord) {
		h.logger.Info("push rejected", zap.String("user_id", userID), zap.Error(err))
		reject(c, http.StatusBadRequest, syncapi.CodeInvalidRecord, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to apply push", zap.String("user_id", userID), zap.Error(err))
		reject(c, http.StatusInternalServerError, syncapi.CodeInternal, "push failed")
		return
	}
	h.logger.Debug("push served",
		zap.String("user_id", userID),
		zap.Int("accepted", result.Accepted),
		zap.Int("ignored", result.Ignored))
	respond(c, syncapi.SyncResponse{
		ServerTime: result.ServerTime,
		Snapshots:  []syncapi.SnapshotDTO{},
		Categories: []syncapi.CategoryDTO{},
	})
}
