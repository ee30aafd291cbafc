package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/sirupsen/logrus"
)

// requireOperator rejects ops calls that carry no caller identity.
func requireOperator(c *gin.Context) (string, bool) {
	username, ok := utils.GetUserNameFromContext(c.Request.Context())
	if !ok || username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return username, true
}

func (a *application) outboxStats(c *gin.Context) {
	if _, ok := requireOperator(c); !ok {
		return
	}
	counts, err := models.CountOutboxByStatus(c.Request.Context(), a.db)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

type revertDeadRequest struct {
	EventIds []string `json:"event_ids"`
}

// revertDeadOutbox puts DEAD events back to PENDING. No ids reverts all.
func (a *application) revertDeadOutbox(c *gin.Context) {
	username, ok := requireOperator(c)
	if !ok {
		return
	}
	var req revertDeadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}
	reverted, err := models.RevertDeadOutboxEvents(c.Request.Context(), a.db, req.EventIds)
	if err != nil {
		a.writeError(c, err)
		return
	}
	a.logger.WithFields(logrus.Fields{
		"field":     "OutboxDeadRevert",
		"operator":  username,
		"event_ids": req.EventIds,
		"reverted":  reverted,
	}).Info("reverted DEAD outbox events to PENDING")
	c.JSON(http.StatusOK, gin.H{
		"reverted":       reverted,
		"publish_status": models.OutboxPublishStatusPending,
		"reverted_at":    time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// dispatchOutbox runs one dispatcher pass inline.
func (a *application) dispatchOutbox(c *gin.Context) {
	if _, ok := requireOperator(c); !ok {
		return
	}
	stats, err := a.dispatcher.DispatchOnce(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
