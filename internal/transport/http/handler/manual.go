package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rhewin/birthday-notifier/internal/sweeper"
)

// Dispatcher is the Sweeper slice the Manual Trigger needs.
type Dispatcher interface {
	DispatchDue(ctx context.Context, force bool) (sweeper.Summary, error)
}

type ManualHandler struct {
	sweeper Dispatcher
}

func NewManualHandler(sweeper Dispatcher) *ManualHandler {
	return &ManualHandler{sweeper: sweeper}
}

// TriggerBirthdayMessages forces an immediate dispatch pass, bypassing the
// scheduled_for check (spec §4.7) — used when a recipient is created on
// their birthday after the configured message hour.
func (h *ManualHandler) TriggerBirthdayMessages(c *gin.Context) {
	summary, err := h.sweeper.DispatchDue(c.Request.Context(), true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":                summary.Total,
		"queued":               summary.Queued,
		"skippedNotDue":        summary.SkippedNotDue,
		"skippedAlreadyQueued": summary.SkippedAlreadyQueued,
		"failed":               summary.FailedIDs,
	})
}
