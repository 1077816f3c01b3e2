package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/internal/scanner"
)

func (h *APIHandler) requireWatcher(c *gin.Context) bool {
	if h.watcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "watcher not initialized"})
		return false
	}
	return true
}

func (h *APIHandler) handleWatchList(c *gin.Context) {
	if !h.requireWatcher(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"addresses": h.watcher.Addresses(),
		"progress":  h.watcher.GetProgress(),
	})
}

// handleWatchAdd adds addresses to the watch list.
// POST /api/v1/watch { "addresses": ["bc1q..."] }
func (h *APIHandler) handleWatchAdd(c *gin.Context) {
	if !h.requireWatcher(c) {
		return
	}
	var req struct {
		Addresses []string `json:"addresses" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	added := h.watcher.Add(req.Addresses...)
	c.JSON(http.StatusOK, gin.H{"added": added, "watched": len(h.watcher.Addresses())})
}

func (h *APIHandler) handleWatchRemove(c *gin.Context) {
	if !h.requireWatcher(c) {
		return
	}
	if !h.watcher.Remove(c.Param("address")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "address not watched"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleWatchScan launches one watch pass in the background.
func (h *APIHandler) handleWatchScan(c *gin.Context) {
	if !h.requireWatcher(c) {
		return
	}
	if h.watcher.GetProgress().IsRunning {
		c.JSON(http.StatusConflict, gin.H{"error": scanner.ErrScanInProgress.Error()})
		return
	}

	// Detached from the request so the pass outlives the response.
	go func() {
		if err := h.watcher.ScanOnce(context.Background()); err != nil && !errors.Is(err, scanner.ErrScanInProgress) {
			h.logger.Warn("manual watch pass failed", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "scan_started", "watched": len(h.watcher.Addresses())})
}
