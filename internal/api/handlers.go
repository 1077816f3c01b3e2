package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/internal/engine"
	"github.com/rawblock/pattern-engine/internal/patterns"
	"github.com/rawblock/pattern-engine/pkg/models"
)

// analyzeFilters are shared by single and batch requests.
type analyzeFilters struct {
	Blockchain     string   `json:"blockchain"`
	PatternTypes   []string `json:"pattern_types"`
	MinSeverity    string   `json:"min_severity"`
	TimeRangeHours float64  `json:"time_range_hours"`
	MinConfidence  *float64 `json:"min_confidence"`
}

type analyzeRequest struct {
	Address string `json:"address" binding:"required"`
	analyzeFilters
}

type batchRequest struct {
	Addresses     []string `json:"addresses" binding:"required"`
	MaxConcurrent int      `json:"max_concurrent"`
	analyzeFilters
}

type parsedFilters struct {
	types         []models.PatternType
	minSeverity   models.Severity
	minConfidence float64
}

func (f analyzeFilters) parse() (parsedFilters, error) {
	out := parsedFilters{minConfidence: engine.DefaultMinConfidence}
	for _, v := range f.PatternTypes {
		t, err := models.ParsePatternType(v)
		if err != nil {
			return out, err
		}
		out.types = append(out.types, t)
	}
	if f.MinSeverity != "" {
		s, err := models.ParseSeverity(f.MinSeverity)
		if err != nil {
			return out, err
		}
		out.minSeverity = s
	}
	if f.MinConfidence != nil {
		if *f.MinConfidence < 0 || *f.MinConfidence > 1 {
			return out, errors.New("min_confidence must be within [0,1]")
		}
		out.minConfidence = *f.MinConfidence
	}
	if f.TimeRangeHours < 0 {
		return out, errors.New("time_range_hours must not be negative")
	}
	return out, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *APIHandler) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	f, err := req.parse()
	if err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.orch.AnalyzeAddress(c.Request.Context(), engine.AnalysisRequest{
		Address:        req.Address,
		Blockchain:     req.Blockchain,
		PatternTypes:   f.types,
		MinSeverity:    f.minSeverity,
		TimeRangeHours: req.TimeRangeHours,
		MinConfidence:  f.minConfidence,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, engine.ErrInvalidAddress):
		badRequest(c, err)
	case errors.Is(err, engine.ErrNoHistorySource):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Warn("analysis failed", zap.String("address", req.Address), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": result})
	}
}

func (h *APIHandler) handleBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	f, err := req.parse()
	if err != nil {
		badRequest(c, err)
		return
	}

	out, err := h.orch.BatchAnalyze(c.Request.Context(), engine.BatchRequest{
		Addresses:      req.Addresses,
		Blockchain:     req.Blockchain,
		PatternTypes:   f.types,
		MinSeverity:    f.minSeverity,
		TimeRangeHours: req.TimeRangeHours,
		MinConfidence:  f.minConfidence,
		MaxConcurrent:  req.MaxConcurrent,
	})
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// patternView adds the derived executable flag to a signature.
type patternView struct {
	models.PatternSignature
	Executable bool `json:"executable"`
}

func (h *APIHandler) view(sig models.PatternSignature) patternView {
	return patternView{PatternSignature: sig, Executable: h.orch.Library().Executable(sig.PatternID)}
}

// handleListPatterns supports ?type=, ?severity= and ?enabled=true filters.
func (h *APIHandler) handleListPatterns(c *gin.Context) {
	lib := h.orch.Library()

	sigs := lib.All()
	if v := c.Query("type"); v != "" {
		t, err := models.ParsePatternType(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		sigs = lib.ByType(t)
	}
	var sev models.Severity
	if v := c.Query("severity"); v != "" {
		s, err := models.ParseSeverity(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		sev = s
	}
	enabledOnly, _ := strconv.ParseBool(c.Query("enabled"))

	out := make([]patternView, 0, len(sigs))
	for _, id := range lib.IDs() {
		sig, ok := sigs[id]
		if !ok || (sev != "" && sig.Severity != sev) || (enabledOnly && !sig.Enabled) {
			continue
		}
		out = append(out, h.view(sig))
	}
	c.JSON(http.StatusOK, gin.H{"patterns": out, "count": len(out)})
}

func (h *APIHandler) handleGetPattern(c *gin.Context) {
	sig, ok := h.orch.Library().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": patterns.ErrPatternNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, h.view(sig))
}

func (h *APIHandler) handleSetEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		lib := h.orch.Library()
		var ok bool
		if enabled {
			ok = lib.Enable(id)
		} else {
			ok = lib.Disable(id)
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": patterns.ErrPatternNotFound.Error()})
			return
		}
		h.logger.Info("pattern toggled", zap.String("pattern_id", id), zap.Bool("enabled", enabled))
		c.JSON(http.StatusOK, gin.H{"pattern_id": id, "enabled": enabled})
	}
}

func (h *APIHandler) handlePatternStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Library().Statistics())
}

func (h *APIHandler) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Metrics())
}

func (h *APIHandler) handleClearCache(c *gin.Context) {
	h.orch.ClearCache()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// handleAlerts supports ?limit= (default 50) and ?min_severity=.
func (h *APIHandler) handleAlerts(c *gin.Context) {
	if h.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alerting not configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		badRequest(c, errors.New("limit must be a positive integer"))
		return
	}

	list := h.alerts.Recent(0)
	if v := c.Query("min_severity"); v != "" {
		s, err := models.ParseSeverity(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		list = h.alerts.BySeverity(s)
	}
	if len(list) > limit {
		list = list[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list, "count": len(list)})
}

// handleHealth returns engine status for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":         "operational",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}

	lib := h.orch.Library()
	var executable []string
	for _, id := range lib.IDs() {
		if lib.Executable(id) {
			executable = append(executable, id)
		}
	}
	sort.Strings(executable)
	body["detectors"] = executable
	body["cache_size"] = h.orch.Metrics().CacheSize

	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		} else {
			body["database"] = "connected"
		}
	}
	if h.hub != nil {
		body["stream_clients"] = h.hub.ClientCount()
	}
	c.JSON(status, body)
}
