package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/gateway"
	"github.com/pario-ai/querygate/pkg/models"
)

type queryRequest struct {
	Query string `json:"query"`
}

type resetRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   s.gw.CostStatus(c.Request.Context()).Mode,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSONError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	res, err := s.gw.Execute(c.Request.Context(), req.Query)
	if err != nil {
		s.writeExecuteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.CostStatus(c.Request.Context()))
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	period := models.HistoryPeriod(c.DefaultQuery("period", string(models.PeriodDaily)))
	entries, err := s.gw.CostHistory(c.Request.Context(), period, limit)
	if err != nil {
		writeJSONError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "entries": entries})
}

func (s *Server) handleForecast(c *gin.Context) {
	days, ok := intQuery(c, "days")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.gw.CostForecast(c.Request.Context(), days))
}

func (s *Server) handleExport(c *gin.Context) {
	data, f, err := s.gw.ExportCostReport(c.Request.Context(), c.Query("format"))
	if err != nil {
		writeJSONError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	c.Data(http.StatusOK, f.ContentType(), data)
}

func (s *Server) handleAlerts(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	alerts, err := s.gw.Alerts(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("list alerts", zap.Error(err))
		writeJSONError(c, http.StatusInternalServerError, "querygate_error", "failed to list alerts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	stats, err := s.gw.CacheStats(c.Request.Context())
	if err != nil {
		s.logger.Error("cache stats", zap.Error(err))
		writeJSONError(c, http.StatusInternalServerError, "querygate_error", "failed to read cache stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleReset(c *gin.Context) {
	var req resetRequest
	// An empty body is a reset without a reason.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSONError(c, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
	}
	o, err := s.gw.ResetRestrictions(c.Request.Context(), actorOf(c), req.Reason)
	if err != nil {
		s.logger.Error("reset restrictions", zap.Error(err))
		writeJSONError(c, http.StatusInternalServerError, "querygate_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"override": o, "status": s.gw.CostStatus(c.Request.Context())})
}

func (s *Server) handleClearOverride(c *gin.Context) {
	cleared := s.gw.ClearOverride(c.Request.Context(), actorOf(c))
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

func (s *Server) handleClearCache(c *gin.Context) {
	expiredOnly := c.Query("expired") == "true"
	if err := s.gw.ClearCache(c.Request.Context(), expiredOnly); err != nil {
		s.logger.Error("clear cache", zap.Error(err))
		writeJSONError(c, http.StatusInternalServerError, "querygate_error", "failed to clear cache")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true, "expired_only": expiredOnly})
}

// writeExecuteError maps gateway failures to HTTP statuses.
func (s *Server) writeExecuteError(c *gin.Context, err error) {
	var pe *gateway.PolicyError
	var re *gateway.RemoteError
	switch {
	case errors.Is(err, gateway.ErrEmptyQuery):
		writeJSONError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &pe):
		code, typ := http.StatusServiceUnavailable, "service_suspended"
		switch {
		case errors.Is(err, gateway.ErrQueryRestricted):
			code, typ = http.StatusTooManyRequests, "query_restricted"
		case errors.Is(err, gateway.ErrCacheOnlyMiss):
			typ = "cache_only_miss"
		}
		c.AbortWithStatusJSON(code, gin.H{"error": apiError{
			Message: pe.Error(),
			Type:    typ,
			Code:    code,
			Mode:    pe.Mode.String(),
			Scope:   string(pe.Scope),
			Limit:   pe.Limit,
			Spent:   pe.Spent,
		}})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(c, http.StatusGatewayTimeout, "remote_timeout", err.Error())
	case errors.As(err, &re):
		writeJSONError(c, http.StatusBadGateway, "remote_error", err.Error())
	default:
		s.logger.Error("execute", zap.Error(err))
		writeJSONError(c, http.StatusInternalServerError, "querygate_error", err.Error())
	}
}

type apiError struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    int     `json:"code"`
	Mode    string  `json:"mode,omitempty"`
	Scope   string  `json:"scope,omitempty"`
	Limit   float64 `json:"limit,omitempty"`
	Spent   float64 `json:"spent,omitempty"`
}

func writeJSONError(c *gin.Context, code int, typ, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": apiError{Message: message, Type: typ, Code: code}})
}

// intQuery parses an optional non-negative integer query parameter.
// A missing parameter is 0.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSONError(c, http.StatusBadRequest, "invalid_request", "invalid "+name+" parameter")
		return 0, false
	}
	return n, true
}
