// Package handler implements the pipeline's admin HTTP surface: liveness,
// readiness, per-team produced-event stats and DLQ redrive, served with
// gin and documented with swaggo, the same stack teacher's
// internal/handler/handler.go uses for its event-publishing API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/Demonslyr/posthog/docs"
	"github.com/Demonslyr/posthog/internal/dto"
)

// PingChecker is satisfied by every backing store's Ping method.
type PingChecker interface {
	Ping(ctx context.Context) error
}

// StatsSource answers the per-team produced-event count the admin surface
// reports.
type StatsSource interface {
	CountByTeamSince(ctx context.Context, teamID int64, since time.Time) (uint64, error)
}

// DLQRedriver replays dead-lettered events back through the pipeline.
type DLQRedriver interface {
	Redrive(ctx context.Context, maxMessages int32, replay func(ctx context.Context, raw []byte) error) (int, error)
}

type Handler struct {
	postgres PingChecker
	stats    StatsSource
	dlq      DLQRedriver
	replay   func(ctx context.Context, raw []byte) error
	router   *gin.Engine
	log      *zap.Logger
}

func NewHandler(postgres PingChecker, stats StatsSource, dlqRedriver DLQRedriver, replay func(ctx context.Context, raw []byte) error, log *zap.Logger) *Handler {
	h := &Handler{
		postgres: postgres,
		stats:    stats,
		dlq:      dlqRedriver,
		replay:   replay,
		router:   gin.Default(),
		log:      log,
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.health)
	h.router.GET("/ready", h.ready)
	h.router.GET("/pipeline/stats", h.pipelineStats)
	h.router.POST("/dlq/redrive", h.redriveDLQ)
	h.router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// health reports liveness only.
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Router /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// ready reports whether the relational store is reachable.
// @Summary Readiness check
// @Tags health
// @Produce json
// @Success 200 {object} dto.ReadyResponse
// @Failure 503 {object} dto.ReadyResponse
// @Router /ready [get]
func (h *Handler) ready(c *gin.Context) {
	pgOK := h.postgres.Ping(c.Request.Context()) == nil
	resp := dto.ReadyResponse{Status: "ok", Postgres: pgOK, ClickHouse: true}
	if !pgOK {
		resp.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// pipelineStats reports a team's produced-event count since a given time.
// @Summary Pipeline throughput for a team
// @Tags pipeline
// @Produce json
// @Param team_id query int true "Team ID"
// @Param since_unix_secs query int true "Window start, unix seconds"
// @Success 200 {object} dto.PipelineStatsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /pipeline/stats [get]
func (h *Handler) pipelineStats(c *gin.Context) {
	var req dto.PipelineStatsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	since := time.Unix(req.SinceUnixSecs, 0)
	count, err := h.stats.CountByTeamSince(c.Request.Context(), req.TeamID, since)
	if err != nil {
		h.log.Error("failed to load pipeline stats", zap.Error(err), zap.Int64("team_id", req.TeamID))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal_error", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.PipelineStatsResponse{
		TeamID:        req.TeamID,
		SinceUnixSecs: req.SinceUnixSecs,
		ProducedCount: count,
	})
}

// redriveDLQ replays dead-lettered events back through the pipeline.
// @Summary Redrive dead-lettered events
// @Tags pipeline
// @Produce json
// @Param max_messages query int false "Maximum messages to redrive"
// @Success 200 {object} dto.DLQRedriveResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /dlq/redrive [post]
func (h *Handler) redriveDLQ(c *gin.Context) {
	var req dto.DLQRedriveRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	if req.MaxMessages == 0 {
		req.MaxMessages = 10
	}

	replayed, err := h.dlq.Redrive(c.Request.Context(), req.MaxMessages, h.replay)
	if err != nil {
		h.log.Error("dlq redrive failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal_error", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.DLQRedriveResponse{Replayed: replayed})
}
