package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"nycquery_service/internal/core"
	"nycquery_service/internal/domain/model"
)

// QueryRunner answers a query with an envelope. *core.QueryService
// implements it.
type QueryRunner interface {
	Run(ctx context.Context, query string, history []model.Turn) *model.Envelope
}

type Handler struct {
	service  QueryRunner
	validate *validator.Validate
	log      *zap.Logger
}

func NewHandler(service QueryRunner, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{service: service, validate: validator.New(), log: log}
}

type AnalyzeRequest struct {
	Query   string       `json:"query" validate:"required,min=1,max=2000"`
	History []model.Turn `json:"history" validate:"omitempty,max=20,dive"`
}

// Analyze runs the pipeline. Every pipeline outcome, including failures,
// is a 200 carrying the envelope; only unusable bodies get a 400.
func (h *Handler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	log := h.log.With(zap.String("request_id", c.GetString(requestIDKey)))
	ctx := core.ContextWithLogger(c.Request.Context(), log)
	log.Info("analyze request", zap.Int("query_len", len(req.Query)), zap.Int("history", len(req.History)))

	env := h.service.Run(ctx, req.Query, req.History)
	if !env.Succeeded() {
		log.Info("analyze finished with error", zap.String("error_code", string(*env.Error)))
	}
	c.JSON(http.StatusOK, env)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
