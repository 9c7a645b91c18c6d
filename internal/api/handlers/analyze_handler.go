package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sheet-agent/backend/internal/cache/redis"
	"github.com/sheet-agent/backend/internal/metrics"
	"github.com/sheet-agent/backend/internal/pipeline"
	"github.com/sheet-agent/backend/internal/storage/models"
	"github.com/sheet-agent/backend/internal/storage/sqlite"
	"github.com/sheet-agent/backend/pkg/logger"
	"github.com/sheet-agent/backend/pkg/utils"
)

type AnalyzeHandler struct {
	orchestrator   *pipeline.Orchestrator
	cache          *redis.Client
	db             *sqlite.Client
	minQuestionLen int
}

func NewAnalyzeHandler(orchestrator *pipeline.Orchestrator, cache *redis.Client, db *sqlite.Client, minQuestionLen int) *AnalyzeHandler {
	if minQuestionLen <= 0 {
		minQuestionLen = 3
	}
	return &AnalyzeHandler{
		orchestrator:   orchestrator,
		cache:          cache,
		db:             db,
		minQuestionLen: minQuestionLen,
	}
}

func (h *AnalyzeHandler) question(c *fiber.Ctx) (string, error) {
	question := c.Query("question")
	if question == "" && c.Method() == fiber.MethodPost {
		var req struct {
			Question string `json:"question"`
		}
		if err := c.BodyParser(&req); err == nil {
			question = req.Question
		}
	}

	question = strings.TrimSpace(question)
	if len([]rune(question)) < h.minQuestionLen {
		return "", fmt.Errorf("question must be at least %d characters", h.minQuestionLen)
	}
	return question, nil
}

// Analyze runs the full pipeline synchronously. Identical questions hit
// the response cache when one is configured.
func (h *AnalyzeHandler) Analyze(c *fiber.Ctx) error {
	question, err := h.question(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	started := time.Now()
	questionHash := utils.HashString(question)

	var cached pipeline.AnalysisResult
	hit, err := h.cache.GetAnalysis(c.Context(), questionHash, &cached)
	if err != nil {
		logger.Warn("Analysis cache lookup failed", zap.Error(err))
	}
	if hit {
		metrics.CacheHits.WithLabelValues("analysis").Inc()
		return c.JSON(cached)
	}
	metrics.CacheMisses.WithLabelValues("analysis").Inc()

	result, err := h.orchestrator.Analyze(c.Context(), question)
	if err != nil {
		logger.Error("Analysis failed", zap.String("question", question), zap.Error(err))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	metrics.AnalysisDuration.WithLabelValues("sync").Observe(time.Since(started).Seconds())

	if err := h.cache.SetAnalysis(c.Context(), questionHash, result); err != nil {
		logger.Warn("Failed to cache analysis result", zap.Error(err))
	}

	return c.JSON(result)
}

// StreamAnalyze runs the pipeline and delivers its ProgressEvents over
// SSE, one event per transition, terminated by complete or error.
func (h *AnalyzeHandler) StreamAnalyze(c *fiber.Ctx) error {
	question, err := h.question(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	orchestrator := h.orchestrator
	started := time.Now()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		session := orchestrator.Stream(ctx, question)

		for ev := range session.Events() {
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error("Failed to marshal event", zap.Error(err))
				return
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)

			// A flush failure means the client hung up; cancelling the
			// context abandons the run without further events.
			if err := w.Flush(); err != nil {
				logger.Info("SSE client disconnected", zap.String("analysis_id", session.ID))
				return
			}
		}

		metrics.AnalysisDuration.WithLabelValues("sse").Observe(time.Since(started).Seconds())
		logger.Info("SSE stream completed", zap.String("analysis_id", session.ID))
	})

	return nil
}

// History returns the most recent finished runs.
func (h *AnalyzeHandler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)

	records, err := h.db.GetAnalysisHistory(limit)
	if err != nil {
		logger.Error("Failed to load analysis history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	if records == nil {
		records = []models.AnalysisRecord{}
	}
	return c.JSON(fiber.Map{"history": records})
}
