package handlers

import (
	"context"
	"strings"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/sheet-agent/backend/internal/metrics"
	"github.com/sheet-agent/backend/internal/pipeline"
	"github.com/sheet-agent/backend/pkg/logger"
)

// VoiceHandler serves the voice WebSocket. A connection carries at most
// one analysis at a time; questions arriving mid-run are rejected with
// a busy error rather than queued.
type VoiceHandler struct {
	orchestrator   *pipeline.Orchestrator
	minQuestionLen int
}

func NewVoiceHandler(orchestrator *pipeline.Orchestrator, minQuestionLen int) *VoiceHandler {
	if minQuestionLen <= 0 {
		minQuestionLen = 3
	}
	return &VoiceHandler{orchestrator: orchestrator, minQuestionLen: minQuestionLen}
}

type voiceMessage struct {
	Text string `json:"text"`
}

func (h *VoiceHandler) Handle(conn *websocket.Conn) {
	metrics.VoiceConnections.Inc()
	defer metrics.VoiceConnections.Dec()

	logger.Info("Voice connection opened", zap.String("remote", conn.RemoteAddr().String()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		writeMu sync.Mutex
		gate    pipeline.Gate
		wg      sync.WaitGroup
	)

	send := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	for {
		var msg voiceMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Voice connection error", zap.Error(err))
			}
			break
		}

		question := strings.TrimSpace(msg.Text)
		if len([]rune(question)) < h.minQuestionLen {
			_ = send(map[string]string{
				"type":  "error",
				"error": "question too short",
			})
			continue
		}

		if !gate.TryAcquire() {
			_ = send(map[string]string{
				"type":  "error",
				"error": "analysis already in progress",
			})
			continue
		}

		if err := send(map[string]string{
			"status":   "received",
			"question": question,
		}); err != nil {
			gate.Release()
			break
		}

		wg.Add(1)
		go func(question string) {
			defer wg.Done()
			defer gate.Release()

			session := h.orchestrator.Stream(ctx, question)
			for ev := range session.Events() {
				if err := send(ev); err != nil {
					// Client gone; abandon the run.
					cancel()
					return
				}
			}
		}(question)
	}

	// Disconnect abandons any in-flight run.
	cancel()
	wg.Wait()
	logger.Info("Voice connection closed")
}
