package handlers

import (
	"errors"
	"net/http"

	"toeicprep/middleware"
	"toeicprep/models"
	"toeicprep/respond"
	"toeicprep/services"
	"toeicprep/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type GenerateQuestionsRequest struct {
	Type         string `json:"type" binding:"required,oneof=LISTENING_PART1 LISTENING_PART2 LISTENING_PART3 LISTENING_PART4 READING_PART5 READING_PART6 READING_PART7"`
	Difficulty   string `json:"difficulty" binding:"required,oneof=BEGINNER INTERMEDIATE ADVANCED"`
	Count        int    `json:"count" binding:"min=1,max=20"`
	Topic        string `json:"topic" binding:"omitempty,max=100"`
	CustomPrompt string `json:"customPrompt" binding:"omitempty,max=500"`
}

type ChatRequest struct {
	Message string               `json:"message" binding:"required,max=2000"`
	History []models.ChatMessage `json:"history" binding:"omitempty,max=20,dive"`
}

// consume takes one unit of resource for the current user. It writes the
// response and returns false when the request must stop.
func (h *Handler) consume(c *gin.Context, resource string) bool {
	quota, err := h.Quotas.Consume(c.Request.Context(), middleware.UserID(c), resource)
	if errors.Is(err, services.ErrQuotaExceeded) {
		quotaExceeded(c, quota)
		return false
	}
	if err != nil {
		h.serverError(c, "Failed to check usage quota", err)
		return false
	}
	return true
}

// aiError maps a provider failure to 502 and gives back the quota unit.
func (h *Handler) aiError(c *gin.Context, resource string, err error) {
	h.Quotas.Release(c.Request.Context(), middleware.UserID(c), resource)

	message := "AI provider unavailable"
	if errors.Is(err, services.ErrGenerationFailed) {
		message = "Question generation failed"
	}
	h.Logger.Warn("ai request failed",
		zap.String("request_id", middleware.RequestID(c)),
		zap.String("resource", resource),
		zap.Error(err),
	)
	respond.Error(c, http.StatusBadGateway, message)
}

func (h *Handler) GenerateQuestions(c *gin.Context) {
	req := validation.Body[GenerateQuestionsRequest](c)
	if !h.consume(c, models.ResourceAIQuestion) {
		return
	}

	questions, err := h.AI.GenerateQuestions(c.Request.Context(), services.QuestionRequest{
		Type:         req.Type,
		Difficulty:   req.Difficulty,
		Count:        req.Count,
		Topic:        req.Topic,
		CustomPrompt: req.CustomPrompt,
	})
	if err != nil {
		h.aiError(c, models.ResourceAIQuestion, err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{"questions": questions})
}

func (h *Handler) Chat(c *gin.Context) {
	req := validation.Body[ChatRequest](c)
	if !h.consume(c, models.ResourceAIChat) {
		return
	}

	reply, err := h.AI.Chat(c.Request.Context(), req.Message, req.History)
	if err != nil {
		h.aiError(c, models.ResourceAIChat, err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{"reply": reply})
}
