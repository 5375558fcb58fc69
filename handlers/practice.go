package handlers

import (
	"net/http"

	"toeicprep/middleware"
	"toeicprep/models"
	"toeicprep/respond"
	"toeicprep/validation"

	"github.com/gin-gonic/gin"
)

type PracticeRequest struct {
	Part            string `json:"part" binding:"required,oneof=LISTENING_PART1 LISTENING_PART2 LISTENING_PART3 LISTENING_PART4 READING_PART5 READING_PART6 READING_PART7"`
	TotalQuestions  int    `json:"total_questions" binding:"min=1,max=200"`
	CorrectAnswers  int    `json:"correct_answers" binding:"min=0"`
	AIQuestions     int    `json:"ai_questions" binding:"min=0"`
	BankQuestions   int    `json:"bank_questions" binding:"min=0"`
	Score           *int   `json:"score" binding:"omitempty,min=0,max=100"`
	DurationSeconds int    `json:"duration_seconds" binding:"min=0,max=86400"`
}

func (r PracticeRequest) Validate() []validation.FieldError {
	var errs []validation.FieldError
	if r.CorrectAnswers > r.TotalQuestions {
		errs = append(errs, validation.FieldError{Field: "correct_answers", Message: "correct_answers must not exceed total_questions"})
	}
	if r.AIQuestions+r.BankQuestions > r.TotalQuestions {
		errs = append(errs, validation.FieldError{Field: "ai_questions", Message: "ai_questions and bank_questions must not exceed total_questions"})
	}
	return errs
}

// score is the percentage of correct answers, rounded to the nearest point.
func (r PracticeRequest) score() int {
	if r.Score != nil {
		return *r.Score
	}
	if r.TotalQuestions == 0 {
		return 0
	}
	return (r.CorrectAnswers*200 + r.TotalQuestions) / (r.TotalQuestions * 2)
}

type PracticeQuery struct {
	Part   string `form:"part" binding:"omitempty,oneof=LISTENING_PART1 LISTENING_PART2 LISTENING_PART3 LISTENING_PART4 READING_PART5 READING_PART6 READING_PART7"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

func (h *Handler) CreatePractice(c *gin.Context) {
	req := validation.Body[PracticeRequest](c)
	record, err := h.Practice.CreatePracticeRecord(c.Request.Context(), models.PracticeRecord{
		UserID:          middleware.UserID(c),
		Part:            req.Part,
		TotalQuestions:  req.TotalQuestions,
		CorrectAnswers:  req.CorrectAnswers,
		AIQuestions:     req.AIQuestions,
		BankQuestions:   req.BankQuestions,
		Score:           req.score(),
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		h.serverError(c, "Failed to save practice record", err)
		return
	}
	respond.OK(c, http.StatusCreated, record)
}

func (h *Handler) ListPractice(c *gin.Context) {
	q := validation.QueryOf[PracticeQuery](c)
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	records, err := h.Practice.ListPracticeRecords(c.Request.Context(), middleware.UserID(c), q.Part, limit, q.Offset)
	if err != nil {
		h.serverError(c, "Failed to load practice records", err)
		return
	}
	if records == nil {
		records = []models.PracticeRecord{}
	}
	respond.OK(c, http.StatusOK, records)
}

func (h *Handler) PracticeStats(c *gin.Context) {
	stats, err := h.Practice.PracticeStats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.serverError(c, "Failed to load practice stats", err)
		return
	}
	respond.OK(c, http.StatusOK, stats)
}
