package handlers

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"toeicprep/middleware"
	"toeicprep/models"
	"toeicprep/respond"
	"toeicprep/store"
	"toeicprep/validation"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const maxImportRows = 2000

type VocabularyQuery struct {
	Mastered *bool  `form:"mastered"`
	Tag      string `form:"tag" binding:"omitempty,max=50"`
	Search   string `form:"q" binding:"omitempty,max=100"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

type VocabularyRequest struct {
	Word       string         `json:"word" binding:"required,min=1,max=100"`
	Meanings   types.JSONText `json:"meanings"`
	Example    string         `json:"example" binding:"omitempty,max=500"`
	AudioURL   string         `json:"audio_url" binding:"omitempty,url,max=500"`
	Tags       []string       `json:"tags" binding:"omitempty,max=20,dive,min=1,max=50"`
	IsMastered bool           `json:"is_mastered"`
}

func (r VocabularyRequest) Validate() []validation.FieldError {
	if len(r.Meanings) == 0 {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(r.Meanings, &list); err != nil || list == nil {
		return []validation.FieldError{{Field: "meanings", Message: "meanings must be an array"}}
	}
	return nil
}

type ReviewRequest struct {
	Mastered *bool `json:"mastered"`
}

func (h *Handler) ListVocabulary(c *gin.Context) {
	q := validation.QueryOf[VocabularyQuery](c)
	limit := q.Limit
	if limit == 0 {
		limit = 50
	}
	page := q.Page
	if page == 0 {
		page = 1
	}

	items, total, err := h.Vocabulary.ListVocabulary(c.Request.Context(), middleware.UserID(c), store.VocabularyFilter{
		Mastered: q.Mastered,
		Tag:      q.Tag,
		Search:   q.Search,
		Limit:    limit,
		Offset:   (page - 1) * limit,
	})
	if err != nil {
		h.serverError(c, "Failed to load vocabulary", err)
		return
	}
	respond.OK(c, http.StatusOK, gin.H{
		"items": items,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (h *Handler) CreateVocabulary(c *gin.Context) {
	req := validation.Body[VocabularyRequest](c)
	item, err := h.Vocabulary.CreateVocabulary(c.Request.Context(), models.VocabularyItem{
		UserID:   middleware.UserID(c),
		Word:     strings.TrimSpace(req.Word),
		Meanings: req.Meanings,
		Example:  req.Example,
		AudioURL: req.AudioURL,
		Tags:     pq.StringArray(req.Tags),
	})
	if errors.Is(err, store.ErrDuplicate) {
		respond.Error(c, http.StatusConflict, "Word already in vocabulary")
		return
	}
	if err != nil {
		h.serverError(c, "Failed to create vocabulary item", err)
		return
	}
	respond.OK(c, http.StatusCreated, item)
}

func (h *Handler) UpdateVocabulary(c *gin.Context) {
	id := validation.Params[IDParam](c).ID
	req := validation.Body[VocabularyRequest](c)

	item, err := h.Vocabulary.UpdateVocabulary(c.Request.Context(), models.VocabularyItem{
		ID:         id,
		UserID:     middleware.UserID(c),
		Word:       strings.TrimSpace(req.Word),
		Meanings:   req.Meanings,
		Example:    req.Example,
		AudioURL:   req.AudioURL,
		Tags:       pq.StringArray(req.Tags),
		IsMastered: req.IsMastered,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "Vocabulary item not found")
	case errors.Is(err, store.ErrDuplicate):
		respond.Error(c, http.StatusConflict, "Word already in vocabulary")
	case err != nil:
		h.serverError(c, "Failed to update vocabulary item", err)
	default:
		respond.OK(c, http.StatusOK, item)
	}
}

func (h *Handler) DeleteVocabulary(c *gin.Context) {
	id := validation.Params[IDParam](c).ID
	err := h.Vocabulary.DeleteVocabulary(c.Request.Context(), middleware.UserID(c), id)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "Vocabulary item not found")
		return
	}
	if err != nil {
		h.serverError(c, "Failed to delete vocabulary item", err)
		return
	}
	respond.Message(c, http.StatusOK, "Deleted", nil)
}

func (h *Handler) ReviewVocabulary(c *gin.Context) {
	id := validation.Params[IDParam](c).ID
	req := validation.Body[ReviewRequest](c)

	item, err := h.Vocabulary.ReviewVocabulary(c.Request.Context(), middleware.UserID(c), id, req.Mastered)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "Vocabulary item not found")
		return
	}
	if err != nil {
		h.serverError(c, "Failed to record review", err)
		return
	}
	respond.OK(c, http.StatusOK, item)
}

func (h *Handler) EnrichVocabulary(c *gin.Context) {
	id := validation.Params[IDParam](c).ID
	userID := middleware.UserID(c)
	ctx := c.Request.Context()

	item, err := h.Vocabulary.GetVocabulary(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "Vocabulary item not found")
		return
	}
	if err != nil {
		h.serverError(c, "Failed to load vocabulary item", err)
		return
	}

	if !h.consume(c, models.ResourceVocabEnrich) {
		return
	}
	enrichment, err := h.AI.EnrichWord(ctx, item.Word)
	if err != nil {
		h.aiError(c, models.ResourceVocabEnrich, err)
		return
	}

	item, err = h.Vocabulary.SetEnrichment(ctx, userID, id, enrichment.Meanings, enrichment.Example)
	if err != nil {
		h.serverError(c, "Failed to save enrichment", err)
		return
	}
	respond.OK(c, http.StatusOK, item)
}

// ImportVocabulary reads a CSV upload with the columns
// word,meaning,example,tags. A header row is optional; tags are separated
// by "|" or ";".
func (h *Handler) ImportVocabulary(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Config.Server.MaxUploadBytes)

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		validation.Abort(c, []validation.FieldError{{Field: "file", Message: "file is required"}})
		return
	}
	defer file.Close()

	items, rowErrs := parseVocabularyCSV(file)
	if len(rowErrs) > 0 {
		validation.Abort(c, rowErrs)
		return
	}
	if len(items) == 0 {
		validation.Abort(c, []validation.FieldError{{Field: "file", Message: "file contains no words"}})
		return
	}

	inserted, skipped, err := h.Vocabulary.ImportVocabulary(c.Request.Context(), middleware.UserID(c), items)
	if err != nil {
		h.serverError(c, "Failed to import vocabulary", err)
		return
	}
	h.Logger.Info("vocabulary imported",
		zap.String("user_id", middleware.UserID(c)),
		zap.Int("inserted", inserted),
		zap.Int("skipped", skipped),
	)
	respond.OK(c, http.StatusOK, gin.H{"imported": inserted, "skipped": skipped})
}

func parseVocabularyCSV(r io.Reader) ([]models.VocabularyItem, []validation.FieldError) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		items []models.VocabularyItem
		errs  []validation.FieldError
		seen  = make(map[string]bool)
	)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		field := fmt.Sprintf("row %d", line)
		if err != nil {
			errs = append(errs, validation.FieldError{Field: field, Message: "malformed CSV"})
			break
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "word") {
			continue
		}

		word := strings.TrimSpace(record[0])
		switch {
		case word == "":
			errs = append(errs, validation.FieldError{Field: field, Message: "word is required"})
			continue
		case len(word) > 100:
			errs = append(errs, validation.FieldError{Field: field, Message: "word must be at most 100 characters"})
			continue
		}
		if len(items) >= maxImportRows {
			errs = append(errs, validation.FieldError{Field: "file", Message: fmt.Sprintf("file must have at most %d rows", maxImportRows)})
			break
		}
		key := strings.ToLower(word)
		if seen[key] {
			continue
		}
		seen[key] = true

		item := models.VocabularyItem{Word: word}
		if len(record) > 1 && strings.TrimSpace(record[1]) != "" {
			meanings, _ := json.Marshal([]map[string]string{{"definition": strings.TrimSpace(record[1])}})
			item.Meanings = meanings
		}
		if len(record) > 2 {
			item.Example = strings.TrimSpace(record[2])
		}
		if len(record) > 3 {
			item.Tags = splitTags(record[3])
		}
		items = append(items, item)
	}
	return items, errs
}

func splitTags(s string) pq.StringArray {
	var tags pq.StringArray
	for _, t := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ';' }) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
