package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"toeicprep/metrics"
	"toeicprep/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var (
	ErrProviderUnavailable = errors.New("AI provider unavailable")
	ErrGenerationFailed    = errors.New("question generation failed")
)

const (
	MinQuestionCount = 1
	MaxQuestionCount = 20
)

type QuestionRequest struct {
	Type         string
	Difficulty   string
	Count        int
	Topic        string
	CustomPrompt string
}

var partGuides = map[string]struct {
	Name    string
	Guide   string
	Options int
}{
	models.ListeningPart1: {"Part 1: Photographs", "Describe a photograph in the passage field. Each question asks which statement best describes the photo.", 4},
	models.ListeningPart2: {"Part 2: Question-Response", "Put a spoken question or statement in the question field. Options are possible spoken responses.", 3},
	models.ListeningPart3: {"Part 3: Conversations", "Write a short workplace conversation between two or three speakers in the passage field.", 4},
	models.ListeningPart4: {"Part 4: Talks", "Write a short announcement, voicemail or talk by one speaker in the passage field.", 4},
	models.ReadingPart5:   {"Part 5: Incomplete Sentences", "Write a single business sentence with one blank marked ____. Options are words or phrases for the blank.", 4},
	models.ReadingPart6:   {"Part 6: Text Completion", "Write a short business text with a blank marked ____ in the passage field.", 4},
	models.ReadingPart7:   {"Part 7: Reading Comprehension", "Write an email, notice or article in the passage field and ask about its content.", 4},
}

var questionPrompt = template.Must(template.New("questions").Parse(`Create {{.Count}} TOEIC {{.PartName}} practice questions at {{.Difficulty}} difficulty.
{{.Guide}}
{{- if .Topic}}
Topic: {{.Topic}}
{{- end}}
{{- if .CustomPrompt}}
Additional instructions: {{.CustomPrompt}}
{{- end}}
Every question has exactly {{.Options}} options and one correct answer.
Respond with JSON only, in this shape:
{"questions":[{"passage":"","question":"","options":[{{.OptionShape}}],"correctAnswer":0,"explanation":""}]}
correctAnswer is the zero-based index of the correct option.`))

const questionSystem = "You write realistic TOEIC exam questions in natural business English. You always answer with valid JSON."

const tutorSystem = "You are a friendly TOEIC tutor. Explain grammar and vocabulary clearly, give short examples from business English and keep answers under 300 words."

// BuildQuestionPrompt renders the fixed question prompt for req.
func BuildQuestionPrompt(req QuestionRequest) (string, error) {
	part, ok := partGuides[req.Type]
	if !ok {
		return "", fmt.Errorf("unknown question type %q", req.Type)
	}
	shape := make([]string, part.Options)
	for i := range shape {
		shape[i] = `""`
	}

	var buf bytes.Buffer
	err := questionPrompt.Execute(&buf, map[string]any{
		"Count":        req.Count,
		"PartName":     part.Name,
		"Difficulty":   strings.ToLower(req.Difficulty),
		"Guide":        part.Guide,
		"Topic":        req.Topic,
		"CustomPrompt": req.CustomPrompt,
		"Options":      part.Options,
		"OptionShape":  strings.Join(shape, ","),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// stripFences removes a markdown code fence wrapped around the output.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// answerIndex accepts a numeric index or an option letter.
func answerIndex(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		return int(v.Int()), float64(v.Int()) == v.Float()
	case gjson.String:
		s := strings.ToUpper(strings.TrimSpace(v.String()))
		if len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z' {
			return int(s[0] - 'A'), true
		}
	}
	return 0, false
}

// questionOptions returns the trimmed options. A blank option rejects the
// whole list since the answer index refers to the original positions.
func questionOptions(v gjson.Result) ([]string, bool) {
	raw := v.Array()
	if len(raw) < 2 {
		return nil, false
	}
	options := make([]string, 0, len(raw))
	for _, o := range raw {
		s := strings.TrimSpace(o.String())
		if s == "" {
			return nil, false
		}
		options = append(options, s)
	}
	return options, true
}

// ParseQuestions turns provider output into exactly req.Count questions.
// Items missing text, with a blank option, with fewer than two options or
// with an out of range answer are dropped; too few valid items is
// ErrGenerationFailed.
func ParseQuestions(raw string, req QuestionRequest) ([]models.Question, error) {
	body := stripFences(raw)
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: output is not JSON", ErrGenerationFailed)
	}

	root := gjson.Parse(body)
	list := root
	if !root.IsArray() {
		list = root.Get("questions")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: no question list in output", ErrGenerationFailed)
	}

	questions := make([]models.Question, 0, req.Count)
	for _, item := range list.Array() {
		if len(questions) == req.Count {
			break
		}
		text := strings.TrimSpace(item.Get("question").String())
		if text == "" {
			continue
		}
		options, ok := questionOptions(item.Get("options"))
		if !ok {
			continue
		}
		answer, ok := answerIndex(item.Get("correctAnswer"))
		if !ok || answer < 0 || answer >= len(options) {
			continue
		}
		questions = append(questions, models.Question{
			ID:            uuid.NewString(),
			Type:          req.Type,
			Difficulty:    req.Difficulty,
			Passage:       strings.TrimSpace(item.Get("passage").String()),
			Question:      text,
			Options:       options,
			CorrectAnswer: answer,
			Explanation:   strings.TrimSpace(item.Get("explanation").String()),
		})
	}

	if len(questions) < req.Count {
		return nil, fmt.Errorf("%w: wanted %d valid questions, got %d", ErrGenerationFailed, req.Count, len(questions))
	}
	return questions, nil
}

type AIService struct {
	gen    Generator
	logger *zap.Logger
}

func NewAIService(gen Generator, logger *zap.Logger) *AIService {
	return &AIService{gen: gen, logger: logger}
}

func observe(kind string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		outcome = "provider_error"
	case errors.Is(err, ErrGenerationFailed):
		outcome = "malformed"
	case err != nil:
		outcome = "error"
	}
	metrics.RecordAIRequest(kind, outcome, time.Since(start))
}

func (s *AIService) GenerateQuestions(ctx context.Context, req QuestionRequest) (questions []models.Question, err error) {
	if req.Count < MinQuestionCount || req.Count > MaxQuestionCount {
		return nil, fmt.Errorf("count must be between %d and %d", MinQuestionCount, MaxQuestionCount)
	}
	prompt, err := BuildQuestionPrompt(req)
	if err != nil {
		return nil, err
	}

	defer func(start time.Time) { observe("questions", start, err) }(time.Now())
	raw, err := s.gen.Complete(ctx, Completion{
		System:   questionSystem,
		Messages: []models.ChatMessage{{Role: "user", Content: prompt}},
		JSON:     true,
	})
	if err != nil {
		return nil, err
	}

	questions, err = ParseQuestions(raw, req)
	if err != nil {
		s.logger.Warn("unusable question output",
			zap.String("type", req.Type),
			zap.Int("count", req.Count),
			zap.Int("output_bytes", len(raw)),
			zap.Error(err),
		)
		return nil, err
	}
	return questions, nil
}

// Chat answers message with the prior turns of the conversation.
func (s *AIService) Chat(ctx context.Context, message string, history []models.ChatMessage) (reply string, err error) {
	defer func(start time.Time) { observe("chat", start, err) }(time.Now())
	msgs := make([]models.ChatMessage, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, models.ChatMessage{Role: "user", Content: message})

	reply, err = s.gen.Complete(ctx, Completion{System: tutorSystem, Messages: msgs})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrGenerationFailed)
	}
	return reply, nil
}

type Enrichment struct {
	Meanings types.JSONText
	Example  string
}

// EnrichWord asks the provider for learner-facing meanings and an example.
func (s *AIService) EnrichWord(ctx context.Context, word string) (e Enrichment, err error) {
	defer func(start time.Time) { observe("enrich", start, err) }(time.Now())
	prompt := fmt.Sprintf(`Give the meanings of the English word %q as used in business English and one example sentence.
Respond with JSON only: {"meanings":[{"partOfSpeech":"","definition":""}],"example":""}`, word)

	raw, err := s.gen.Complete(ctx, Completion{
		System:   questionSystem,
		Messages: []models.ChatMessage{{Role: "user", Content: prompt}},
		JSON:     true,
	})
	if err != nil {
		return Enrichment{}, err
	}

	body := stripFences(raw)
	meanings := gjson.Get(body, "meanings")
	if !gjson.Valid(body) || !meanings.IsArray() || len(meanings.Array()) == 0 {
		return Enrichment{}, fmt.Errorf("%w: no meanings in output", ErrGenerationFailed)
	}
	return Enrichment{
		Meanings: types.JSONText(meanings.Raw),
		Example:  strings.TrimSpace(gjson.Get(body, "example").String()),
	}, nil
}
