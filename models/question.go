package models

// Question type identifiers, one per TOEIC exam part.
const (
	ListeningPart1 = "LISTENING_PART1"
	ListeningPart2 = "LISTENING_PART2"
	ListeningPart3 = "LISTENING_PART3"
	ListeningPart4 = "LISTENING_PART4"
	ReadingPart5   = "READING_PART5"
	ReadingPart6   = "READING_PART6"
	ReadingPart7   = "READING_PART7"
)

const (
	DifficultyBeginner     = "BEGINNER"
	DifficultyIntermediate = "INTERMEDIATE"
	DifficultyAdvanced     = "ADVANCED"
)

type Question struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Difficulty    string   `json:"difficulty"`
	Passage       string   `json:"passage,omitempty"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required,max=4000"`
}
