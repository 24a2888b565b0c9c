package model

import "github.com/google/uuid"

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
)

// Scored reports whether answers to this type are graded automatically.
// Short answers carry points but are never auto-scored.
func (t QuestionType) Scored() bool {
	return t == QuestionTypeMultipleChoice || t == QuestionTypeTrueFalse
}

// Option is one selectable answer of a question.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question represents a single exam question. Options keep their authored order;
// answers refer to them by index.
type Question struct {
	ID               uuid.UUID    `json:"id"`
	ExamID           uuid.UUID    `json:"exam_id"`
	Position         int          `json:"position"`
	Prompt           string       `json:"prompt"`
	Type             QuestionType `json:"question_type"`
	Options          []Option     `json:"options"`
	Points           int          `json:"points"`
	TimeLimitSeconds *int         `json:"time_limit_seconds,omitempty"`
}

// HasCorrectOption reports whether at least one option is flagged correct.
func (q *Question) HasCorrectOption() bool {
	for _, o := range q.Options {
		if o.IsCorrect {
			return true
		}
	}
	return false
}

// OptionForStudent is an option without its correctness flag.
type OptionForStudent struct {
	Text string `json:"text"`
}

// QuestionForStudent is a question without the answer key, sent to students.
type QuestionForStudent struct {
	ID               uuid.UUID          `json:"id"`
	Position         int                `json:"position"`
	Prompt           string             `json:"prompt"`
	Type             QuestionType       `json:"question_type"`
	Options          []OptionForStudent `json:"options"`
	Points           int                `json:"points"`
	TimeLimitSeconds *int               `json:"time_limit_seconds,omitempty"`
}

// ForStudent strips the answer key.
func (q *Question) ForStudent() QuestionForStudent {
	opts := make([]OptionForStudent, len(q.Options))
	for i, o := range q.Options {
		opts[i] = OptionForStudent{Text: o.Text}
	}
	return QuestionForStudent{
		ID:               q.ID,
		Position:         q.Position,
		Prompt:           q.Prompt,
		Type:             q.Type,
		Options:          opts,
		Points:           q.Points,
		TimeLimitSeconds: q.TimeLimitSeconds,
	}
}

// OptionInput is one authored option.
type OptionInput struct {
	Text      string `json:"text" binding:"required,notblank,max=1000"`
	IsCorrect bool   `json:"is_correct"`
}

// QuestionInput is the authoring payload for one question.
type QuestionInput struct {
	Prompt           string        `json:"prompt" binding:"required,notblank,max=4000"`
	Type             QuestionType  `json:"question_type" binding:"required,oneof=MULTIPLE_CHOICE TRUE_FALSE SHORT_ANSWER"`
	Options          []OptionInput `json:"options" binding:"omitempty,max=10,dive"`
	Points           int           `json:"points" binding:"required,min=1,max=1000"`
	TimeLimitSeconds *int          `json:"time_limit_seconds" binding:"omitempty,min=1"`
}

// ToQuestion converts the input; position is the index in the submitted list.
func (in *QuestionInput) ToQuestion(position int) Question {
	opts := make([]Option, len(in.Options))
	for i, o := range in.Options {
		opts[i] = Option{Text: o.Text, IsCorrect: o.IsCorrect}
	}
	return Question{
		Position:         position,
		Prompt:           in.Prompt,
		Type:             in.Type,
		Options:          opts,
		Points:           in.Points,
		TimeLimitSeconds: in.TimeLimitSeconds,
	}
}

// ReplaceQuestionsRequest is the payload for bulk replacing an exam's questions.
type ReplaceQuestionsRequest struct {
	Questions []QuestionInput `json:"questions" binding:"required,min=1,dive"`
}
