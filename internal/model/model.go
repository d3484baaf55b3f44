package model

import (
	"encoding/json"
	"time"
)

// QuestionType identifies one of the four supported question kinds.
type QuestionType string

const (
	// TypeSingleChoice is a question with exactly one correct option.
	TypeSingleChoice QuestionType = "single_choice"
	// TypeMultipleChoice is a question with a set of correct options.
	TypeMultipleChoice QuestionType = "multiple_choice"
	// TypeFillInTheBlank is a question with one answer text per blank.
	TypeFillInTheBlank QuestionType = "fill_in_the_blank"
	// TypeEssay is a free-text question graded by the AI evaluator.
	TypeEssay QuestionType = "essay"
)

// Objective reports whether the type is automatically gradable
// (everything except essay).
func (t QuestionType) Objective() bool {
	switch t {
	case TypeSingleChoice, TypeMultipleChoice, TypeFillInTheBlank:
		return true
	}
	return false
}

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	return t.Objective() || t == TypeEssay
}

// AnswerKey is the reference answer attached to a question. Exactly one
// shape is populated depending on the question type: Index for single
// choice, Indexes for multiple choice, Texts for fill-in-the-blank, and
// ReferenceExplanation for essays. Explanation carries the rationale shown
// after grading for objective types.
type AnswerKey struct {
	Index                *int     `json:"index,omitempty"`
	Indexes              []int    `json:"indexes,omitempty"`
	Texts                []string `json:"texts,omitempty"`
	Explanation          string   `json:"explanation,omitempty"`
	ReferenceExplanation string   `json:"reference_explanation,omitempty"`
}

// Question is one exam question. ID is empty while a question is still
// in flight on the generation stream; the server assigns it on save.
type Question struct {
	ID      string       `json:"id,omitempty"`
	Type    QuestionType `json:"type"`
	Stem    string       `json:"stem"`
	Options []string     `json:"options,omitempty"`
	Answer  AnswerKey    `json:"answer"`
}

// Paper is a generated exam paper.
type Paper struct {
	TestID      string     `json:"test_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

// Metadata is the paper-level header delivered first on the generation
// stream.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Answer is the normalized in-memory representation of a user's answer.
// The concrete type always matches the question type:
// SingleChoice / MultipleChoice / FillBlank / Essay.
type Answer interface {
	Kind() QuestionType
}

// SingleChoice is a zero-based option index.
type SingleChoice int

// MultipleChoice is a set of zero-based option indices.
type MultipleChoice []int

// FillBlank holds one answer text per blank, in blank order.
type FillBlank []string

// Essay is free answer text.
type Essay string

func (SingleChoice) Kind() QuestionType   { return TypeSingleChoice }
func (MultipleChoice) Kind() QuestionType { return TypeMultipleChoice }
func (FillBlank) Kind() QuestionType      { return TypeFillInTheBlank }
func (Essay) Kind() QuestionType          { return TypeEssay }

// UserAnswer is the wire shape of one answer as sent for grading.
// Exactly one value field is set according to QuestionType; pointer slices
// keep "empty" distinguishable from "absent" on the wire.
type UserAnswer struct {
	QuestionID    string       `json:"question_id"`
	QuestionType  QuestionType `json:"question_type"`
	AnswerIndex   *int         `json:"answer_index,omitempty"`
	AnswerIndices *[]int       `json:"answer_indices,omitempty"`
	AnswerTexts   *[]string    `json:"answer_texts,omitempty"`
	AnswerText    *string      `json:"answer_text,omitempty"`
}

// GradingResult is the per-question outcome of a grading round trip.
// IsCorrect is set for objective types only. Essay results carry the
// reference explanation instead, plus optional AI evaluation fields.
type GradingResult struct {
	QuestionID           string          `json:"question_id"`
	IsCorrect            *bool           `json:"is_correct,omitempty"`
	UserAnswer           json.RawMessage `json:"user_answer,omitempty"`
	CorrectAnswer        json.RawMessage `json:"correct_answer,omitempty"`
	ReferenceExplanation string          `json:"reference_explanation,omitempty"`
	Feedback             string          `json:"feedback,omitempty"`
	Strengths            []string        `json:"strengths,omitempty"`
	AreasForImprovement  []string        `json:"areas_for_improvement,omitempty"`
}

// PaperSummary is the lightweight paper view embedded in history listings.
type PaperSummary struct {
	ID                      string    `json:"id"`
	Name                    string    `json:"name"`
	CreatedAt               time.Time `json:"created_at"`
	TotalObjectiveQuestions int       `json:"total_objective_questions"`
	TotalEssayQuestions     int       `json:"total_essay_questions"`
}

// PaperResult is one persisted submission with its grading outcome and
// any AI feedback attached afterwards.
type PaperResult struct {
	ID                        int64             `json:"id"`
	TestPaperID               string            `json:"test_paper_id"`
	UserAnswers               []UserAnswer      `json:"user_answers"`
	GradingResults            []GradingResult   `json:"grading_results"`
	OverallFeedback           string            `json:"overall_feedback,omitempty"`
	QuestionFeedbacks         map[string]string `json:"question_feedbacks,omitempty"`
	CorrectObjectiveQuestions int               `json:"correct_objective_questions"`
	CreatedAt                 time.Time         `json:"created_at"`
	TestPaper                 *PaperSummary     `json:"test_paper,omitempty"`
}

// QuestionCount configures how many questions of one type to generate.
type QuestionCount struct {
	Type  QuestionType `json:"type"`
	Count int          `json:"count"`
}

// GenerateConfig is the generation request configuration supplied by the
// user alongside the knowledge source.
type GenerateConfig struct {
	Description    string          `json:"description"`
	QuestionConfig []QuestionCount `json:"question_config"`
	Difficulty     string          `json:"difficulty"`
}
