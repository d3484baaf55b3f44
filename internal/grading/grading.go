// Package grading implements automatic grading of objective question
// types against a paper's answer key.
package grading

import (
	"encoding/json"
	"strings"

	"github.com/lihaozhang01/ai4exam/internal/model"
)

// Grade checks one wire answer against the question's answer key.
// Only objective types are gradable; essay submissions always return
// false since they go through the AI evaluator instead.
func Grade(q model.Question, ua model.UserAnswer) bool {
	switch q.Type {
	case model.TypeSingleChoice:
		return ua.AnswerIndex != nil && q.Answer.Index != nil &&
			*ua.AnswerIndex == *q.Answer.Index
	case model.TypeMultipleChoice:
		if ua.AnswerIndices == nil {
			return false
		}
		return sameSet(*ua.AnswerIndices, q.Answer.Indexes)
	case model.TypeFillInTheBlank:
		if ua.AnswerTexts == nil {
			return false
		}
		return blanksMatch(*ua.AnswerTexts, q.Answer.Texts)
	}
	return false
}

// Result builds the full grading result for one objective answer,
// including the echoed user and correct answers for the review view.
func Result(q model.Question, ua model.UserAnswer) model.GradingResult {
	correct := Grade(q, ua)
	r := model.GradingResult{
		QuestionID: q.ID,
		IsCorrect:  &correct,
	}
	switch q.Type {
	case model.TypeSingleChoice:
		r.UserAnswer = marshal(ua.AnswerIndex)
		r.CorrectAnswer = marshal(q.Answer.Index)
	case model.TypeMultipleChoice:
		r.UserAnswer = marshal(ua.AnswerIndices)
		r.CorrectAnswer = marshal(q.Answer.Indexes)
	case model.TypeFillInTheBlank:
		r.UserAnswer = marshal(ua.AnswerTexts)
		r.CorrectAnswer = marshal(q.Answer.Texts)
	}
	if q.Answer.Explanation != "" {
		r.ReferenceExplanation = q.Answer.Explanation
	}
	return r
}

// EssayResult builds the ungraded result for an essay answer, carrying
// the reference explanation for self-assessment.
func EssayResult(q model.Question, ua model.UserAnswer) model.GradingResult {
	return model.GradingResult{
		QuestionID:           q.ID,
		UserAnswer:           marshal(ua.AnswerText),
		ReferenceExplanation: q.Answer.ReferenceExplanation,
	}
}

// sameSet compares two selections as sets.
func sameSet(got, want []int) bool {
	if len(got) == 0 && len(want) == 0 {
		return true
	}
	set := make(map[int]struct{}, len(want))
	for _, v := range want {
		set[v] = struct{}{}
	}
	seen := make(map[int]struct{}, len(got))
	for _, v := range got {
		if _, ok := set[v]; !ok {
			return false
		}
		seen[v] = struct{}{}
	}
	return len(seen) == len(set)
}

// blanksMatch compares blank texts one to one, whitespace-trimmed. A
// submission shorter than the key counts missing blanks as wrong;
// entries beyond the key's length are ignored. With no reference texts
// at all the submission must be effectively empty.
func blanksMatch(got, want []string) bool {
	if len(want) == 0 {
		for _, g := range got {
			if strings.TrimSpace(g) != "" {
				return false
			}
		}
		return true
	}
	if len(got) < len(want) {
		padded := make([]string, len(want))
		copy(padded, got)
		got = padded
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != strings.TrimSpace(want[i]) {
			return false
		}
	}
	return true
}

func marshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
