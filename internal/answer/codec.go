// Package answer converts between the in-memory answer representation
// and the wire shape sent for grading.
package answer

import (
	"sort"
	"strings"

	"github.com/lihaozhang01/ai4exam/internal/model"
)

// BlankDelimiter joins the per-blank texts of a fill-in-the-blank
// answer into the single staged string the editing UI works with.
const BlankDelimiter = "$$$"

// JoinBlanks flattens per-blank texts into one staged string.
func JoinBlanks(texts []string) string {
	return strings.Join(texts, BlankDelimiter)
}

// SplitBlanks recovers per-blank texts from a staged string. An empty
// string yields a single empty blank, mirroring Join of [""].
func SplitBlanks(staged string) []string {
	return strings.Split(staged, BlankDelimiter)
}

// Encode converts recorded answers into wire shape, ordered by the
// paper's question order. Unanswered questions are skipped, as are
// stale answers whose kind no longer matches the question type.
func Encode(questions []model.Question, answers map[string]model.Answer) []model.UserAnswer {
	out := make([]model.UserAnswer, 0, len(answers))
	for _, q := range questions {
		a, ok := answers[q.ID]
		if !ok || a.Kind() != q.Type {
			continue
		}
		ua := model.UserAnswer{QuestionID: q.ID, QuestionType: q.Type}
		switch v := a.(type) {
		case model.SingleChoice:
			idx := int(v)
			ua.AnswerIndex = &idx
		case model.MultipleChoice:
			indices := normalizeIndices(v)
			ua.AnswerIndices = &indices
		case model.FillBlank:
			texts := append([]string(nil), v...)
			ua.AnswerTexts = &texts
		case model.Essay:
			text := string(v)
			ua.AnswerText = &text
		default:
			continue
		}
		out = append(out, ua)
	}
	return out
}

// Decode converts one wire answer back into the in-memory
// representation. It returns false when the expected value field for
// the declared type is absent.
func Decode(ua model.UserAnswer) (model.Answer, bool) {
	switch ua.QuestionType {
	case model.TypeSingleChoice:
		if ua.AnswerIndex == nil {
			return nil, false
		}
		return model.SingleChoice(*ua.AnswerIndex), true
	case model.TypeMultipleChoice:
		if ua.AnswerIndices == nil {
			return nil, false
		}
		return model.MultipleChoice(normalizeIndices(*ua.AnswerIndices)), true
	case model.TypeFillInTheBlank:
		if ua.AnswerTexts == nil {
			return nil, false
		}
		return model.FillBlank(append([]string(nil), *ua.AnswerTexts...)), true
	case model.TypeEssay:
		if ua.AnswerText == nil {
			return nil, false
		}
		return model.Essay(*ua.AnswerText), true
	}
	return nil, false
}

// normalizeIndices sorts and deduplicates a selection so set-equal
// selections encode identically.
func normalizeIndices(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i > 0 && v == out[i-1] {
			continue
		}
		out[n] = v
		n++
	}
	return out[:n]
}
