package session

import "github.com/lihaozhang01/ai4exam/internal/model"

// mergeExplanations folds grading-side explanations back into the
// paper's answer keys so the review view can show them. Streamed papers
// often arrive without explanations attached; the grading response is
// the authoritative source. Applying the same results twice changes
// nothing.
func mergeExplanations(questions []model.Question, results []model.GradingResult) {
	if len(results) == 0 {
		return
	}
	byID := make(map[string]model.GradingResult, len(results))
	for _, r := range results {
		byID[r.QuestionID] = r
	}
	for i := range questions {
		r, ok := byID[questions[i].ID]
		if !ok {
			continue
		}
		if r.ReferenceExplanation != "" && questions[i].Answer.ReferenceExplanation == "" {
			questions[i].Answer.ReferenceExplanation = r.ReferenceExplanation
		}
	}
}
