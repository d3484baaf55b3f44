package session

import (
	"context"
	"errors"
	"testing"

	"github.com/lihaozhang01/ai4exam/internal/model"
)

func intp(v int) *int { return &v }

func twoQuestionPaper() model.Paper {
	return model.Paper{
		TestID: "paper-1",
		Name:   "Go Basics",
		Questions: []model.Question{
			{ID: "q1", Type: model.TypeSingleChoice, Stem: "Pick", Options: []string{"a", "b"}, Answer: model.AnswerKey{Index: intp(1)}},
			{ID: "q2", Type: model.TypeEssay, Stem: "Explain", Answer: model.AnswerKey{ReferenceExplanation: "ref"}},
		},
	}
}

type stubGrader struct {
	result *model.PaperResult
	err    error
	got    []model.UserAnswer
}

func (g *stubGrader) GradeQuestions(ctx context.Context, paperID string, answers []model.UserAnswer) (*model.PaperResult, error) {
	g.got = answers
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func TestRecordAnswerAndSubmit(t *testing.T) {
	s := New()
	s.LoadPaper(twoQuestionPaper())

	if err := s.RecordAnswer("q1", model.SingleChoice(1)); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if err := s.RecordAnswer("q2", model.Essay("because")); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	correct := true
	g := &stubGrader{result: &model.PaperResult{
		ID: 42,
		GradingResults: []model.GradingResult{
			{QuestionID: "q1", IsCorrect: &correct},
			{QuestionID: "q2", ReferenceExplanation: "ref"},
		},
	}}
	if err := s.Submit(context.Background(), g); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if len(g.got) != 2 || g.got[0].QuestionID != "q1" || g.got[1].QuestionID != "q2" {
		t.Errorf("submission = %+v", g.got)
	}
	if got := s.Phase(); got != PhaseSubmitted {
		t.Errorf("phase = %v, want %v", got, PhaseSubmitted)
	}
	if got := s.ResultID(); got != 42 {
		t.Errorf("result id = %d, want 42", got)
	}
	if got := s.CorrectObjective(); got != 1 {
		t.Errorf("correct objective = %d, want 1", got)
	}
	if r, ok := s.ResultFor("q1"); !ok || r.IsCorrect == nil || !*r.IsCorrect {
		t.Errorf("q1 result = %+v, %v", r, ok)
	}
}

func TestRecordAnswerAfterSubmit(t *testing.T) {
	s := New()
	s.LoadPaper(twoQuestionPaper())
	s.CompleteSubmission(nil, 1)

	if err := s.RecordAnswer("q1", model.SingleChoice(0)); err == nil {
		t.Error("expected recording after submission to fail")
	}
}

func TestRecordAnswerKindMismatch(t *testing.T) {
	s := New()
	s.LoadPaper(twoQuestionPaper())

	if err := s.RecordAnswer("q1", model.Essay("nope")); err == nil {
		t.Error("expected kind mismatch to fail")
	}
}

func TestSubmitGraderError(t *testing.T) {
	s := New()
	s.LoadPaper(twoQuestionPaper())

	cause := errors.New("server down")
	if err := s.Submit(context.Background(), &stubGrader{err: cause}); !errors.Is(err, cause) {
		t.Fatalf("Submit error = %v, want %v", err, cause)
	}
	// A failed grading round trip leaves the session answerable.
	if got := s.Phase(); got != PhaseInProgress {
		t.Errorf("phase = %v, want %v", got, PhaseInProgress)
	}
}

func TestSubmitWithNoResults(t *testing.T) {
	s := New()
	s.LoadPaper(twoQuestionPaper())
	s.CompleteSubmission(nil, 7)

	if got := s.Phase(); got != PhaseSubmitted {
		t.Errorf("phase = %v, want %v", got, PhaseSubmitted)
	}
	if got := s.CorrectObjective(); got != 0 {
		t.Errorf("correct objective = %d, want 0", got)
	}
}

func TestStreamedQuestionsAndPendingAnswers(t *testing.T) {
	s := New()
	s.ApplyMetadata(model.Metadata{Title: "First"})
	s.ApplyMetadata(model.Metadata{Title: "Final", Description: "desc"})

	// Answer a question the stream has not delivered yet.
	if err := s.RecordAnswer("q2", model.Essay("early")); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	s.ApplyQuestion(model.Question{ID: "q1", Type: model.TypeSingleChoice, Stem: "Pick"})
	s.ApplyQuestion(model.Question{ID: "q1", Type: model.TypeSingleChoice, Stem: "Pick (revised)"})
	s.ApplyQuestion(model.Question{ID: "q2", Type: model.TypeEssay, Stem: "Explain"})
	s.ApplyQuestion(model.Question{Type: model.TypeEssay, Stem: "No id"})

	p := s.Paper()
	if p.Name != "Final" || p.Description != "desc" {
		t.Errorf("metadata not last write wins: %+v", p)
	}
	if len(p.Questions) != 3 {
		t.Fatalf("questions = %+v, want 3", p.Questions)
	}
	if p.Questions[0].Stem != "Pick (revised)" {
		t.Errorf("restated question not replaced in place: %+v", p.Questions[0])
	}
	if p.Questions[2].ID == "" {
		t.Error("id-less question got no provisional id")
	}
	if a, ok := s.AnswerFor("q2"); !ok || a != model.Essay("early") {
		t.Errorf("pending answer not applied: %v, %v", a, ok)
	}
}

func TestAdoptPaperRemapsAnswers(t *testing.T) {
	s := New()
	s.ApplyQuestion(model.Question{Type: model.TypeSingleChoice, Stem: "one"})
	s.ApplyQuestion(model.Question{Type: model.TypeEssay, Stem: "two"})

	streamed := s.Paper()
	if err := s.RecordAnswer(streamed.Questions[0].ID, model.SingleChoice(0)); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	saved := model.Paper{
		TestID: "paper-9",
		Name:   "Saved",
		Questions: []model.Question{
			{ID: "srv-1", Type: model.TypeSingleChoice, Stem: "one"},
			{ID: "srv-2", Type: model.TypeEssay, Stem: "two"},
		},
	}
	if err := s.AdoptPaper(saved); err != nil {
		t.Fatalf("AdoptPaper: %v", err)
	}

	if a, ok := s.AnswerFor("srv-1"); !ok || a != model.SingleChoice(0) {
		t.Errorf("answer not remapped: %v, %v", a, ok)
	}
	if _, ok := s.AnswerFor(streamed.Questions[0].ID); ok {
		t.Error("provisional id still answerable after adoption")
	}
	if s.Paper().TestID != "paper-9" {
		t.Errorf("paper id = %s", s.Paper().TestID)
	}
}

func TestAdoptPaperLengthMismatch(t *testing.T) {
	s := New()
	s.ApplyQuestion(model.Question{Type: model.TypeEssay, Stem: "one"})

	if err := s.AdoptPaper(model.Paper{TestID: "p"}); err == nil {
		t.Error("expected length mismatch to fail")
	}
}

func TestRetake(t *testing.T) {
	s := New()
	s.LoadPaper(twoQuestionPaper())
	if err := s.RecordAnswer("q1", model.SingleChoice(1)); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	s.CompleteSubmission([]model.GradingResult{{QuestionID: "q1"}}, 3)
	if err := s.SetOverallFeedback("well done"); err != nil {
		t.Fatalf("SetOverallFeedback: %v", err)
	}

	s.Retake()

	if got := s.Phase(); got != PhaseInProgress {
		t.Errorf("phase = %v, want %v", got, PhaseInProgress)
	}
	if _, ok := s.AnswerFor("q1"); ok {
		t.Error("answers survive retake")
	}
	if _, ok := s.ResultFor("q1"); ok {
		t.Error("results survive retake")
	}
	if s.OverallFeedback() != "" {
		t.Error("feedback survives retake")
	}
	if s.Paper().TestID != "paper-1" {
		t.Error("paper lost on retake")
	}
}

func TestFeedbackPhaseGuard(t *testing.T) {
	s := New()
	s.LoadPaper(twoQuestionPaper())

	if err := s.SetOverallFeedback("too early"); err == nil {
		t.Error("expected overall feedback before submission to fail")
	}
	if err := s.SetQuestionFeedback("q1", "too early"); err == nil {
		t.Error("expected question feedback before submission to fail")
	}

	s.CompleteSubmission(nil, 1)
	if err := s.SetOverallFeedback("ok"); err != nil {
		t.Fatalf("SetOverallFeedback: %v", err)
	}
	if err := s.SetQuestionFeedback("q1", "ok"); err != nil {
		t.Fatalf("SetQuestionFeedback: %v", err)
	}
	if fb, ok := s.QuestionFeedback("q1"); !ok || fb != "ok" {
		t.Errorf("question feedback = %q, %v", fb, ok)
	}
}

func TestCompleteSubmissionMergesExplanations(t *testing.T) {
	p := twoQuestionPaper()
	p.Questions[1].Answer.ReferenceExplanation = ""
	s := New()
	s.LoadPaper(p)

	results := []model.GradingResult{{QuestionID: "q2", ReferenceExplanation: "from grader"}}
	s.CompleteSubmission(results, 1)
	if got := s.Paper().Questions[1].Answer.ReferenceExplanation; got != "from grader" {
		t.Errorf("explanation = %q", got)
	}

	// Applying the same results again changes nothing.
	s.CompleteSubmission(results, 1)
	if got := s.Paper().Questions[1].Answer.ReferenceExplanation; got != "from grader" {
		t.Errorf("explanation after reapply = %q", got)
	}
}

func TestLoadFromHistory(t *testing.T) {
	text := "my essay"
	idx := 1
	correct := true
	r := model.PaperResult{
		ID:          11,
		TestPaperID: "paper-1",
		UserAnswers: []model.UserAnswer{
			{QuestionID: "q1", QuestionType: model.TypeSingleChoice, AnswerIndex: &idx},
			{QuestionID: "q2", QuestionType: model.TypeEssay, AnswerText: &text},
		},
		GradingResults: []model.GradingResult{
			{QuestionID: "q1", IsCorrect: &correct},
			{QuestionID: "q2", ReferenceExplanation: "ref"},
		},
		OverallFeedback:   "solid",
		QuestionFeedbacks: map[string]string{"q2": "tighten the intro"},
	}

	s := New()
	s.LoadFromHistory(twoQuestionPaper(), r)

	if got := s.Phase(); got != PhaseSubmitted {
		t.Errorf("phase = %v, want %v", got, PhaseSubmitted)
	}
	if got := s.ResultID(); got != 11 {
		t.Errorf("result id = %d", got)
	}
	if a, ok := s.AnswerFor("q2"); !ok || a != model.Essay("my essay") {
		t.Errorf("restored answer = %v, %v", a, ok)
	}
	if s.OverallFeedback() != "solid" {
		t.Errorf("overall feedback = %q", s.OverallFeedback())
	}
	if fb, _ := s.QuestionFeedback("q2"); fb != "tighten the intro" {
		t.Errorf("question feedback = %q", fb)
	}
	if got := s.CorrectObjective(); got != 1 {
		t.Errorf("correct objective = %d", got)
	}
}
