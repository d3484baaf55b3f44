// Package session holds the state of one exam-taking session: the
// paper under test, the user's answers, and the grading outcome.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lihaozhang01/ai4exam/internal/answer"
	"github.com/lihaozhang01/ai4exam/internal/model"
)

// Phase is the lifecycle phase of a session.
type Phase string

const (
	// PhaseInProgress means answers may still be recorded.
	PhaseInProgress Phase = "in_progress"
	// PhaseSubmitted means the paper was graded and answers are shown.
	PhaseSubmitted Phase = "submitted_and_showing_answers"
)

// Grader grades a submission. The API client implements it.
type Grader interface {
	GradeQuestions(ctx context.Context, paperID string, answers []model.UserAnswer) (*model.PaperResult, error)
}

// Session is the mutable state of one exam run. Methods are safe for
// concurrent use; the stream ingestor and the UI may touch it at once.
type Session struct {
	mu sync.Mutex

	phase   Phase
	paper   model.Paper
	answers map[string]model.Answer
	// pending buffers answers recorded before their question arrived
	// on the stream.
	pending map[string]model.Answer

	results           map[string]model.GradingResult
	resultID          int64
	overallFeedback   string
	questionFeedbacks map[string]string

	streamSeq int
}

// New returns an empty in-progress session.
func New() *Session {
	return &Session{
		phase:             PhaseInProgress,
		answers:           make(map[string]model.Answer),
		pending:           make(map[string]model.Answer),
		results:           make(map[string]model.GradingResult),
		questionFeedbacks: make(map[string]string),
	}
}

// LoadPaper resets the session onto a fully loaded paper.
func (s *Session) LoadPaper(p model.Paper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.paper = p
}

// LoadFromHistory restores a submitted session from a persisted result.
func (s *Session) LoadFromHistory(p model.Paper, r model.PaperResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.paper = p
	s.phase = PhaseSubmitted
	s.resultID = r.ID
	s.overallFeedback = r.OverallFeedback
	for qid, fb := range r.QuestionFeedbacks {
		s.questionFeedbacks[qid] = fb
	}
	for _, ua := range r.UserAnswers {
		if a, ok := answer.Decode(ua); ok {
			s.answers[ua.QuestionID] = a
		}
	}
	for _, gr := range r.GradingResults {
		s.results[gr.QuestionID] = gr
	}
	mergeExplanations(s.paper.Questions, r.GradingResults)
}

func (s *Session) reset() {
	s.phase = PhaseInProgress
	s.paper = model.Paper{}
	s.answers = make(map[string]model.Answer)
	s.pending = make(map[string]model.Answer)
	s.results = make(map[string]model.GradingResult)
	s.resultID = 0
	s.overallFeedback = ""
	s.questionFeedbacks = make(map[string]string)
	s.streamSeq = 0
}

// Phase reports the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Paper returns a snapshot of the current paper.
func (s *Session) Paper() model.Paper {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.paper
	p.Questions = append([]model.Question(nil), s.paper.Questions...)
	return p
}

// AnswerFor returns the recorded answer for a question, if any.
func (s *Session) AnswerFor(questionID string) (model.Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.answers[questionID]
	return a, ok
}

// ResultFor returns the grading result for a question, if any.
func (s *Session) ResultFor(questionID string) (model.GradingResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[questionID]
	return r, ok
}

// ResultID returns the persisted id of the graded submission, 0 before
// submission.
func (s *Session) ResultID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultID
}

// OverallFeedback returns the paper-level AI feedback, if requested.
func (s *Session) OverallFeedback() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overallFeedback
}

// QuestionFeedback returns the per-question AI feedback, if requested.
func (s *Session) QuestionFeedback(questionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb, ok := s.questionFeedbacks[questionID]
	return fb, ok
}

// CorrectObjective counts correctly answered objective questions.
func (s *Session) CorrectObjective() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.results {
		if r.IsCorrect != nil && *r.IsCorrect {
			n++
		}
	}
	return n
}

// ApplyMetadata records the paper header from the generation stream.
// A later metadata event overwrites an earlier one.
func (s *Session) ApplyMetadata(md model.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paper.Name = md.Title
	s.paper.Description = md.Description
}

// ApplyQuestion appends a question arriving on the generation stream.
// A question whose id is already known replaces the earlier content in
// place, keeping its position. A question with no id gets a provisional
// one until the paper is saved.
func (s *Session) ApplyQuestion(q model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == "" {
		s.streamSeq++
		q.ID = fmt.Sprintf("stream-%d", s.streamSeq)
	} else if i := s.indexOf(q.ID); i >= 0 {
		slog.Debug("restating streamed question", "id", q.ID)
		s.paper.Questions[i] = q
		return
	}
	s.paper.Questions = append(s.paper.Questions, q)
	if a, ok := s.pending[q.ID]; ok {
		delete(s.pending, q.ID)
		if a.Kind() == q.Type {
			s.answers[q.ID] = a
		}
	}
}

// RecordAnswer stores the user's answer for a question. An answer for
// a question that has not arrived yet is buffered and applied when it
// does. Recording after submission is rejected.
func (s *Session) RecordAnswer(questionID string, a model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInProgress {
		return fmt.Errorf("session already submitted")
	}
	i := s.indexOf(questionID)
	if i < 0 {
		s.pending[questionID] = a
		return nil
	}
	if got, want := a.Kind(), s.paper.Questions[i].Type; got != want {
		return fmt.Errorf("answer kind %s does not match question type %s", got, want)
	}
	s.answers[questionID] = a
	return nil
}

// ClearAnswer removes a recorded answer.
func (s *Session) ClearAnswer(questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInProgress {
		return fmt.Errorf("session already submitted")
	}
	delete(s.answers, questionID)
	delete(s.pending, questionID)
	return nil
}

// AdoptPaper swaps the streamed paper for its saved counterpart. The
// saved paper carries server-assigned question ids; answers recorded
// against provisional ids are carried over by position.
func (s *Session) AdoptPaper(saved model.Paper) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(saved.Questions) != len(s.paper.Questions) {
		return fmt.Errorf("saved paper has %d questions, session has %d",
			len(saved.Questions), len(s.paper.Questions))
	}
	remapped := make(map[string]model.Answer, len(s.answers))
	for i, old := range s.paper.Questions {
		if a, ok := s.answers[old.ID]; ok {
			remapped[saved.Questions[i].ID] = a
		}
	}
	s.paper = saved
	s.answers = remapped
	s.pending = make(map[string]model.Answer)
	return nil
}

// BuildSubmission encodes the recorded answers into wire shape, in
// question order.
func (s *Session) BuildSubmission() []model.UserAnswer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return answer.Encode(s.paper.Questions, s.answers)
}

// Submit grades the current answers through g and moves the session to
// the submitted phase. The grading round trip runs without the session
// lock held.
func (s *Session) Submit(ctx context.Context, g Grader) error {
	s.mu.Lock()
	if s.phase != PhaseInProgress {
		s.mu.Unlock()
		return fmt.Errorf("session already submitted")
	}
	paperID := s.paper.TestID
	submission := answer.Encode(s.paper.Questions, s.answers)
	s.mu.Unlock()

	result, err := g.GradeQuestions(ctx, paperID, submission)
	if err != nil {
		return fmt.Errorf("grade questions: %w", err)
	}
	s.CompleteSubmission(result.GradingResults, result.ID)
	return nil
}

// CompleteSubmission applies grading results and enters the submitted
// phase. A nil result list still submits with empty results. Applying
// the same results again is a no-op.
func (s *Session) CompleteSubmission(results []model.GradingResult, resultID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseSubmitted
	s.resultID = resultID
	for _, r := range results {
		s.results[r.QuestionID] = r
	}
	mergeExplanations(s.paper.Questions, results)
}

// Retake returns the session to in-progress on the same paper with a
// clean slate.
func (s *Session) Retake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseInProgress
	s.answers = make(map[string]model.Answer)
	s.pending = make(map[string]model.Answer)
	s.results = make(map[string]model.GradingResult)
	s.resultID = 0
	s.overallFeedback = ""
	s.questionFeedbacks = make(map[string]string)
}

// SetOverallFeedback records paper-level AI feedback. Only a submitted
// session accepts feedback.
func (s *Session) SetOverallFeedback(fb string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseSubmitted {
		return fmt.Errorf("session not submitted")
	}
	s.overallFeedback = fb
	return nil
}

// SetQuestionFeedback records per-question AI feedback. Only a
// submitted session accepts feedback.
func (s *Session) SetQuestionFeedback(questionID, fb string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseSubmitted {
		return fmt.Errorf("session not submitted")
	}
	s.questionFeedbacks[questionID] = fb
	return nil
}

func (s *Session) indexOf(questionID string) int {
	for i, q := range s.paper.Questions {
		if q.ID == questionID {
			return i
		}
	}
	return -1
}
