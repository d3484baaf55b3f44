// Package handler implements the HTTP API: paper generation, grading,
// feedback and history.
package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lihaozhang01/ai4exam/internal/grading"
	"github.com/lihaozhang01/ai4exam/internal/i18n"
	"github.com/lihaozhang01/ai4exam/internal/llm"
	"github.com/lihaozhang01/ai4exam/internal/model"
	"github.com/lihaozhang01/ai4exam/internal/sse"
	"github.com/lihaozhang01/ai4exam/internal/store"
	"github.com/lihaozhang01/ai4exam/internal/views"
)

const maxUploadSize = 32 << 20

// AIClient is the slice of the LLM client the handlers use.
type AIClient interface {
	GeneratePaper(ctx context.Context, source string, cfg model.GenerateConfig) (model.Paper, error)
	GeneratePaperStream(ctx context.Context, source string, cfg model.GenerateConfig, h llm.StreamHandler) (model.Paper, error)
	OverallFeedback(ctx context.Context, paper model.Paper, answers []model.UserAnswer, results []model.GradingResult) (string, error)
	QuestionFeedback(ctx context.Context, q model.Question, ua model.UserAnswer) (string, error)
	EvaluateEssay(ctx context.Context, q model.Question, answerText string) (*llm.EssayEvaluation, error)
	Ping(ctx context.Context) error
}

// AIFactory builds an AI client from per-request provider settings.
type AIFactory func(cfg llm.Config) AIClient

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store *store.Store
	ai    AIFactory
}

// New creates a new Handler. A nil factory uses the real LLM client.
func New(s *store.Store, ai AIFactory) *Handler {
	if ai == nil {
		ai = func(cfg llm.Config) AIClient { return llm.New(cfg) }
	}
	return &Handler{store: s, ai: ai}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/generate-test", h.handleGenerate)
	r.Post("/generate-stream-test", h.handleGenerateStream)
	r.Post("/test-papers", h.handleSavePaper)
	r.Get("/test-papers/{paperID}", h.handleGetPaper)
	r.Post("/grade-questions", h.handleGradeQuestions)
	r.Post("/generate-overall-feedback", h.handleOverallFeedback)
	r.Post("/generate-single-question-feedback", h.handleQuestionFeedback)
	r.Post("/evaluate-short-answer", h.handleEvaluateShortAnswer)
	r.Get("/history", h.handleHistory)
	r.Get("/history/{resultID}", h.handleHistoryResult)
	r.Delete("/history/{resultID}", h.handleDeleteResult)
	r.Get("/history_test_papers", h.handleListPapers)
	r.Delete("/history_test_papers/{paperID}", h.handleDeletePaper)
	r.Get("/export/test-paper/{paperID}/html", h.handleExportPaper)
	r.Post("/test-connectivity", h.handleTestConnectivity)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// llmConfigFromRequest assembles provider settings from the request
// headers. The prompt override headers are URL-encoded.
func llmConfigFromRequest(r *http.Request) (llm.Config, error) {
	cfg := llm.Config{
		APIKey:          r.Header.Get("X-Api-Key"),
		Provider:        r.Header.Get("X-Provider"),
		GenerationModel: r.Header.Get("X-Generation-Model"),
		EvaluationModel: r.Header.Get("X-Evaluation-Model"),
	}
	if cfg.APIKey == "" {
		return llm.Config{}, errors.New(i18n.T(r.Context(), "ErrMissingAPIKey"))
	}
	for header, dst := range map[string]*string{
		"X-Generation-Prompt": &cfg.GenerationPrompt,
		"X-Evaluation-Prompt": &cfg.EvaluationPrompt,
	} {
		raw := r.Header.Get(header)
		if raw == "" {
			continue
		}
		decoded, err := url.QueryUnescape(raw)
		if err != nil {
			return llm.Config{}, fmt.Errorf("decode %s: %w", header, err)
		}
		*dst = decoded
	}
	return cfg, nil
}

// parseGenerateRequest pulls the knowledge source and generation
// config out of the multipart form.
func parseGenerateRequest(r *http.Request) (string, model.GenerateConfig, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return "", model.GenerateConfig{}, fmt.Errorf("parse form: %w", err)
	}

	source := r.FormValue("source_text")
	if file, _, err := r.FormFile("source_file"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
		if err != nil {
			return "", model.GenerateConfig{}, fmt.Errorf("read upload: %w", err)
		}
		source = string(data)
	}
	if source == "" {
		return "", model.GenerateConfig{}, errors.New(i18n.T(r.Context(), "ErrMissingSource"))
	}

	var cfg model.GenerateConfig
	if raw := r.FormValue("config_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return "", model.GenerateConfig{}, fmt.Errorf("parse config_json: %w", err)
		}
	}
	return source, cfg, nil
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	llmCfg, err := llmConfigFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	source, cfg, err := parseGenerateRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.ai(llmCfg).GeneratePaper(r.Context(), source, cfg)
	if err != nil {
		slog.Error("generate paper", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	saved, err := h.store.SavePaper(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// frameWriter forwards generated paper parts onto the event stream.
type frameWriter struct {
	w http.ResponseWriter
}

func (fw frameWriter) OnMetadata(md model.Metadata) {
	if err := sse.WriteFrame(fw.w, sse.EventMetadata, md); err != nil {
		slog.Warn("write metadata frame", "error", err)
	}
}

func (fw frameWriter) OnQuestion(q model.Question) {
	if err := sse.WriteFrame(fw.w, sse.EventQuestion, q); err != nil {
		slog.Warn("write question frame", "error", err)
	}
}

func (h *Handler) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	llmCfg, err := llmConfigFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	source, cfg, err := parseGenerateRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := h.ai(llmCfg).GeneratePaperStream(r.Context(), source, cfg, frameWriter{w: w}); err != nil {
		slog.Error("generate paper stream", "error", err)
		if werr := sse.WriteFrame(w, sse.EventError, err.Error()); werr != nil {
			slog.Warn("write error frame", "error", werr)
		}
		return
	}
	if err := sse.WriteFrame(w, sse.EventEnd, nil); err != nil {
		slog.Warn("write end frame", "error", err)
	}
}

func (h *Handler) handleSavePaper(w http.ResponseWriter, r *http.Request) {
	var p model.Paper
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "ErrInvalidRequest"))
		return
	}
	for _, q := range p.Questions {
		if !q.Type.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown question type %q", q.Type))
			return
		}
	}
	saved, err := h.store.SavePaper(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPaper(chi.URLParam(r, "paperID"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ErrPaperNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleExportPaper renders a stored paper as a standalone HTML page
// suitable for saving to disk and taking offline.
func (h *Handler) handleExportPaper(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPaper(chi.URLParam(r, "paperID"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ErrPaperNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ExportPage(p).Render(r.Context(), w); err != nil {
		slog.Error("render export page", "paper", p.TestID, "error", err)
	}
}

type gradeRequest struct {
	TestPaperID string             `json:"test_paper_id"`
	UserAnswers []model.UserAnswer `json:"user_answers"`
}

func (h *Handler) handleGradeQuestions(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "ErrInvalidRequest"))
		return
	}
	p, err := h.store.GetPaper(req.TestPaperID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ErrPaperNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	byID := make(map[string]model.Question, len(p.Questions))
	for _, q := range p.Questions {
		byID[q.ID] = q
	}

	var results []model.GradingResult
	correct := 0
	for _, ua := range req.UserAnswers {
		q, ok := byID[ua.QuestionID]
		if !ok {
			slog.Warn("skipping answer for unknown question", "id", ua.QuestionID)
			continue
		}
		if q.Type == model.TypeEssay {
			results = append(results, grading.EssayResult(q, ua))
			continue
		}
		res := grading.Result(q, ua)
		if res.IsCorrect != nil && *res.IsCorrect {
			correct++
		}
		results = append(results, res)
	}

	result := model.PaperResult{
		TestPaperID:               p.TestID,
		UserAnswers:               req.UserAnswers,
		GradingResults:            results,
		CorrectObjectiveQuestions: correct,
	}
	id, err := h.store.SaveResult(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	saved, err := h.store.GetResult(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type overallFeedbackRequest struct {
	ResultID int64 `json:"result_id"`
}

func (h *Handler) handleOverallFeedback(w http.ResponseWriter, r *http.Request) {
	llmCfg, err := llmConfigFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req overallFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "ErrInvalidRequest"))
		return
	}
	result, err := h.store.GetResult(req.ResultID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ErrResultNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	p, err := h.store.GetPaper(result.TestPaperID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	feedback, err := h.ai(llmCfg).OverallFeedback(r.Context(), p, result.UserAnswers, result.GradingResults)
	if err != nil {
		slog.Error("overall feedback", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := h.store.SetOverallFeedback(req.ResultID, feedback); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"feedback": feedback})
}

type questionFeedbackRequest struct {
	ResultID   int64  `json:"result_id"`
	QuestionID string `json:"question_id"`
}

func (h *Handler) handleQuestionFeedback(w http.ResponseWriter, r *http.Request) {
	llmCfg, err := llmConfigFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req questionFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "ErrInvalidRequest"))
		return
	}
	result, err := h.store.GetResult(req.ResultID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ErrResultNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	q, err := h.store.GetQuestion(req.QuestionID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ErrQuestionNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ua := model.UserAnswer{QuestionID: q.ID, QuestionType: q.Type}
	for _, a := range result.UserAnswers {
		if a.QuestionID == req.QuestionID {
			ua = a
			break
		}
	}

	feedback, err := h.ai(llmCfg).QuestionFeedback(r.Context(), q, ua)
	if err != nil {
		slog.Error("question feedback", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := h.store.SetQuestionFeedback(req.ResultID, req.QuestionID, feedback); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"feedback": feedback})
}

type evaluateShortAnswerRequest struct {
	QuestionID string `json:"question_id"`
	AnswerText string `json:"answer_text"`
}

func (h *Handler) handleEvaluateShortAnswer(w http.ResponseWriter, r *http.Request) {
	llmCfg, err := llmConfigFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req evaluateShortAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "ErrInvalidRequest"))
		return
	}
	q, err := h.store.GetQuestion(req.QuestionID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ErrQuestionNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	eval, err := h.ai(llmCfg).EvaluateEssay(r.Context(), q, req.AnswerText)
	if err != nil {
		slog.Error("evaluate short answer", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	results, err := h.store.ListResults(
		r.URL.Query().Get("search"),
		r.URL.Query().Get("sort_by"),
		r.URL.Query().Get("order"),
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleHistoryResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "resultID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "ErrInvalidRequest"))
		return
	}
	result, err := h.store.GetResult(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ErrResultNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "resultID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "ErrInvalidRequest"))
		return
	}
	deletePaper := r.URL.Query().Get("delete_paper") == "true"
	err = h.store.DeleteResult(id, deletePaper)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ErrResultNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := h.store.ListPapers(
		r.URL.Query().Get("search"),
		r.URL.Query().Get("sort_by"),
		r.URL.Query().Get("order"),
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, papers)
}

func (h *Handler) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeletePaper(chi.URLParam(r, "paperID"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "ErrPaperNotFound"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleTestConnectivity(w http.ResponseWriter, r *http.Request) {
	llmCfg, err := llmConfigFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := h.ai(llmCfg).Ping(r.Context()); err != nil {
		slog.Error("connectivity test", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
