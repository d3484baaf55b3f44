// Package api is the HTTP client for the ai4exam server. The exam-
// taking CLI talks to the server exclusively through it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lihaozhang01/ai4exam/internal/llm"
	"github.com/lihaozhang01/ai4exam/internal/model"
)

// Header names the server reads provider settings from. The prompt
// override headers carry URL-encoded values so they survive HTTP
// header character rules.
const (
	HeaderAPIKey           = "X-Api-Key"
	HeaderProvider         = "X-Provider"
	HeaderGenerationModel  = "X-Generation-Model"
	HeaderEvaluationModel  = "X-Evaluation-Model"
	HeaderGenerationPrompt = "X-Generation-Prompt"
	HeaderEvaluationPrompt = "X-Evaluation-Prompt"
)

// Config holds the server address and the provider settings forwarded
// on every request.
type Config struct {
	BaseURL          string
	APIKey           string
	Provider         string
	GenerationModel  string
	EvaluationModel  string
	GenerationPrompt string
	EvaluationPrompt string
	HTTPClient       *http.Client
}

// Client is an ai4exam server client. It implements session.Grader.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a client for the server at cfg.BaseURL.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set(HeaderAPIKey, c.cfg.APIKey)
	}
	if c.cfg.Provider != "" {
		req.Header.Set(HeaderProvider, c.cfg.Provider)
	}
	if c.cfg.GenerationModel != "" {
		req.Header.Set(HeaderGenerationModel, c.cfg.GenerationModel)
	}
	if c.cfg.EvaluationModel != "" {
		req.Header.Set(HeaderEvaluationModel, c.cfg.EvaluationModel)
	}
	if c.cfg.GenerationPrompt != "" {
		req.Header.Set(HeaderGenerationPrompt, url.QueryEscape(c.cfg.GenerationPrompt))
	}
	if c.cfg.EvaluationPrompt != "" {
		req.Header.Set(HeaderEvaluationPrompt, url.QueryEscape(c.cfg.EvaluationPrompt))
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("server: %s (status %d)", apiErr.Error, resp.StatusCode)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}

// GenerateRequest is the input to paper generation: the knowledge
// source as text or an uploaded file, plus the generation config.
type GenerateRequest struct {
	SourceText string
	FileName   string
	FileData   []byte
	Config     model.GenerateConfig
}

func (r GenerateRequest) encode() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if r.SourceText != "" {
		if err := w.WriteField("source_text", r.SourceText); err != nil {
			return nil, "", err
		}
	}
	if len(r.FileData) > 0 {
		fw, err := w.CreateFormFile("source_file", r.FileName)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(r.FileData); err != nil {
			return nil, "", err
		}
	}
	configJSON, err := json.Marshal(r.Config)
	if err != nil {
		return nil, "", fmt.Errorf("marshal config: %w", err)
	}
	if err := w.WriteField("config_json", string(configJSON)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// Generate generates a complete paper in one blocking call.
func (c *Client) Generate(ctx context.Context, r GenerateRequest) (model.Paper, error) {
	buf, contentType, err := r.encode()
	if err != nil {
		return model.Paper{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/generate-test", buf)
	if err != nil {
		return model.Paper{}, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Paper{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return model.Paper{}, err
	}
	var p model.Paper
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return model.Paper{}, fmt.Errorf("decode paper: %w", err)
	}
	return p, nil
}

// GenerateStream starts incremental paper generation and returns the
// raw event stream. The caller owns the returned body and feeds it to
// a stream ingestor.
func (c *Client) GenerateStream(ctx context.Context, r GenerateRequest) (io.ReadCloser, error) {
	buf, contentType, err := r.encode()
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/generate-stream-test", buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// GetPaper fetches a stored paper by id.
func (c *Client) GetPaper(ctx context.Context, id string) (model.Paper, error) {
	var p model.Paper
	err := c.doJSON(ctx, http.MethodGet, "/test-papers/"+url.PathEscape(id), nil, &p)
	return p, err
}

// SavePaper persists a streamed paper and returns it with
// server-assigned ids.
func (c *Client) SavePaper(ctx context.Context, p model.Paper) (model.Paper, error) {
	var saved model.Paper
	err := c.doJSON(ctx, http.MethodPost, "/test-papers", p, &saved)
	return saved, err
}

// ListPapers lists stored papers.
func (c *Client) ListPapers(ctx context.Context, search, sortBy, order string) ([]model.PaperSummary, error) {
	var papers []model.PaperSummary
	err := c.doJSON(ctx, http.MethodGet, "/history_test_papers"+listQuery(search, sortBy, order), nil, &papers)
	return papers, err
}

// DeletePaper removes a stored paper and its results.
func (c *Client) DeletePaper(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/history_test_papers/"+url.PathEscape(id), nil, nil)
}

// ExportPaperHTML fetches a stored paper rendered as a standalone HTML
// document.
func (c *Client) ExportPaperHTML(ctx context.Context, id string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/export/test-paper/"+url.PathEscape(id)+"/html", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read export: %w", err)
	}
	return string(body), nil
}

type gradeRequest struct {
	TestPaperID string             `json:"test_paper_id"`
	UserAnswers []model.UserAnswer `json:"user_answers"`
}

// GradeQuestions submits answers for grading and returns the persisted
// result.
func (c *Client) GradeQuestions(ctx context.Context, paperID string, answers []model.UserAnswer) (*model.PaperResult, error) {
	var result model.PaperResult
	in := gradeRequest{TestPaperID: paperID, UserAnswers: answers}
	if err := c.doJSON(ctx, http.MethodPost, "/grade-questions", in, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type feedbackResponse struct {
	Feedback string `json:"feedback"`
}

// OverallFeedback asks the AI for paper-level feedback on a result.
func (c *Client) OverallFeedback(ctx context.Context, resultID int64) (string, error) {
	in := map[string]int64{"result_id": resultID}
	var out feedbackResponse
	if err := c.doJSON(ctx, http.MethodPost, "/generate-overall-feedback", in, &out); err != nil {
		return "", err
	}
	return out.Feedback, nil
}

// QuestionFeedback asks the AI for feedback on one answered question.
func (c *Client) QuestionFeedback(ctx context.Context, resultID int64, questionID string) (string, error) {
	in := map[string]any{"result_id": resultID, "question_id": questionID}
	var out feedbackResponse
	if err := c.doJSON(ctx, http.MethodPost, "/generate-single-question-feedback", in, &out); err != nil {
		return "", err
	}
	return out.Feedback, nil
}

// EvaluateShortAnswer asks the AI to score a free-text answer.
func (c *Client) EvaluateShortAnswer(ctx context.Context, questionID, answerText string) (*llm.EssayEvaluation, error) {
	in := map[string]string{"question_id": questionID, "answer_text": answerText}
	var out llm.EssayEvaluation
	if err := c.doJSON(ctx, http.MethodPost, "/evaluate-short-answer", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History lists persisted results.
func (c *Client) History(ctx context.Context, search, sortBy, order string) ([]model.PaperResult, error) {
	var results []model.PaperResult
	err := c.doJSON(ctx, http.MethodGet, "/history"+listQuery(search, sortBy, order), nil, &results)
	return results, err
}

// HistoryResult fetches one persisted result.
func (c *Client) HistoryResult(ctx context.Context, id int64) (model.PaperResult, error) {
	var r model.PaperResult
	err := c.doJSON(ctx, http.MethodGet, "/history/"+strconv.FormatInt(id, 10), nil, &r)
	return r, err
}

// DeleteResult removes a persisted result, optionally with its paper.
func (c *Client) DeleteResult(ctx context.Context, id int64, deletePaper bool) error {
	path := "/history/" + strconv.FormatInt(id, 10)
	if deletePaper {
		path += "?delete_paper=true"
	}
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// TestConnectivity verifies the provider credentials through the
// server.
func (c *Client) TestConnectivity(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/test-connectivity", nil, nil)
}

func listQuery(search, sortBy, order string) string {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	if sortBy != "" {
		q.Set("sort_by", sortBy)
	}
	if order != "" {
		q.Set("order", order)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
