// Package llm generates and evaluates exam papers through an
// OpenAI-compatible chat API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lihaozhang01/ai4exam/internal/llm/prompts"
	"github.com/lihaozhang01/ai4exam/internal/model"
)

// Provider names accepted in requests. Each maps to a known
// OpenAI-compatible endpoint.
const (
	ProviderOpenAI      = "openai"
	ProviderSiliconFlow = "siliconflow"
	ProviderAliyun      = "aliyun"
	ProviderDeepSeek    = "deepseek"
)

// BaseURLForProvider returns the chat endpoint for a provider name.
// Unknown providers fall through to the OpenAI default.
func BaseURLForProvider(provider string) string {
	switch provider {
	case ProviderSiliconFlow:
		return "https://api.siliconflow.cn/v1"
	case ProviderAliyun:
		return "https://dashscope.aliyuncs.com/compatible-mode/v1"
	case ProviderDeepSeek:
		return "https://api.deepseek.com/v1"
	}
	return ""
}

// Config selects the provider, credentials and models for a client.
// GenerationPrompt and EvaluationPrompt override the built-in system
// prompts when non-empty.
type Config struct {
	Provider         string
	BaseURL          string
	APIKey           string
	GenerationModel  string
	EvaluationModel  string
	GenerationPrompt string
	EvaluationPrompt string
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api              *openai.Client
	generationModel  string
	evaluationModel  string
	generationPrompt string
	evaluationPrompt string
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseURLForProvider(cfg.Provider)
	}
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:              openai.NewClientWithConfig(config),
		generationModel:  cfg.GenerationModel,
		evaluationModel:  cfg.EvaluationModel,
		generationPrompt: cfg.GenerationPrompt,
		evaluationPrompt: cfg.EvaluationPrompt,
	}
}

// generatedPaper is the shape the generation prompt asks the model for.
type generatedPaper struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Questions   []model.Question `json:"questions"`
}

// GeneratePaper generates a complete paper in one blocking call.
func (c *Client) GeneratePaper(ctx context.Context, source string, cfg model.GenerateConfig) (model.Paper, error) {
	systemPrompt := c.generationPrompt
	if systemPrompt == "" {
		systemPrompt = prompts.Generation(cfg)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.generationModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompts.GenerationInput(source)},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return model.Paper{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Paper{}, fmt.Errorf("LLM returned no choices")
	}

	raw := extractJSON(resp.Choices[0].Message.Content)
	var gp generatedPaper
	if err := json.Unmarshal([]byte(raw), &gp); err != nil {
		return model.Paper{}, fmt.Errorf("parse generated paper: %w", err)
	}
	return model.Paper{Name: gp.Name, Description: gp.Description, Questions: gp.Questions}, nil
}

// StreamHandler receives paper parts as the model produces them.
type StreamHandler interface {
	OnMetadata(md model.Metadata)
	OnQuestion(q model.Question)
}

// GeneratePaperStream generates a paper incrementally, delivering the
// metadata and each question to h as soon as its segment is complete.
// The assembled paper is returned at the end.
func (c *Client) GeneratePaperStream(ctx context.Context, source string, cfg model.GenerateConfig, h StreamHandler) (model.Paper, error) {
	systemPrompt := c.generationPrompt
	if systemPrompt == "" {
		systemPrompt = prompts.GenerationStream(cfg)
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: c.generationModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompts.GenerationInput(source)},
		},
		Temperature: 0.7,
		Stream:      true,
	})
	if err != nil {
		return model.Paper{}, fmt.Errorf("LLM stream call: %w", err)
	}
	defer stream.Close()

	var p model.Paper
	var parser markerParser
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.Paper{}, fmt.Errorf("LLM stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		for _, seg := range parser.Feed(resp.Choices[0].Delta.Content) {
			applySegment(&p, seg, h)
		}
	}
	for _, seg := range parser.Flush() {
		applySegment(&p, seg, h)
	}
	return p, nil
}

func applySegment(p *model.Paper, seg segment, h StreamHandler) {
	switch seg.kind {
	case segmentMeta:
		var md model.Metadata
		if err := json.Unmarshal([]byte(extractJSON(seg.payload)), &md); err != nil {
			slog.Warn("skipping malformed metadata segment", "error", err)
			return
		}
		p.Name = md.Title
		p.Description = md.Description
		if h != nil {
			h.OnMetadata(md)
		}
	case segmentQuestion:
		var q model.Question
		if err := json.Unmarshal([]byte(extractJSON(seg.payload)), &q); err != nil {
			slog.Warn("skipping malformed question segment", "error", err)
			return
		}
		if !q.Type.Valid() {
			slog.Warn("skipping question with unknown type", "type", q.Type)
			return
		}
		p.Questions = append(p.Questions, q)
		if h != nil {
			h.OnQuestion(q)
		}
	}
}

// OverallFeedback produces paper-level feedback on a graded submission.
func (c *Client) OverallFeedback(ctx context.Context, paper model.Paper, answers []model.UserAnswer, results []model.GradingResult) (string, error) {
	return c.evaluate(ctx, prompts.OverallFeedback(paper, answers, results))
}

// QuestionFeedback produces targeted feedback on one answered question.
func (c *Client) QuestionFeedback(ctx context.Context, q model.Question, ua model.UserAnswer) (string, error) {
	return c.evaluate(ctx, prompts.QuestionFeedback(q, ua))
}

func (c *Client) evaluate(ctx context.Context, userPrompt string) (string, error) {
	systemPrompt := c.evaluationPrompt
	if systemPrompt == "" {
		systemPrompt = prompts.Evaluation()
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.evaluationModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// EssayEvaluation is the structured assessment of one essay answer.
type EssayEvaluation struct {
	Score               float64  `json:"score"`
	Feedback            string   `json:"feedback"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
}

// EvaluateEssay scores a free-text answer against the question's
// reference explanation.
func (c *Client) EvaluateEssay(ctx context.Context, q model.Question, answerText string) (*EssayEvaluation, error) {
	systemPrompt := c.evaluationPrompt
	if systemPrompt == "" {
		systemPrompt = prompts.EssayEvaluation()
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.evaluationModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompts.EssayInput(q, answerText)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	var eval EssayEvaluation
	if err := json.Unmarshal([]byte(extractJSON(raw)), &eval); err != nil {
		return nil, fmt.Errorf("parse essay evaluation: %w (raw: %s)", err, raw)
	}
	return &eval, nil
}

// Ping verifies that the provider accepts the credentials.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// extractJSON strips a markdown code fence around a JSON payload, if
// present. Models routinely fence their output despite instructions.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "```"); start >= 0 {
		s = s[start+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}
