package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lihaozhang01/ai4exam/internal/model"
)

func intp(v int) *int { return &v }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:          srv.URL,
		APIKey:           "key",
		Provider:         "deepseek",
		GenerationModel:  "deepseek-chat",
		EvaluationModel:  "deepseek-chat",
		GenerationPrompt: "custom prompt",
	})
}

func TestHeadersForwarded(t *testing.T) {
	var got http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("{}"))
	})

	if err := c.TestConnectivity(context.Background()); err != nil {
		t.Fatalf("TestConnectivity: %v", err)
	}
	if got.Get(HeaderAPIKey) != "key" || got.Get(HeaderProvider) != "deepseek" {
		t.Errorf("headers = %v", got)
	}
	if got.Get(HeaderGenerationModel) != "deepseek-chat" {
		t.Errorf("generation model header = %q", got.Get(HeaderGenerationModel))
	}
	// Prompt overrides travel URL-encoded.
	if got.Get(HeaderGenerationPrompt) != "custom+prompt" {
		t.Errorf("generation prompt header = %q", got.Get(HeaderGenerationPrompt))
	}
}

func TestGenerateMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate-test" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("source_text"); got != "goroutines" {
			t.Errorf("source_text = %q", got)
		}
		var cfg model.GenerateConfig
		if err := json.Unmarshal([]byte(r.FormValue("config_json")), &cfg); err != nil {
			t.Errorf("config_json: %v", err)
		}
		if cfg.Difficulty != "hard" {
			t.Errorf("difficulty = %q", cfg.Difficulty)
		}
		file, header, err := r.FormFile("source_file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "notes.md" || string(data) != "# notes" {
			t.Errorf("file = %q %q", header.Filename, data)
		}
		json.NewEncoder(w).Encode(model.Paper{TestID: "p1", Name: "Generated"})
	})

	p, err := c.Generate(context.Background(), GenerateRequest{
		SourceText: "goroutines",
		FileName:   "notes.md",
		FileData:   []byte("# notes"),
		Config:     model.GenerateConfig{Difficulty: "hard"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.TestID != "p1" || p.Name != "Generated" {
		t.Errorf("paper = %+v", p)
	}
}

func TestGenerateStreamReturnsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate-stream-test" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"end\"}\n\n")
	})

	body, err := c.GenerateStream(context.Background(), GenerateRequest{SourceText: "x"})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "data: {\"type\":\"end\"}\n\n" {
		t.Errorf("body = %q", data)
	}
}

func TestGradeQuestions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/grade-questions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			TestPaperID string             `json:"test_paper_id"`
			UserAnswers []model.UserAnswer `json:"user_answers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.TestPaperID != "p1" || len(req.UserAnswers) != 1 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(model.PaperResult{ID: 5, TestPaperID: "p1"})
	})

	result, err := c.GradeQuestions(context.Background(), "p1", []model.UserAnswer{
		{QuestionID: "q1", QuestionType: model.TypeSingleChoice, AnswerIndex: intp(0)},
	})
	if err != nil {
		t.Fatalf("GradeQuestions: %v", err)
	}
	if result.ID != 5 {
		t.Errorf("result = %+v", result)
	}
}

func TestErrorBodySurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"test paper not found"}`)
	})

	_, err := c.GetPaper(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "server: test paper not found (status 404)" {
		t.Errorf("error = %q", got)
	}
}

func TestDeleteResultQuery(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte("{}"))
	})

	if err := c.DeleteResult(context.Background(), 7, true); err != nil {
		t.Fatalf("DeleteResult: %v", err)
	}
	if gotPath != "/history/7" || gotQuery != "delete_paper=true" {
		t.Errorf("request = %s?%s", gotPath, gotQuery)
	}
}

func TestExportPaperHTML(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<!DOCTYPE html>\n<html><body><h1>Go Basics</h1></body></html>"))
	})

	html, err := c.ExportPaperHTML(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ExportPaperHTML: %v", err)
	}
	if gotPath != "/export/test-paper/p1/html" {
		t.Errorf("path = %s", gotPath)
	}
	if !strings.Contains(html, "<h1>Go Basics</h1>") {
		t.Errorf("html = %q", html)
	}
}

func TestListQueries(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("[]"))
	})

	if _, err := c.History(context.Background(), "algebra", "name", "asc"); err != nil {
		t.Fatalf("History: %v", err)
	}
	if gotQuery != "order=asc&search=algebra&sort_by=name" {
		t.Errorf("query = %q", gotQuery)
	}

	if _, err := c.ListPapers(context.Background(), "", "", ""); err != nil {
		t.Fatalf("ListPapers: %v", err)
	}
	if gotQuery != "" {
		t.Errorf("query = %q", gotQuery)
	}
}
