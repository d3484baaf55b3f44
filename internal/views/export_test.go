package views

import (
	"context"
	"strings"
	"testing"

	"github.com/lihaozhang01/ai4exam/internal/i18n"
	"github.com/lihaozhang01/ai4exam/internal/model"
)

func renderExport(t *testing.T, p model.Paper) string {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	ctx := i18n.WithLocalizer(context.Background(), i18n.NewLocalizer("en"))
	var sb strings.Builder
	if err := ExportPage(p).Render(ctx, &sb); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return sb.String()
}

func TestExportPage(t *testing.T) {
	idx := 1
	p := model.Paper{
		TestID:      "p1",
		Name:        "Concurrency Basics",
		Description: "Channels and select",
		Questions: []model.Question{
			{
				ID: "q1", Type: model.TypeSingleChoice, Stem: "Pick one",
				Options: []string{"goroutine", "thread"},
				Answer:  model.AnswerKey{Index: &idx, Explanation: "threads are heavier"},
			},
			{
				ID: "q2", Type: model.TypeMultipleChoice, Stem: "Pick two",
				Options: []string{"chan", "mutex", "select"},
				Answer:  model.AnswerKey{Indexes: []int{0, 2}},
			},
			{
				ID: "q3", Type: model.TypeFillInTheBlank, Stem: "Fill in",
				Answer: model.AnswerKey{Texts: []string{"chan", "select"}},
			},
			{
				ID: "q4", Type: model.TypeEssay, Stem: "Explain",
				Answer: model.AnswerKey{ReferenceExplanation: "channels synchronize goroutines"},
			},
		},
	}

	html := renderExport(t, p)

	for _, want := range []string{
		"<title>Concurrency Basics</title>",
		"<h1>Concurrency Basics</h1>",
		"Channels and select",
		"1. Pick one",
		"B. thread",
		"Correct answer: B",
		"threads are heavier",
		"Correct answer: A, C",
		`id="q3-blank1"`,
		"Blank 2: select",
		`id="q4-essay"`,
		"channels synchronize goroutines",
		`onclick="toggleAnswer('q1')"`,
		"Show answer",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("export missing %q", want)
		}
	}
	if got := strings.Count(html, `class="question"`); got != 4 {
		t.Errorf("question blocks = %d, want 4", got)
	}
}

func TestExportPageEscapesContent(t *testing.T) {
	p := model.Paper{
		TestID: "p1",
		Name:   "<b>Bold</b>",
		Questions: []model.Question{
			{ID: "q1", Type: model.TypeEssay, Stem: `<script>alert("x")</script>`},
		},
	}

	html := renderExport(t, p)

	if strings.Contains(html, "<script>alert") {
		t.Error("stem rendered unescaped")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Error("stem not HTML-escaped")
	}
	if strings.Contains(html, "<b>Bold</b>") {
		t.Error("title rendered unescaped")
	}
}
