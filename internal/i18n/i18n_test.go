package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "AI4Exam" {
		t.Errorf("T(AppTitle) = %q, want 'AI4Exam'", got)
	}

	got = T(ctx, "ConnectivityOK")
	if got != "Connection OK." {
		t.Errorf("T(ConnectivityOK) = %q, want 'Connection OK.'", got)
	}
}

func TestTranslateChinese(t *testing.T) {
	ctx := initLang(t, "zh")

	got := T(ctx, "ConnectivityOK")
	if got != "连接正常。" {
		t.Errorf("T(ConnectivityOK) = %q, want '连接正常。'", got)
	}

	got = T(ctx, "ErrPaperNotFound")
	if got != "试卷不存在" {
		t.Errorf("T(ErrPaperNotFound) = %q, want '试卷不存在'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "QuestionsGenerated", 1)
	if got1 != "1 question generated." {
		t.Errorf("Tp(QuestionsGenerated, 1) = %q, want '1 question generated.'", got1)
	}

	got5 := Tp(ctx, "QuestionsGenerated", 5)
	if got5 != "5 questions generated." {
		t.Errorf("Tp(QuestionsGenerated, 5) = %q, want '5 questions generated.'", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "QuestionProgress", map[string]any{"Index": 2, "Total": 5})
	if got != "Question 2 of 5" {
		t.Errorf("Td(QuestionProgress) = %q, want 'Question 2 of 5'", got)
	}
}

func TestMiddlewareNegotiatesLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(T(r.Context(), "ConnectivityOK")))
	}))

	tests := []struct {
		name   string
		target string
		accept string
		want   string
	}{
		{"default", "/", "", "Connection OK."},
		{"accept header", "/", "zh-CN,zh;q=0.9", "连接正常。"},
		{"query param", "/?lang=zh", "", "连接正常。"},
		{"query beats header", "/?lang=en", "zh", "Connection OK."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMissingTranslationFallsBackToID(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NoSuchMessage"); got != "NoSuchMessage" {
		t.Errorf("T(NoSuchMessage) = %q, want the id back", got)
	}
}
