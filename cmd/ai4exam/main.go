package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lihaozhang01/ai4exam/internal/api"
	"github.com/lihaozhang01/ai4exam/internal/handler"
	appI18n "github.com/lihaozhang01/ai4exam/internal/i18n"
	"github.com/lihaozhang01/ai4exam/internal/model"
	"github.com/lihaozhang01/ai4exam/internal/session"
	"github.com/lihaozhang01/ai4exam/internal/store"
	"github.com/lihaozhang01/ai4exam/internal/stream"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ai4exam",
		Short: "AI exam paper generator and exam runner",
	}

	serve := serveCmd()
	root.AddCommand(serve, generateCmd(), takeCmd(), historyCmd(), exportCmd(), checkCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the exam HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8000", "HTTP listen address")
	f.String("db", "ai4exam.db", "SQLite database path")
	f.StringP("lang", "l", "en", "message language (en, zh)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

// clientFlags registers the flags shared by the commands that talk to
// the server.
func clientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("server", "s", "http://localhost:8000", "ai4exam server base URL")
	f.String("api-key", "", "provider API key (or set AI4EXAM_API_KEY)")
	f.String("provider", "siliconflow", "LLM provider (openai, siliconflow, aliyun, deepseek)")
	f.String("generation-model", "", "model used for paper generation")
	f.String("evaluation-model", "", "model used for feedback and essay evaluation")
	f.String("generation-prompt", "", "override the generation system prompt")
	f.String("evaluation-prompt", "", "override the evaluation system prompt")
	f.StringP("lang", "l", "en", "message language (en, zh)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an exam paper from source material",
		RunE:  runGenerate,
	}
	clientFlags(cmd)
	f := cmd.Flags()
	f.String("text", "", "source material as inline text")
	f.StringP("file", "f", "", "source material file path")
	f.String("description", "", "what the paper should focus on")
	f.String("difficulty", "", "paper difficulty (easy, medium, hard)")
	f.Int("single-choice", 0, "number of single choice questions")
	f.Int("multiple-choice", 0, "number of multiple choice questions")
	f.Int("fill-blank", 0, "number of fill-in-the-blank questions")
	f.Int("essay", 0, "number of essay questions")
	f.Bool("stream", true, "print questions as they are generated")
	return cmd
}

func takeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "take <paper-id>",
		Short: "Take a stored exam paper interactively",
		Args:  cobra.ExactArgs(1),
		RunE:  runTake,
	}
	clientFlags(cmd)
	cmd.Flags().Bool("feedback", false, "request AI feedback after grading")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or inspect graded submissions",
		RunE:  runHistory,
	}
	clientFlags(cmd)
	f := cmd.Flags()
	f.String("search", "", "filter by paper name")
	f.String("sort-by", "", "sort column (name, created_at)")
	f.String("order", "", "sort order (asc, desc)")
	f.Int64("show", 0, "show one result in full")
	f.Int64("delete", 0, "delete one result")
	f.Bool("delete-paper", false, "also delete the paper when deleting a result")
	f.Bool("papers", false, "list stored papers instead of results")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <paper-id>",
		Short: "Export a stored paper as standalone HTML",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	clientFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	client, ctx, err := clientFromCmd(cmd)
	if err != nil {
		return err
	}
	v := viperForCmd(cmd)

	html, err := client.ExportPaperHTML(ctx, args[0])
	if err != nil {
		return err
	}

	out := v.GetString("output")
	if out == "-" || out == "" {
		_, err := fmt.Print(html)
		return err
	}
	if err := os.WriteFile(out, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	slog.Info("paper exported", "paper", args[0], "path", out)
	return nil
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the provider API key through the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, ctx, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			if err := client.TestConnectivity(ctx); err != nil {
				return err
			}
			fmt.Println(appI18n.T(ctx, "ConnectivityOK"))
			return nil
		},
	}
	clientFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("AI4EXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("ai4exam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/ai4exam")
	v.AddConfigPath("/etc/ai4exam")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	h := handler.New(db, nil)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server", "addr", addr, "db", v.GetString("db"), "lang", lang)
	return http.ListenAndServe(addr, r)
}

// clientFromCmd assembles the API client and the localized context the
// client-side commands run in.
func clientFromCmd(cmd *cobra.Command) (*api.Client, context.Context, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return nil, nil, fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(lang))

	client := api.New(api.Config{
		BaseURL:          strings.TrimRight(v.GetString("server"), "/"),
		APIKey:           v.GetString("api-key"),
		Provider:         v.GetString("provider"),
		GenerationModel:  v.GetString("generation-model"),
		EvaluationModel:  v.GetString("evaluation-model"),
		GenerationPrompt: v.GetString("generation-prompt"),
		EvaluationPrompt: v.GetString("evaluation-prompt"),
	})
	return client, ctx, nil
}

func generateRequestFromCmd(v *viper.Viper) (api.GenerateRequest, error) {
	req := api.GenerateRequest{
		SourceText: v.GetString("text"),
		Config: model.GenerateConfig{
			Description: v.GetString("description"),
			Difficulty:  v.GetString("difficulty"),
		},
	}
	if path := v.GetString("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return api.GenerateRequest{}, fmt.Errorf("read %s: %w", path, err)
		}
		req.FileName = path
		req.FileData = data
	}
	for _, qc := range []struct {
		flag string
		typ  model.QuestionType
	}{
		{"single-choice", model.TypeSingleChoice},
		{"multiple-choice", model.TypeMultipleChoice},
		{"fill-blank", model.TypeFillInTheBlank},
		{"essay", model.TypeEssay},
	} {
		if n := v.GetInt(qc.flag); n > 0 {
			req.Config.QuestionConfig = append(req.Config.QuestionConfig, model.QuestionCount{Type: qc.typ, Count: n})
		}
	}
	if req.SourceText == "" && len(req.FileData) == 0 {
		return api.GenerateRequest{}, fmt.Errorf("provide --text or --file")
	}
	return req, nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	client, ctx, err := clientFromCmd(cmd)
	if err != nil {
		return err
	}
	v := viperForCmd(cmd)
	req, err := generateRequestFromCmd(v)
	if err != nil {
		return err
	}

	var paper model.Paper
	if v.GetBool("stream") {
		paper, err = generateStreaming(ctx, client, req)
	} else {
		paper, err = client.Generate(ctx, req)
	}
	if err != nil {
		return err
	}

	fmt.Println(appI18n.Td(ctx, "PaperTitle", map[string]any{"Name": paper.Name}))
	fmt.Println(appI18n.Tp(ctx, "QuestionsGenerated", len(paper.Questions)))
	fmt.Println(appI18n.Td(ctx, "PaperSaved", map[string]any{"ID": paper.TestID}))
	return nil
}

// printingSink echoes streamed paper parts to the terminal while the
// session accumulates them.
type printingSink struct {
	ctx  context.Context
	sess *session.Session
	n    int
}

func (p *printingSink) ApplyMetadata(md model.Metadata) {
	p.sess.ApplyMetadata(md)
	fmt.Println(appI18n.Td(p.ctx, "PaperTitle", map[string]any{"Name": md.Title}))
}

func (p *printingSink) ApplyQuestion(q model.Question) {
	p.sess.ApplyQuestion(q)
	p.n++
	fmt.Printf("%d. [%s] %s\n", p.n, q.Type, q.Stem)
}

// generateStreaming runs stream generation, printing questions as they
// arrive, then saves the assembled paper for server-assigned ids.
func generateStreaming(ctx context.Context, client *api.Client, req api.GenerateRequest) (model.Paper, error) {
	body, err := client.GenerateStream(ctx, req)
	if err != nil {
		return model.Paper{}, err
	}

	sess := session.New()
	ingestor := stream.NewIngestor(&printingSink{ctx: ctx, sess: sess})
	if err := ingestor.Start(ctx, body); err != nil {
		return model.Paper{}, fmt.Errorf("ingest stream: %w", err)
	}

	saved, err := client.SavePaper(ctx, sess.Paper())
	if err != nil {
		return model.Paper{}, fmt.Errorf("save paper: %w", err)
	}
	return saved, nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	client, ctx, err := clientFromCmd(cmd)
	if err != nil {
		return err
	}
	v := viperForCmd(cmd)

	if id := v.GetInt64("delete"); id != 0 {
		return client.DeleteResult(ctx, id, v.GetBool("delete-paper"))
	}

	if id := v.GetInt64("show"); id != 0 {
		result, err := client.HistoryResult(ctx, id)
		if err != nil {
			return err
		}
		printResult(ctx, result)
		return nil
	}

	if v.GetBool("papers") {
		papers, err := client.ListPapers(ctx, v.GetString("search"), v.GetString("sort-by"), v.GetString("order"))
		if err != nil {
			return err
		}
		if len(papers) == 0 {
			fmt.Println(appI18n.T(ctx, "NoHistory"))
			return nil
		}
		for _, p := range papers {
			fmt.Printf("%s  %s  (%d+%d)\n", p.ID, p.Name, p.TotalObjectiveQuestions, p.TotalEssayQuestions)
		}
		return nil
	}

	results, err := client.History(ctx, v.GetString("search"), v.GetString("sort-by"), v.GetString("order"))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println(appI18n.T(ctx, "NoHistory"))
		return nil
	}
	for _, r := range results {
		name := r.TestPaperID
		if r.TestPaper != nil {
			name = r.TestPaper.Name
		}
		fmt.Println(appI18n.Td(ctx, "HistoryEntry", map[string]any{
			"ID":      r.ID,
			"Name":    name,
			"Correct": r.CorrectObjectiveQuestions,
			"Date":    r.CreatedAt.Format("2006-01-02 15:04"),
		}))
	}
	return nil
}

func printResult(ctx context.Context, r model.PaperResult) {
	if r.TestPaper != nil {
		fmt.Println(appI18n.Td(ctx, "PaperTitle", map[string]any{"Name": r.TestPaper.Name}))
	}
	for _, gr := range r.GradingResults {
		verdict := appI18n.T(ctx, "ResultUngraded")
		if gr.IsCorrect != nil {
			if *gr.IsCorrect {
				verdict = appI18n.T(ctx, "ResultCorrect")
			} else {
				verdict = appI18n.T(ctx, "ResultWrong")
			}
		}
		fmt.Printf("  %s: %s\n", gr.QuestionID, verdict)
		if fb, ok := r.QuestionFeedbacks[gr.QuestionID]; ok {
			fmt.Printf("    %s\n", fb)
		}
	}
	if r.OverallFeedback != "" {
		fmt.Println(appI18n.T(ctx, "OverallFeedbackHeader"))
		fmt.Println(r.OverallFeedback)
	}
}
