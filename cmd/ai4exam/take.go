package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lihaozhang01/ai4exam/internal/answer"
	appI18n "github.com/lihaozhang01/ai4exam/internal/i18n"
	"github.com/lihaozhang01/ai4exam/internal/model"
	"github.com/lihaozhang01/ai4exam/internal/session"
)

func runTake(cmd *cobra.Command, args []string) error {
	client, ctx, err := clientFromCmd(cmd)
	if err != nil {
		return err
	}
	v := viperForCmd(cmd)

	paper, err := client.GetPaper(ctx, args[0])
	if err != nil {
		return err
	}

	sess := session.New()
	sess.LoadPaper(paper)

	fmt.Println(appI18n.Td(ctx, "PaperTitle", map[string]any{"Name": paper.Name}))
	if paper.Description != "" {
		fmt.Println(paper.Description)
	}
	fmt.Println()

	in := bufio.NewScanner(os.Stdin)
	total := len(paper.Questions)
	objective := 0
	for i, q := range paper.Questions {
		if q.Type.Objective() {
			objective++
		}
		fmt.Println(appI18n.Td(ctx, "QuestionProgress", map[string]any{"Index": i + 1, "Total": total}))
		fmt.Println(q.Stem)
		for j, opt := range q.Options {
			fmt.Printf("  %d. %s\n", j, opt)
		}

		a, err := readAnswer(ctx, in, q)
		if err != nil {
			return err
		}
		if a == nil {
			continue
		}
		if err := sess.RecordAnswer(q.ID, a); err != nil {
			return fmt.Errorf("record answer: %w", err)
		}
		fmt.Println()
	}

	if err := sess.Submit(ctx, client); err != nil {
		return err
	}

	fmt.Println(appI18n.Td(ctx, "Submitted", map[string]any{
		"Correct": sess.CorrectObjective(),
		"Total":   objective,
	}))
	printReview(ctx, sess)

	if v.GetBool("feedback") {
		feedback, err := client.OverallFeedback(ctx, sess.ResultID())
		if err != nil {
			return fmt.Errorf("overall feedback: %w", err)
		}
		if err := sess.SetOverallFeedback(feedback); err != nil {
			return err
		}
		fmt.Println(appI18n.T(ctx, "OverallFeedbackHeader"))
		fmt.Println(feedback)
	}
	return nil
}

// readAnswer prompts for and parses one answer. A blank line skips the
// question.
func readAnswer(ctx context.Context, in *bufio.Scanner, q model.Question) (model.Answer, error) {
	switch q.Type {
	case model.TypeSingleChoice:
		fmt.Println(appI18n.T(ctx, "PromptSingleChoice"))
		line, err := readLine(in)
		if err != nil || line == "" {
			return nil, err
		}
		idx, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("parse option number: %w", err)
		}
		return model.SingleChoice(idx), nil

	case model.TypeMultipleChoice:
		fmt.Println(appI18n.T(ctx, "PromptMultipleChoice"))
		line, err := readLine(in)
		if err != nil || line == "" {
			return nil, err
		}
		var indices []int
		for _, field := range strings.Fields(line) {
			idx, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("parse option number %q: %w", field, err)
			}
			indices = append(indices, idx)
		}
		return model.MultipleChoice(indices), nil

	case model.TypeFillInTheBlank:
		fmt.Println(appI18n.T(ctx, "PromptFillBlank"))
		line, err := readLine(in)
		if err != nil || line == "" {
			return nil, err
		}
		return model.FillBlank(answer.SplitBlanks(line)), nil

	case model.TypeEssay:
		fmt.Println(appI18n.T(ctx, "PromptEssay"))
		var lines []string
		for {
			line, err := readLine(in)
			if err != nil {
				return nil, err
			}
			if line == "" {
				break
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			return nil, nil
		}
		return model.Essay(strings.Join(lines, "\n")), nil
	}
	return nil, fmt.Errorf("unknown question type %q", q.Type)
}

func readLine(in *bufio.Scanner) (string, error) {
	if !in.Scan() {
		if err := in.Err(); err != nil {
			return "", err
		}
		return "", nil
	}
	return strings.TrimSpace(in.Text()), nil
}

func printReview(ctx context.Context, sess *session.Session) {
	paper := sess.Paper()
	for i, q := range paper.Questions {
		r, ok := sess.ResultFor(q.ID)
		if !ok {
			continue
		}
		verdict := appI18n.T(ctx, "ResultUngraded")
		if r.IsCorrect != nil {
			if *r.IsCorrect {
				verdict = appI18n.T(ctx, "ResultCorrect")
			} else {
				verdict = appI18n.T(ctx, "ResultWrong")
			}
		}
		fmt.Printf("%d. %s\n", i+1, verdict)
		if ref := referenceText(q); ref != "" {
			fmt.Println(appI18n.Td(ctx, "ReferenceAnswer", map[string]any{"Text": ref}))
		}
	}
}

func referenceText(q model.Question) string {
	key := q.Answer
	switch {
	case key.Index != nil:
		if *key.Index >= 0 && *key.Index < len(q.Options) {
			return q.Options[*key.Index]
		}
	case len(key.Indexes) > 0:
		var parts []string
		for _, i := range key.Indexes {
			if i >= 0 && i < len(q.Options) {
				parts = append(parts, q.Options[i])
			}
		}
		return strings.Join(parts, "; ")
	case len(key.Texts) > 0:
		return answer.JoinBlanks(key.Texts)
	case key.ReferenceExplanation != "":
		return key.ReferenceExplanation
	}
	return ""
}
