// Package prompts builds the system and user prompts for paper
// generation and answer evaluation.
package prompts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lihaozhang01/ai4exam/internal/model"
)

// sourceTagRegex strips tag-like markers from user-supplied source
// text so it cannot break out of its delimited block in the prompt.
var sourceTagRegex = regexp.MustCompile(`(?i)</?\s*source-material\b[^>]*>`)

const answerShapes = `Answer shapes by question type:
- single_choice: {"index": <zero-based correct option>, "explanation": "<why>"}
- multiple_choice: {"indexes": [<zero-based correct options>], "explanation": "<why>"}
- fill_in_the_blank: {"texts": ["<answer for each blank, in order>"], "explanation": "<why>"}
- essay: {"reference_explanation": "<model answer>"}
Fill-in-the-blank stems mark each blank with ____.`

// Generation is the system prompt for one-shot paper generation.
func Generation(cfg model.GenerateConfig) string {
	var sb strings.Builder
	sb.WriteString("You are an exam author. Create an exam paper from the source material the user provides.\n\n")
	writeQuestionPlan(&sb, cfg)
	sb.WriteString("Respond ONLY with a JSON object:\n")
	sb.WriteString(`{"name": "<paper title>", "description": "<one sentence>", "questions": [{"type": "<single_choice|multiple_choice|fill_in_the_blank|essay>", "stem": "<question text>", "options": ["<choice questions only>"], "answer": {...}}]}`)
	sb.WriteString("\n\n")
	sb.WriteString(answerShapes)
	sb.WriteString("\n")
	return sb.String()
}

// GenerationStream is the system prompt for incremental paper
// generation. The model separates paper parts with markers so each
// part can be parsed as soon as it is complete.
func GenerationStream(cfg model.GenerateConfig) string {
	var sb strings.Builder
	sb.WriteString("You are an exam author. Create an exam paper from the source material the user provides, ")
	sb.WriteString("emitting it piece by piece.\n\n")
	writeQuestionPlan(&sb, cfg)
	sb.WriteString("OUTPUT FORMAT:\n")
	sb.WriteString("1. First emit the paper header as JSON: {\"title\": \"<paper title>\", \"description\": \"<one sentence>\"}\n")
	sb.WriteString("2. After the header emit the marker %%END_OF_META%% on its own line.\n")
	sb.WriteString("3. Then emit each question as a standalone JSON object: ")
	sb.WriteString(`{"type": "<single_choice|multiple_choice|fill_in_the_blank|essay>", "stem": "<question text>", "options": ["<choice questions only>"], "answer": {...}}`)
	sb.WriteString("\n")
	sb.WriteString("4. After every question emit the marker %%END_OF_QUESTION%% on its own line.\n\n")
	sb.WriteString(answerShapes)
	sb.WriteString("\n\nEmit nothing besides the JSON objects and the markers. No code fences.\n")
	return sb.String()
}

func writeQuestionPlan(sb *strings.Builder, cfg model.GenerateConfig) {
	if cfg.Description != "" {
		sb.WriteString("FOCUS: " + cfg.Description + "\n\n")
	}
	if cfg.Difficulty != "" {
		sb.WriteString("DIFFICULTY: " + cfg.Difficulty + "\n\n")
	}
	if len(cfg.QuestionConfig) > 0 {
		sb.WriteString("QUESTION PLAN:\n")
		for _, qc := range cfg.QuestionConfig {
			fmt.Fprintf(sb, "- %d x %s\n", qc.Count, qc.Type)
		}
		sb.WriteString("\n")
	}
}

// GenerationInput wraps the source material as the user message.
func GenerationInput(source string) string {
	var sb strings.Builder
	sb.WriteString("<source-material>\n")
	sb.WriteString(sourceTagRegex.ReplaceAllString(source, ""))
	sb.WriteString("\n</source-material>\n")
	return sb.String()
}

// Evaluation is the default system prompt for feedback requests.
func Evaluation() string {
	return "You are an experienced teacher reviewing a student's graded exam. " +
		"Give constructive, specific feedback in plain prose. Address the student directly.\n"
}

// EssayEvaluation is the system prompt for structured essay scoring.
func EssayEvaluation() string {
	var sb strings.Builder
	sb.WriteString("You are an exam grader scoring a free-text answer against a reference answer.\n\n")
	sb.WriteString("Respond ONLY with a JSON object:\n")
	sb.WriteString(`{"score": <0 to 100>, "feedback": "<brief assessment>", "strengths": ["<what was good>"], "areas_for_improvement": ["<what was missing or wrong>"]}`)
	sb.WriteString("\n")
	return sb.String()
}

// EssayInput builds the user message for essay scoring.
func EssayInput(q model.Question, answerText string) string {
	var sb strings.Builder
	sb.WriteString("QUESTION: " + q.Stem + "\n\n")
	if q.Answer.ReferenceExplanation != "" {
		sb.WriteString("REFERENCE ANSWER:\n" + q.Answer.ReferenceExplanation + "\n\n")
	}
	sb.WriteString("STUDENT ANSWER:\n" + answerText + "\n")
	return sb.String()
}

// OverallFeedback builds the user message for paper-level feedback on
// a graded submission.
func OverallFeedback(paper model.Paper, answers []model.UserAnswer, results []model.GradingResult) string {
	byID := make(map[string]model.GradingResult, len(results))
	for _, r := range results {
		byID[r.QuestionID] = r
	}
	answered := make(map[string]model.UserAnswer, len(answers))
	for _, ua := range answers {
		answered[ua.QuestionID] = ua
	}

	var sb strings.Builder
	sb.WriteString("The student just completed the exam \"" + paper.Name + "\".\n\n")
	for i, q := range paper.Questions {
		fmt.Fprintf(&sb, "QUESTION %d (%s): %s\n", i+1, q.Type, q.Stem)
		if ua, ok := answered[q.ID]; ok {
			sb.WriteString("STUDENT ANSWER: " + describeAnswer(q, ua) + "\n")
		} else {
			sb.WriteString("STUDENT ANSWER: (not answered)\n")
		}
		if r, ok := byID[q.ID]; ok && r.IsCorrect != nil {
			if *r.IsCorrect {
				sb.WriteString("RESULT: correct\n")
			} else {
				sb.WriteString("RESULT: wrong\n")
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Write overall feedback on the student's performance: what they have mastered, ")
	sb.WriteString("where the gaps are, and what to study next.\n")
	return sb.String()
}

// QuestionFeedback builds the user message for feedback on one
// answered question.
func QuestionFeedback(q model.Question, ua model.UserAnswer) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "QUESTION (%s): %s\n", q.Type, q.Stem)
	if len(q.Options) > 0 {
		sb.WriteString("OPTIONS:\n")
		for i, opt := range q.Options {
			fmt.Fprintf(&sb, "%d. %s\n", i, opt)
		}
	}
	sb.WriteString("CORRECT ANSWER: " + describeKey(q) + "\n")
	sb.WriteString("STUDENT ANSWER: " + describeAnswer(q, ua) + "\n\n")
	sb.WriteString("Explain what the student got right or wrong on this question and how to think about it.\n")
	return sb.String()
}

func describeAnswer(q model.Question, ua model.UserAnswer) string {
	switch {
	case ua.AnswerIndex != nil:
		return option(q, *ua.AnswerIndex)
	case ua.AnswerIndices != nil:
		parts := make([]string, 0, len(*ua.AnswerIndices))
		for _, i := range *ua.AnswerIndices {
			parts = append(parts, option(q, i))
		}
		return strings.Join(parts, "; ")
	case ua.AnswerTexts != nil:
		return strings.Join(*ua.AnswerTexts, "; ")
	case ua.AnswerText != nil:
		return *ua.AnswerText
	}
	return "(not answered)"
}

func describeKey(q model.Question) string {
	key := q.Answer
	switch {
	case key.Index != nil:
		return option(q, *key.Index)
	case len(key.Indexes) > 0:
		parts := make([]string, 0, len(key.Indexes))
		for _, i := range key.Indexes {
			parts = append(parts, option(q, i))
		}
		return strings.Join(parts, "; ")
	case len(key.Texts) > 0:
		return strings.Join(key.Texts, "; ")
	case key.ReferenceExplanation != "":
		return key.ReferenceExplanation
	}
	return "(none)"
}

func option(q model.Question, i int) string {
	if i >= 0 && i < len(q.Options) {
		return q.Options[i]
	}
	return strconv.Itoa(i)
}
