// Package views renders server-side HTML surfaces.
package views

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/lihaozhang01/ai4exam/internal/i18n"
	"github.com/lihaozhang01/ai4exam/internal/model"
)

// ExportPage renders a paper as a standalone HTML document: every
// question is interactive (inputs, show-answer toggles) and the page
// needs no server once saved to disk.
func ExportPage(p model.Paper) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		pw := &pageWriter{ctx: ctx, w: w}

		pw.raw("<!DOCTYPE html>\n<html>\n<head>\n")
		pw.raw(`<meta charset="UTF-8">` + "\n")
		pw.raw(`<meta name="viewport" content="width=device-width, initial-scale=1.0">` + "\n")
		pw.f("<title>%s</title>\n", templ.EscapeString(p.Name))
		pw.raw("<style>" + exportCSS + "</style>\n")
		pw.raw("</head>\n<body>\n")
		pw.f("<h1>%s</h1>\n", templ.EscapeString(p.Name))
		if p.Description != "" {
			pw.f("<p class=\"description\">%s</p>\n", templ.EscapeString(p.Description))
		}
		pw.raw(`<div id="test-paper">` + "\n")
		for i, q := range p.Questions {
			pw.question(q, i+1)
		}
		pw.raw("</div>\n")
		pw.raw("<script>" + exportJS + "</script>\n")
		pw.raw("</body>\n</html>\n")

		return pw.err
	})
}

// pageWriter accumulates the first write error so the per-question
// writers can stay unconditional.
type pageWriter struct {
	ctx context.Context
	w   io.Writer
	err error
}

func (pw *pageWriter) raw(s string) {
	if pw.err != nil {
		return
	}
	_, pw.err = io.WriteString(pw.w, s)
}

func (pw *pageWriter) f(format string, args ...any) {
	if pw.err != nil {
		return
	}
	_, pw.err = fmt.Fprintf(pw.w, format, args...)
}

func (pw *pageWriter) question(q model.Question, number int) {
	id := templ.EscapeString(q.ID)
	pw.f(`<div class="question" id="question-%s">`+"\n", id)
	pw.f(`<div class="question-stem">%d. %s</div>`+"\n", number, templ.EscapeString(q.Stem))

	switch q.Type {
	case model.TypeSingleChoice:
		pw.options(q, "radio", "selectSingleOption")
		pw.answerBlock(q, func() {
			if q.Answer.Index != nil {
				pw.f(`<div class="correct">%s %s</div>`+"\n",
					templ.EscapeString(i18n.T(pw.ctx, "ExportCorrectAnswer")), optionLetter(*q.Answer.Index))
			}
			pw.explanation(q.Answer.Explanation)
		})
	case model.TypeMultipleChoice:
		pw.options(q, "checkbox", "toggleMultipleOption")
		pw.answerBlock(q, func() {
			letters := ""
			for i, idx := range q.Answer.Indexes {
				if i > 0 {
					letters += ", "
				}
				letters += optionLetter(idx)
			}
			pw.f(`<div class="correct">%s %s</div>`+"\n",
				templ.EscapeString(i18n.T(pw.ctx, "ExportCorrectAnswer")), letters)
			pw.explanation(q.Answer.Explanation)
		})
	case model.TypeFillInTheBlank:
		pw.raw(`<div class="fill-in-blank">` + "\n")
		for i := range q.Answer.Texts {
			label := i18n.Td(pw.ctx, "ExportBlankLabel", map[string]any{"N": i + 1})
			pw.f(`<div class="blank-row"><label>%s</label><input type="text" class="fill-blank-input" id="q%s-blank%d"></div>`+"\n",
				templ.EscapeString(label), id, i)
		}
		pw.raw("</div>\n")
		pw.answerBlock(q, func() {
			pw.f(`<div class="correct">%s</div>`+"\n<ul>\n", templ.EscapeString(i18n.T(pw.ctx, "ExportCorrectAnswer")))
			for i, text := range q.Answer.Texts {
				label := i18n.Td(pw.ctx, "ExportBlankLabel", map[string]any{"N": i + 1})
				pw.f("<li>%s %s</li>\n", templ.EscapeString(label), templ.EscapeString(text))
			}
			pw.raw("</ul>\n")
			pw.explanation(q.Answer.Explanation)
		})
	case model.TypeEssay:
		pw.f(`<div><textarea id="q%s-essay" placeholder="%s"></textarea></div>`+"\n",
			id, templ.EscapeString(i18n.T(pw.ctx, "ExportEssayPlaceholder")))
		pw.answerBlock(q, func() {
			pw.f(`<div class="correct">%s</div>`+"\n", templ.EscapeString(i18n.T(pw.ctx, "ExportReferenceAnswer")))
			pw.f("<div>%s</div>\n", templ.EscapeString(q.Answer.ReferenceExplanation))
		})
	}

	pw.f(`<button class="show-answer" data-show="%s" data-hide="%s" onclick="toggleAnswer('%s')">%s</button>`+"\n",
		templ.EscapeString(i18n.T(pw.ctx, "ExportShowAnswer")),
		templ.EscapeString(i18n.T(pw.ctx, "ExportHideAnswer")),
		id,
		templ.EscapeString(i18n.T(pw.ctx, "ExportShowAnswer")))
	pw.raw("</div>\n")
}

func (pw *pageWriter) options(q model.Question, inputType, onclick string) {
	id := templ.EscapeString(q.ID)
	pw.raw(`<div class="options">` + "\n")
	for i, opt := range q.Options {
		pw.f(`<div class="option" onclick="%s('%s', %d)">`+"\n", onclick, id, i)
		pw.f(`<input type="%s" id="q%s-option%d" name="q%s" value="%d">`+"\n", inputType, id, i, id, i)
		pw.f(`<label for="q%s-option%d">%s. %s</label>`+"\n", id, i, optionLetter(i), templ.EscapeString(opt))
		pw.raw("</div>\n")
	}
	pw.raw("</div>\n")
}

func (pw *pageWriter) answerBlock(q model.Question, body func()) {
	pw.f(`<div class="answer" id="answer-%s">`+"\n", templ.EscapeString(q.ID))
	body()
	pw.raw("</div>\n")
}

func (pw *pageWriter) explanation(text string) {
	if text == "" {
		return
	}
	pw.f(`<div class="explanation">%s</div>`+"\n", templ.EscapeString(text))
}

func optionLetter(i int) string {
	return string(rune('A' + i))
}

const exportCSS = `
body { font-family: 'Arial', 'Microsoft YaHei', sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; }
h1 { text-align: center; margin-bottom: 30px; }
.description { text-align: center; color: #666; margin-bottom: 30px; }
.question { margin-bottom: 30px; padding: 15px; border: 1px solid #e0e0e0; border-radius: 5px; background-color: #f9f9f9; }
.question-stem { font-weight: bold; margin-bottom: 10px; }
.options { margin-left: 20px; }
.option { margin-bottom: 5px; cursor: pointer; }
.option:hover { background-color: #f0f0f0; }
.answer { margin-top: 15px; padding: 10px; border-top: 1px dashed #ccc; display: none; }
.show-answer { margin-top: 10px; background-color: #4CAF50; color: white; border: none; padding: 5px 10px; font-size: 14px; cursor: pointer; border-radius: 4px; }
.show-answer:hover { background-color: #45a049; }
.explanation { margin-top: 10px; font-style: italic; }
.correct { color: #4CAF50; font-weight: bold; }
.blank-row { margin-bottom: 10px; }
.fill-blank-input { border: none; border-bottom: 1px solid #999; outline: none; padding: 5px; margin: 0 5px; width: 150px; }
textarea { width: 100%; min-height: 100px; padding: 10px; border: 1px solid #ddd; border-radius: 4px; resize: vertical; }
`

const exportJS = `
function selectSingleOption(questionId, optionIndex) {
	const options = document.querySelectorAll('input[name="q' + questionId + '"]');
	options.forEach((option, index) => { option.checked = index === optionIndex; });
}
function toggleMultipleOption(questionId, optionIndex) {
	const option = document.getElementById('q' + questionId + '-option' + optionIndex);
	option.checked = !option.checked;
}
function toggleAnswer(questionId) {
	const answerDiv = document.getElementById('answer-' + questionId);
	const button = document.querySelector('#question-' + questionId + ' .show-answer');
	if (answerDiv.style.display === 'block') {
		answerDiv.style.display = 'none';
		button.textContent = button.dataset.show;
	} else {
		answerDiv.style.display = 'block';
		button.textContent = button.dataset.hide;
	}
}
`
