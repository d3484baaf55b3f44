// Package store persists papers and graded results in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lihaozhang01/ai4exam/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS test_papers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		paper_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		type TEXT NOT NULL,
		stem TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		answer TEXT NOT NULL DEFAULT '{}',
		FOREIGN KEY (paper_id) REFERENCES test_papers(id)
	);

	CREATE TABLE IF NOT EXISTS test_paper_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_paper_id TEXT NOT NULL,
		user_answers TEXT NOT NULL DEFAULT '[]',
		grading_results TEXT NOT NULL DEFAULT '[]',
		overall_feedback TEXT NOT NULL DEFAULT '',
		question_feedbacks TEXT NOT NULL DEFAULT '{}',
		correct_objective INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (test_paper_id) REFERENCES test_papers(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SavePaper stores a paper with its questions. Missing paper and
// question ids get fresh UUIDs; the stored paper is returned so the
// caller sees the assigned ids.
func (s *Store) SavePaper(p model.Paper) (model.Paper, error) {
	if p.TestID == "" {
		p.TestID = uuid.NewString()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return model.Paper{}, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO test_papers (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		p.TestID, p.Name, p.Description, time.Now(),
	)
	if err != nil {
		return model.Paper{}, err
	}

	for i := range p.Questions {
		q := &p.Questions[i]
		if q.ID == "" || strings.HasPrefix(q.ID, "stream-") {
			q.ID = uuid.NewString()
		}
		options, err := json.Marshal(q.Options)
		if err != nil {
			return model.Paper{}, fmt.Errorf("marshal options: %w", err)
		}
		answer, err := json.Marshal(q.Answer)
		if err != nil {
			return model.Paper{}, fmt.Errorf("marshal answer: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO questions (id, paper_id, position, type, stem, options, answer) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			q.ID, p.TestID, i, q.Type, q.Stem, string(options), string(answer),
		)
		if err != nil {
			return model.Paper{}, err
		}
	}

	return p, tx.Commit()
}

// GetPaper returns a paper with its questions in position order.
func (s *Store) GetPaper(id string) (model.Paper, error) {
	var p model.Paper
	err := s.db.QueryRow(
		`SELECT id, name, description FROM test_papers WHERE id = ?`, id,
	).Scan(&p.TestID, &p.Name, &p.Description)
	if err != nil {
		return model.Paper{}, err
	}

	rows, err := s.db.Query(
		`SELECT id, type, stem, options, answer FROM questions WHERE paper_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return model.Paper{}, err
	}
	defer rows.Close()
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return model.Paper{}, err
		}
		p.Questions = append(p.Questions, q)
	}
	return p, rows.Err()
}

// GetQuestion returns one question by id.
func (s *Store) GetQuestion(id string) (model.Question, error) {
	row := s.db.QueryRow(`SELECT id, type, stem, options, answer FROM questions WHERE id = ?`, id)
	return scanQuestion(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (model.Question, error) {
	var q model.Question
	var options, answer string
	if err := row.Scan(&q.ID, &q.Type, &q.Stem, &options, &answer); err != nil {
		return model.Question{}, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return model.Question{}, fmt.Errorf("unmarshal options: %w", err)
	}
	if err := json.Unmarshal([]byte(answer), &q.Answer); err != nil {
		return model.Question{}, fmt.Errorf("unmarshal answer: %w", err)
	}
	return q, nil
}

// ListPapers returns paper summaries. search filters on the name,
// sortBy is "name" or "created_at", order is "asc" or "desc".
func (s *Store) ListPapers(search, sortBy, order string) ([]model.PaperSummary, error) {
	query := `
	SELECT p.id, p.name, p.created_at,
	       COALESCE(SUM(CASE WHEN q.type != 'essay' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN q.type = 'essay' THEN 1 ELSE 0 END), 0)
	FROM test_papers p
	LEFT JOIN questions q ON q.paper_id = p.id
	`
	var args []any
	if search != "" {
		query += ` WHERE p.name LIKE ?`
		args = append(args, "%"+search+"%")
	}
	query += ` GROUP BY p.id ORDER BY ` + paperSortColumn(sortBy) + ` ` + sortOrder(order)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	summaries := []model.PaperSummary{}
	for rows.Next() {
		var ps model.PaperSummary
		if err := rows.Scan(&ps.ID, &ps.Name, &ps.CreatedAt, &ps.TotalObjectiveQuestions, &ps.TotalEssayQuestions); err != nil {
			return nil, err
		}
		summaries = append(summaries, ps)
	}
	return summaries, rows.Err()
}

// DeletePaper removes a paper, its questions and its results.
func (s *Store) DeletePaper(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM test_paper_results WHERE test_paper_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM questions WHERE paper_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM test_papers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// SaveResult stores a graded submission and returns its id.
func (s *Store) SaveResult(r model.PaperResult) (int64, error) {
	userAnswers, err := json.Marshal(r.UserAnswers)
	if err != nil {
		return 0, fmt.Errorf("marshal user answers: %w", err)
	}
	gradingResults, err := json.Marshal(r.GradingResults)
	if err != nil {
		return 0, fmt.Errorf("marshal grading results: %w", err)
	}
	feedbacks := r.QuestionFeedbacks
	if feedbacks == nil {
		feedbacks = map[string]string{}
	}
	questionFeedbacks, err := json.Marshal(feedbacks)
	if err != nil {
		return 0, fmt.Errorf("marshal question feedbacks: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO test_paper_results (test_paper_id, user_answers, grading_results, overall_feedback, question_feedbacks, correct_objective, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TestPaperID, string(userAnswers), string(gradingResults), r.OverallFeedback, string(questionFeedbacks), r.CorrectObjectiveQuestions, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetResult returns one result with its paper summary attached.
func (s *Store) GetResult(id int64) (model.PaperResult, error) {
	row := s.db.QueryRow(resultQuery+` WHERE r.id = ? GROUP BY r.id`, id)
	return scanResult(row)
}

const resultQuery = `
	SELECT r.id, r.test_paper_id, r.user_answers, r.grading_results,
	       r.overall_feedback, r.question_feedbacks, r.correct_objective, r.created_at,
	       p.name, p.created_at,
	       COALESCE(SUM(CASE WHEN q.type != 'essay' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN q.type = 'essay' THEN 1 ELSE 0 END), 0)
	FROM test_paper_results r
	JOIN test_papers p ON p.id = r.test_paper_id
	LEFT JOIN questions q ON q.paper_id = p.id`

func scanResult(row rowScanner) (model.PaperResult, error) {
	var r model.PaperResult
	var userAnswers, gradingResults, questionFeedbacks string
	summary := model.PaperSummary{}
	if err := row.Scan(
		&r.ID, &r.TestPaperID, &userAnswers, &gradingResults,
		&r.OverallFeedback, &questionFeedbacks, &r.CorrectObjectiveQuestions, &r.CreatedAt,
		&summary.Name, &summary.CreatedAt,
		&summary.TotalObjectiveQuestions, &summary.TotalEssayQuestions,
	); err != nil {
		return model.PaperResult{}, err
	}
	if err := json.Unmarshal([]byte(userAnswers), &r.UserAnswers); err != nil {
		return model.PaperResult{}, fmt.Errorf("unmarshal user answers: %w", err)
	}
	if err := json.Unmarshal([]byte(gradingResults), &r.GradingResults); err != nil {
		return model.PaperResult{}, fmt.Errorf("unmarshal grading results: %w", err)
	}
	if err := json.Unmarshal([]byte(questionFeedbacks), &r.QuestionFeedbacks); err != nil {
		return model.PaperResult{}, fmt.Errorf("unmarshal question feedbacks: %w", err)
	}
	summary.ID = r.TestPaperID
	r.TestPaper = &summary
	return r, nil
}

// ListResults returns results newest first by default. search filters
// on the paper name, sortBy is "name" or "created_at", order is "asc"
// or "desc".
func (s *Store) ListResults(search, sortBy, order string) ([]model.PaperResult, error) {
	query := resultQuery
	var args []any
	if search != "" {
		query += ` WHERE p.name LIKE ?`
		args = append(args, "%"+search+"%")
	}
	query += ` GROUP BY r.id ORDER BY ` + resultSortColumn(sortBy) + ` ` + sortOrder(order)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []model.PaperResult{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteResult removes a result, optionally together with its paper.
func (s *Store) DeleteResult(id int64, deletePaper bool) error {
	var paperID string
	err := s.db.QueryRow(`SELECT test_paper_id FROM test_paper_results WHERE id = ?`, id).Scan(&paperID)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM test_paper_results WHERE id = ?`, id); err != nil {
		return err
	}
	if deletePaper {
		return s.DeletePaper(paperID)
	}
	return nil
}

// SetOverallFeedback attaches paper-level AI feedback to a result.
func (s *Store) SetOverallFeedback(id int64, feedback string) error {
	res, err := s.db.Exec(`UPDATE test_paper_results SET overall_feedback = ? WHERE id = ?`, feedback, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetQuestionFeedback attaches per-question AI feedback to a result.
func (s *Store) SetQuestionFeedback(id int64, questionID, feedback string) error {
	var raw string
	err := s.db.QueryRow(`SELECT question_feedbacks FROM test_paper_results WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		return err
	}
	feedbacks := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &feedbacks); err != nil {
		return fmt.Errorf("unmarshal question feedbacks: %w", err)
	}
	feedbacks[questionID] = feedback
	updated, err := json.Marshal(feedbacks)
	if err != nil {
		return fmt.Errorf("marshal question feedbacks: %w", err)
	}
	_, err = s.db.Exec(`UPDATE test_paper_results SET question_feedbacks = ? WHERE id = ?`, string(updated), id)
	return err
}

func paperSortColumn(sortBy string) string {
	if sortBy == "name" {
		return "p.name"
	}
	return "p.created_at"
}

func resultSortColumn(sortBy string) string {
	if sortBy == "name" {
		return "p.name"
	}
	return "r.created_at"
}

func sortOrder(order string) string {
	if order == "asc" {
		return "ASC"
	}
	return "DESC"
}
