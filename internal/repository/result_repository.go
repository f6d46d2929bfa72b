package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ResultRepository handles test result data access.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

const resultColumns = `id, session_id, test_id, user_id, total_questions, answered_questions, correct_answers,
	total_marks, marks_obtained, percentage, grade, is_passed, time_taken_seconds, completed_at`

func scanResult(row pgx.Row) (*model.TestResult, error) {
	res := &model.TestResult{}
	err := row.Scan(&res.ID, &res.SessionID, &res.TestID, &res.UserID, &res.TotalQuestions,
		&res.AnsweredQuestions, &res.CorrectAnswers, &res.TotalMarks, &res.MarksObtained,
		&res.Percentage, &res.Grade, &res.IsPassed, &res.TimeTakenSeconds, &res.CompletedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func collectResults(rows pgx.Rows) ([]model.TestResult, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TestResult, error) {
		res, err := scanResult(row)
		if err != nil {
			return model.TestResult{}, err
		}
		return *res, nil
	})
}

// Create stores a result. A result already stored for the session is kept and
// returned in place of res.
func (r *ResultRepository) Create(ctx context.Context, res *model.TestResult) (*model.TestResult, error) {
	stored, err := scanResult(r.pool.QueryRow(ctx,
		`INSERT INTO test_results (session_id, test_id, user_id, total_questions, answered_questions,
		                           correct_answers, total_marks, marks_obtained, percentage, grade,
		                           is_passed, time_taken_seconds, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (session_id) DO NOTHING
		 RETURNING `+resultColumns,
		res.SessionID, res.TestID, res.UserID, res.TotalQuestions, res.AnsweredQuestions,
		res.CorrectAnswers, res.TotalMarks, res.MarksObtained, res.Percentage, res.Grade,
		res.IsPassed, res.TimeTakenSeconds, res.CompletedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.GetBySession(ctx, res.SessionID)
	}
	return stored, err
}

// GetByID retrieves one result.
func (r *ResultRepository) GetByID(ctx context.Context, id int) (*model.TestResult, error) {
	return scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM test_results WHERE id = $1`, id))
}

// GetBySession retrieves the result of a session.
func (r *ResultRepository) GetBySession(ctx context.Context, sessionID int) (*model.TestResult, error) {
	return scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM test_results WHERE session_id = $1`, sessionID))
}

// ListByUser returns a user's results, newest first.
func (r *ResultRepository) ListByUser(ctx context.Context, userID int) ([]model.TestResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM test_results WHERE user_id = $1 ORDER BY completed_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectResults(rows)
}

// ListByTest returns every result of a test, best score first.
func (r *ResultRepository) ListByTest(ctx context.Context, testID int) ([]model.TestResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM test_results WHERE test_id = $1 ORDER BY percentage DESC, completed_at`, testID)
	if err != nil {
		return nil, err
	}
	return collectResults(rows)
}

// Statistics aggregates attempts and results of a test.
func (r *ResultRepository) Statistics(ctx context.Context, testID int) (*model.TestStatistics, error) {
	st := &model.TestStatistics{TestID: testID}
	err := r.pool.QueryRow(ctx,
		`SELECT
		     (SELECT COUNT(*) FROM test_sessions WHERE test_id = $1),
		     COUNT(*),
		     COUNT(*) FILTER (WHERE is_passed),
		     COALESCE(AVG(percentage), 0),
		     COALESCE(MAX(percentage), 0),
		     COALESCE(MIN(percentage), 0),
		     COALESCE(AVG(time_taken_seconds), 0)::int
		 FROM test_results
		 WHERE test_id = $1`, testID,
	).Scan(&st.TotalAttempts, &st.CompletedAttempts, &st.PassedAttempts,
		&st.AverageScore, &st.HighestScore, &st.LowestScore, &st.AverageTimeTakenSeconds)
	if err != nil {
		return nil, err
	}
	return st, nil
}
