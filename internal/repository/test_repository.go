package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// TestRepository handles test data access.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

const testColumns = `t.id, t.title, t.description, t.instructions, t.created_by, t.duration_minutes,
	t.total_marks, t.passing_marks, t.is_active, t.start_time, t.end_time,
	(SELECT COUNT(*) FROM questions q WHERE q.test_id = t.id), t.created_at, t.updated_at`

func scanTest(row pgx.Row) (*model.Test, error) {
	t := &model.Test{}
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Instructions, &t.CreatedBy, &t.DurationMinutes,
		&t.TotalMarks, &t.PassingMarks, &t.IsActive, &t.StartTime, &t.EndTime,
		&t.QuestionCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func collectTests(rows pgx.Rows) ([]model.Test, error) {
	defer rows.Close()

	tests := []model.Test{}
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, *t)
	}
	return tests, rows.Err()
}

// GetByID retrieves a test by ID.
func (r *TestRepository) GetByID(ctx context.Context, id int) (*model.Test, error) {
	return scanTest(r.pool.QueryRow(ctx,
		`SELECT `+testColumns+` FROM tests t WHERE t.id = $1`, id))
}

// ListAvailable returns active tests whose window contains now.
func (r *TestRepository) ListAvailable(ctx context.Context, now time.Time) ([]model.Test, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+testColumns+`
		 FROM tests t
		 WHERE t.is_active
		   AND (t.start_time IS NULL OR t.start_time <= $1)
		   AND (t.end_time IS NULL OR t.end_time >= $1)
		 ORDER BY t.created_at DESC`, now)
	if err != nil {
		return nil, err
	}
	return collectTests(rows)
}

// ListByCreator returns tests authored by createdBy. Pass 0 to list all tests.
func (r *TestRepository) ListByCreator(ctx context.Context, createdBy int) ([]model.Test, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+testColumns+`
		 FROM tests t
		 WHERE $1 = 0 OR t.created_by = $1
		 ORDER BY t.created_at DESC`, createdBy)
	if err != nil {
		return nil, err
	}
	return collectTests(rows)
}

// Create inserts a new test. Tests start inactive.
func (r *TestRepository) Create(ctx context.Context, t *model.Test) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO tests (title, description, instructions, created_by, duration_minutes,
		                    total_marks, passing_marks, is_active, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9)
		 RETURNING id, is_active, created_at, updated_at`,
		t.Title, t.Description, t.Instructions, t.CreatedBy, t.DurationMinutes,
		t.TotalMarks, t.PassingMarks, t.StartTime, t.EndTime,
	).Scan(&t.ID, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
}

// Update writes the editable fields of t.
func (r *TestRepository) Update(ctx context.Context, t *model.Test) error {
	return r.pool.QueryRow(ctx,
		`UPDATE tests
		 SET title = $1, description = $2, instructions = $3, duration_minutes = $4,
		     total_marks = $5, passing_marks = $6, start_time = $7, end_time = $8, updated_at = NOW()
		 WHERE id = $9
		 RETURNING updated_at`,
		t.Title, t.Description, t.Instructions, t.DurationMinutes,
		t.TotalMarks, t.PassingMarks, t.StartTime, t.EndTime, t.ID,
	).Scan(&t.UpdatedAt)
}

// SetActive toggles whether a test may be started.
func (r *TestRepository) SetActive(ctx context.Context, id int, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tests SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// HasSessions reports whether any attempt exists for the test.
func (r *TestRepository) HasSessions(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM test_sessions WHERE test_id = $1)`, id,
	).Scan(&exists)
	return exists, err
}

// Delete removes a test and, through cascading keys, its questions. Returns
// pgx.ErrNoRows when the test does not exist.
func (r *TestRepository) Delete(ctx context.Context, id int) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tests WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
