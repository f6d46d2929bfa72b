package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// QuestionRepository handles question, option and accepted-answer data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByTest retrieves every question of a test with options and accepted
// answers, ordered by order_index.
func (r *QuestionRepository) ListByTest(ctx context.Context, testID int) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, question_text, question_type, marks, order_index
		 FROM questions WHERE test_id = $1
		 ORDER BY order_index, id`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	index := make(map[int]int)
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TestID, &q.QuestionText, &q.QuestionType, &q.Marks, &q.OrderIndex); err != nil {
			return nil, err
		}
		index[q.ID] = len(questions)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return questions, nil
	}

	optRows, err := r.pool.Query(ctx,
		`SELECT o.id, o.question_id, o.option_text, o.is_correct, o.order_index
		 FROM question_options o JOIN questions q ON q.id = o.question_id
		 WHERE q.test_id = $1
		 ORDER BY o.question_id, o.order_index, o.id`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer optRows.Close()
	for optRows.Next() {
		var o model.QuestionOption
		if err := optRows.Scan(&o.ID, &o.QuestionID, &o.OptionText, &o.IsCorrect, &o.OrderIndex); err != nil {
			return nil, err
		}
		if i, ok := index[o.QuestionID]; ok {
			questions[i].Options = append(questions[i].Options, o)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, err
	}

	ansRows, err := r.pool.Query(ctx,
		`SELECT a.id, a.question_id, a.answer_text, a.case_sensitive
		 FROM correct_answers a JOIN questions q ON q.id = a.question_id
		 WHERE q.test_id = $1
		 ORDER BY a.question_id, a.id`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("list accepted answers: %w", err)
	}
	defer ansRows.Close()
	for ansRows.Next() {
		var a model.AcceptedAnswer
		if err := ansRows.Scan(&a.ID, &a.QuestionID, &a.AnswerText, &a.CaseSensitive); err != nil {
			return nil, err
		}
		if i, ok := index[a.QuestionID]; ok {
			questions[i].AcceptedAnswers = append(questions[i].AcceptedAnswers, a)
		}
	}
	return questions, ansRows.Err()
}

// GetForTest retrieves one question of a test with options and accepted
// answers. Returns pgx.ErrNoRows when the question is not part of the test.
func (r *QuestionRepository) GetForTest(ctx context.Context, testID, questionID int) (*model.Question, error) {
	q := &model.Question{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, question_text, question_type, marks, order_index
		 FROM questions WHERE id = $1 AND test_id = $2`, questionID, testID,
	).Scan(&q.ID, &q.TestID, &q.QuestionText, &q.QuestionType, &q.Marks, &q.OrderIndex)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, question_id, option_text, is_correct, order_index
		 FROM question_options WHERE question_id = $1
		 ORDER BY order_index, id`, questionID)
	if err != nil {
		return nil, err
	}
	q.Options, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.QuestionOption, error) {
		var o model.QuestionOption
		err := row.Scan(&o.ID, &o.QuestionID, &o.OptionText, &o.IsCorrect, &o.OrderIndex)
		return o, err
	})
	if err != nil {
		return nil, err
	}

	rows, err = r.pool.Query(ctx,
		`SELECT id, question_id, answer_text, case_sensitive
		 FROM correct_answers WHERE question_id = $1 ORDER BY id`, questionID)
	if err != nil {
		return nil, err
	}
	q.AcceptedAnswers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AcceptedAnswer, error) {
		var a model.AcceptedAnswer
		err := row.Scan(&a.ID, &a.QuestionID, &a.AnswerText, &a.CaseSensitive)
		return a, err
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Create inserts a question together with its options and accepted answers
// in a single transaction.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx,
		`INSERT INTO questions (test_id, question_text, question_type, marks, order_index)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		q.TestID, q.QuestionText, q.QuestionType, q.Marks, q.OrderIndex,
	).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}

	for i := range q.Options {
		o := &q.Options[i]
		o.QuestionID = q.ID
		o.OrderIndex = i
		if err := tx.QueryRow(ctx,
			`INSERT INTO question_options (question_id, option_text, is_correct, order_index)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			o.QuestionID, o.OptionText, o.IsCorrect, o.OrderIndex,
		).Scan(&o.ID); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}

	for i := range q.AcceptedAnswers {
		a := &q.AcceptedAnswers[i]
		a.QuestionID = q.ID
		if err := tx.QueryRow(ctx,
			`INSERT INTO correct_answers (question_id, answer_text, case_sensitive)
			 VALUES ($1, $2, $3) RETURNING id`,
			a.QuestionID, a.AnswerText, a.CaseSensitive,
		).Scan(&a.ID); err != nil {
			return fmt.Errorf("insert accepted answer: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Update writes the text, marks and position of q.
func (r *QuestionRepository) Update(ctx context.Context, q *model.Question) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE questions SET question_text = $1, marks = $2, order_index = $3
		 WHERE id = $4 AND test_id = $5`,
		q.QuestionText, q.Marks, q.OrderIndex, q.ID, q.TestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes a question with its options and accepted answers.
func (r *QuestionRepository) Delete(ctx context.Context, testID, questionID int) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM questions WHERE id = $1 AND test_id = $2`, questionID, testID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// AddOption inserts o and sets its ID.
func (r *QuestionRepository) AddOption(ctx context.Context, o *model.QuestionOption) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO question_options (question_id, option_text, is_correct, order_index)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		o.QuestionID, o.OptionText, o.IsCorrect, o.OrderIndex,
	).Scan(&o.ID)
}

// UpdateOption replaces the fields of an option of o.QuestionID. exclusive
// also clears is_correct on the question's other options, in the same
// transaction.
func (r *QuestionRepository) UpdateOption(ctx context.Context, o *model.QuestionOption, exclusive bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE question_options SET option_text = $1, is_correct = $2, order_index = $3
		 WHERE id = $4 AND question_id = $5`,
		o.OptionText, o.IsCorrect, o.OrderIndex, o.ID, o.QuestionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	if exclusive {
		if _, err := tx.Exec(ctx,
			`UPDATE question_options SET is_correct = FALSE
			 WHERE question_id = $1 AND id <> $2`, o.QuestionID, o.ID); err != nil {
			return fmt.Errorf("clear other options: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// DeleteOption removes one option of a question.
func (r *QuestionRepository) DeleteOption(ctx context.Context, questionID, optionID int) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM question_options WHERE id = $1 AND question_id = $2`, optionID, questionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// AddAcceptedAnswer inserts a and sets its ID.
func (r *QuestionRepository) AddAcceptedAnswer(ctx context.Context, a *model.AcceptedAnswer) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO correct_answers (question_id, answer_text, case_sensitive)
		 VALUES ($1, $2, $3) RETURNING id`,
		a.QuestionID, a.AnswerText, a.CaseSensitive,
	).Scan(&a.ID)
}
