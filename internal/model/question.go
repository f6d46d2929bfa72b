package model

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
)

// IsValid reports whether qt is a known question type.
func (qt QuestionType) IsValid() bool {
	switch qt {
	case QuestionTypeMultipleChoice, QuestionTypeTrueFalse, QuestionTypeShortAnswer:
		return true
	default:
		return false
	}
}

// HasOptions reports whether answers are given by selecting an option.
func (qt QuestionType) HasOptions() bool {
	return qt == QuestionTypeMultipleChoice || qt == QuestionTypeTrueFalse
}

// Question is the full authoring view of a question, correctness included.
// It is only ever returned to teachers.
type Question struct {
	ID              int              `json:"id"`
	TestID          int              `json:"test_id"`
	QuestionText    string           `json:"question_text"`
	QuestionType    QuestionType     `json:"question_type"`
	Marks           int              `json:"marks"`
	OrderIndex      int              `json:"order_index"`
	Options         []QuestionOption `json:"options,omitempty"`
	AcceptedAnswers []AcceptedAnswer `json:"accepted_answers,omitempty"`
}

// QuestionOption is one selectable choice.
type QuestionOption struct {
	ID         int    `json:"id"`
	QuestionID int    `json:"question_id"`
	OptionText string `json:"option_text"`
	IsCorrect  bool   `json:"is_correct"`
	OrderIndex int    `json:"order_index"`
}

// AcceptedAnswer is a correct text for a short-answer question.
type AcceptedAnswer struct {
	ID            int    `json:"id"`
	QuestionID    int    `json:"question_id"`
	AnswerText    string `json:"answer_text"`
	CaseSensitive bool   `json:"case_sensitive"`
}

// QuestionForStudent is a question without any correctness data, sent to
// test takers during an active session.
type QuestionForStudent struct {
	ID           int                `json:"id"`
	QuestionText string             `json:"question_text"`
	QuestionType QuestionType       `json:"question_type"`
	Marks        int                `json:"marks"`
	OrderIndex   int                `json:"order_index"`
	Options      []OptionForStudent `json:"options,omitempty"`
}

// OptionForStudent is a choice stripped of its correctness flag.
type OptionForStudent struct {
	ID         int    `json:"id"`
	OptionText string `json:"option_text"`
	OrderIndex int    `json:"order_index"`
}

// ForStudent strips correctness from q.
func (q *Question) ForStudent() QuestionForStudent {
	out := QuestionForStudent{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		QuestionType: q.QuestionType,
		Marks:        q.Marks,
		OrderIndex:   q.OrderIndex,
	}
	if len(q.Options) > 0 {
		out.Options = make([]OptionForStudent, len(q.Options))
		for i, o := range q.Options {
			out.Options[i] = OptionForStudent{ID: o.ID, OptionText: o.OptionText, OrderIndex: o.OrderIndex}
		}
	}
	return out
}

// HasOption reports whether optionID belongs to q.
func (q *QuestionForStudent) HasOption(optionID int) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// AddOptionRequest is one option inside AddQuestionRequest.
type AddOptionRequest struct {
	OptionText string `json:"option_text" binding:"required,min=1,max=1000"`
	IsCorrect  bool   `json:"is_correct"`
}

// AddAcceptedAnswerRequest is one accepted short answer inside AddQuestionRequest.
type AddAcceptedAnswerRequest struct {
	AnswerText    string `json:"answer_text" binding:"required,min=1,max=1000"`
	CaseSensitive bool   `json:"case_sensitive"`
}

// AddQuestionRequest is the payload for adding a question to a test.
type AddQuestionRequest struct {
	QuestionText    string                     `json:"question_text" binding:"required,min=1,max=2000"`
	QuestionType    QuestionType               `json:"question_type" binding:"required,oneof=multiple_choice true_false short_answer"`
	Marks           int                        `json:"marks" binding:"required,min=1,max=100"`
	OrderIndex      int                        `json:"order_index" binding:"min=0"`
	Options         []AddOptionRequest         `json:"options" binding:"omitempty,max=10,dive"`
	AcceptedAnswers []AddAcceptedAnswerRequest `json:"accepted_answers" binding:"omitempty,max=20,dive"`
}

// UpdateQuestionRequest edits a question's text, marks or position. Zero
// values leave the field unchanged.
type UpdateQuestionRequest struct {
	QuestionText string `json:"question_text" binding:"omitempty,min=1,max=2000"`
	Marks        int    `json:"marks" binding:"omitempty,min=1,max=100"`
	OrderIndex   *int   `json:"order_index" binding:"omitempty,min=0"`
}

// OptionRequest adds or replaces one option of a choice question. A nil
// OrderIndex appends a new option and keeps the position of an edited one.
type OptionRequest struct {
	OptionText string `json:"option_text" binding:"required,min=1,max=1000"`
	IsCorrect  bool   `json:"is_correct"`
	OrderIndex *int   `json:"order_index" binding:"omitempty,min=0"`
}
