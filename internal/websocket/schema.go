package websocket

import "github.com/stemsi/exstem-cbt/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionProgress Action = "progress"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// Request is one client message. Fields beyond Action depend on the action.
type Request struct {
	Action Action `json:"action"`
	// Seq is echoed back so the client can pair replies with requests.
	Seq              int64   `json:"seq,omitempty"`
	QuestionID       int     `json:"question_id,omitempty"`
	AnswerText       *string `json:"answer_text,omitempty"`
	SelectedOptionID *int    `json:"selected_option_id,omitempty"`
	QuestionIndex    *int    `json:"question_index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSaved     Event = "saved"
	EventProgress  Event = "progress_saved"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
	EventError     Event = "error"
)

// SavedResponse acknowledges an autosave with the stored answer.
type SavedResponse struct {
	Event  Event            `json:"event"`
	Seq    int64            `json:"seq,omitempty"`
	Answer model.UserAnswer `json:"answer"`
}

// AckResponse acknowledges a progress update or a ping.
type AckResponse struct {
	Event Event `json:"event"`
	Seq   int64 `json:"seq,omitempty"`
}

// SubmittedResponse reports the finalized session.
type SubmittedResponse struct {
	Event     Event               `json:"event"`
	Seq       int64               `json:"seq,omitempty"`
	SessionID int                 `json:"session_id"`
	Status    model.SessionStatus `json:"status"`
}

// ErrorResponse carries the same codes as the REST envelope.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Seq   int64  `json:"seq,omitempty"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
