package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ─── Fake store ────────────────────────────────────────────────────────

type storeCall struct {
	op         string
	questionID int
	option     *int
	text       *string
	index      int
	// ctrlIndex is the controller's index when the call was made.
	ctrlIndex int
}

type fakeStore struct {
	mu sync.Mutex

	test        *model.Test
	questions   []model.QuestionForStudent
	loadErr     error
	start       *model.SessionState
	startErr    error
	saved       []model.UserAnswer
	listErr     error
	answerErr   error
	progressErr error
	submitErrs  []error
	resultErr   error

	ctrl   *Controller
	calls  []storeCall
	nextID int
}

func (f *fakeStore) record(c storeCall) {
	if f.ctrl != nil {
		c.ctrlIndex = f.ctrl.CurrentIndex()
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeStore) GetTest(context.Context, int) (*model.Test, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.test, nil
}

func (f *fakeStore) GetQuestions(context.Context, int) ([]model.QuestionForStudent, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]model.QuestionForStudent(nil), f.questions...), nil
}

func (f *fakeStore) StartSession(context.Context, int) (*model.SessionState, error) {
	f.record(storeCall{op: "start"})
	if f.startErr != nil {
		return nil, f.startErr
	}
	st := *f.start
	return &st, nil
}

func (f *fakeStore) ListAnswers(context.Context, string) ([]model.UserAnswer, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.saved, nil
}

func (f *fakeStore) SubmitAnswer(_ context.Context, token string, req model.SubmitAnswerRequest) (*model.UserAnswer, error) {
	f.record(storeCall{op: "answer", questionID: req.QuestionID, option: req.SelectedOptionID, text: req.AnswerText})
	if token != f.start.SessionToken {
		return nil, model.ErrUnauthorized
	}
	f.mu.Lock()
	err := f.answerErr
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.UserAnswer{
		ID:               id,
		SessionID:        f.start.ID,
		QuestionID:       req.QuestionID,
		AnswerText:       req.AnswerText,
		SelectedOptionID: req.SelectedOptionID,
		AnsweredAt:       time.Now(),
	}, nil
}

func (f *fakeStore) UpdateProgress(_ context.Context, _ string, index int) error {
	f.record(storeCall{op: "progress", index: index})
	return f.progressErr
}

func (f *fakeStore) SubmitSession(context.Context, string) (*model.TestSession, error) {
	f.record(storeCall{op: "submit"})
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return nil, err
	}
	s := f.start.TestSession
	s.Status = model.SessionStatusSubmitted
	now := time.Now()
	s.SubmittedAt = &now
	return &s, nil
}

func (f *fakeStore) GetResultBySession(_ context.Context, sessionID int) (*model.TestResult, error) {
	f.record(storeCall{op: "result"})
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	return &model.TestResult{SessionID: sessionID, TotalQuestions: len(f.questions), Grade: "A"}, nil
}

func (f *fakeStore) callsOf(op string) []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storeCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeStore) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op
	}
	return out
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ─── Fixtures ──────────────────────────────────────────────────────────

const sessionToken = "3f1c0b9a8e7d6c5b4a39281706f5e4d3c2b1a09f8e7d6c5b4a3928170615e4d3"

func newFakeStore(remaining, resumeIndex int) *fakeStore {
	return &fakeStore{
		test: &model.Test{ID: 1, Title: "Geography", DurationMinutes: 2, TotalMarks: 3, PassingMarks: 2},
		questions: []model.QuestionForStudent{
			{ID: 11, QuestionText: "Pick one", QuestionType: model.QuestionTypeMultipleChoice, Marks: 1, OrderIndex: 0,
				Options: []model.OptionForStudent{{ID: 101}, {ID: 102}, {ID: 103}}},
			{ID: 12, QuestionText: "Capital of France?", QuestionType: model.QuestionTypeShortAnswer, Marks: 1, OrderIndex: 1},
			{ID: 13, QuestionText: "True?", QuestionType: model.QuestionTypeTrueFalse, Marks: 1, OrderIndex: 2,
				Options: []model.OptionForStudent{{ID: 131}, {ID: 132}}},
		},
		start: &model.SessionState{
			TestSession: model.TestSession{
				ID:                   42,
				TestID:               1,
				UserID:               7,
				SessionToken:         sessionToken,
				Status:               model.SessionStatusInProgress,
				ExpiresAt:            time.Now().Add(time.Duration(remaining) * time.Second),
				CurrentQuestionIndex: resumeIndex,
			},
			RemainingTimeSeconds: remaining,
		},
	}
}

func newTestController(t *testing.T, fs *fakeStore) (*Controller, chan time.Time) {
	t.Helper()
	ticks := make(chan time.Time)
	c := NewController(fs, 1, Options{
		SubmitTimeout: time.Second,
		SubmitRetries: 2,
		NewTicker:     func() (<-chan time.Time, func()) { return ticks, func() {} },
		Logger:        zerolog.Nop(),
	})
	fs.ctrl = c
	t.Cleanup(c.Close)
	return c, ticks
}

func startedController(t *testing.T, fs *fakeStore) (*Controller, chan time.Time) {
	t.Helper()
	c, ticks := newTestController(t, fs)
	ctx := context.Background()
	if err := c.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c, ticks
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitTerminal(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Terminal():
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not reach terminal state")
	}
}

// ─── Scenarios ─────────────────────────────────────────────────────────

func TestControllerNormalCompletion(t *testing.T) {
	fs := newFakeStore(120, 0)
	c, _ := startedController(t, fs)
	ctx := context.Background()

	snap := c.Snapshot()
	if snap.State != StateActive || snap.RemainingSeconds != 120 || snap.Index != 0 {
		t.Fatalf("after start: state=%s remaining=%d index=%d", snap.State, snap.RemainingSeconds, snap.Index)
	}

	if err := c.Select(102); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := c.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	answers := fs.callsOf("answer")
	if len(answers) != 1 || answers[0].questionID != 11 || answers[0].option == nil || *answers[0].option != 102 {
		t.Fatalf("autosave for Q1 = %+v", answers)
	}
	if c.CurrentIndex() != 1 {
		t.Fatalf("index = %d, want 1", c.CurrentIndex())
	}

	if err := c.SetText("Paris"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	if err := c.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	answers = fs.callsOf("answer")
	if len(answers) != 2 || answers[1].text == nil || *answers[1].text != "Paris" {
		t.Fatalf("autosave for Q2 = %+v", answers)
	}
	if c.CurrentIndex() != 2 {
		t.Fatalf("index = %d, want 2", c.CurrentIndex())
	}

	if err := c.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n := len(fs.callsOf("submit")); n != 1 {
		t.Fatalf("submit calls = %d, want 1", n)
	}
	if c.State() != StateTerminal {
		t.Fatalf("state = %s, want terminal", c.State())
	}
	res := c.Result()
	if res == nil || res.SessionID != 42 {
		t.Fatalf("result = %+v", res)
	}

	progress := fs.callsOf("progress")
	if len(progress) != 2 || progress[0].index != 1 || progress[1].index != 2 {
		t.Fatalf("progress calls = %+v", progress)
	}
	snap = c.Snapshot()
	if snap.AnsweredCount != 2 || !snap.Answered[0] || !snap.Answered[1] || snap.Answered[2] {
		t.Fatalf("answered = %v", snap.Answered)
	}
}

func TestControllerAutosaveBeforeIndexChange(t *testing.T) {
	fs := newFakeStore(120, 0)
	c, _ := startedController(t, fs)
	ctx := context.Background()

	if err := c.Jump(ctx, 2); err != nil {
		t.Fatalf("Jump: %v", err)
	}
	if err := c.Previous(ctx); err != nil {
		t.Fatalf("Previous: %v", err)
	}

	got := fs.ops()
	want := []string{"start", "answer", "progress", "answer", "progress"}
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ops = %v, want %v", got, want)
		}
	}

	answers := fs.callsOf("answer")
	if answers[0].questionID != 11 || answers[0].ctrlIndex != 0 {
		t.Fatalf("first autosave = %+v, want Q1 while index is 0", answers[0])
	}
	if answers[1].questionID != 13 || answers[1].ctrlIndex != 2 {
		t.Fatalf("second autosave = %+v, want Q3 while index is 2", answers[1])
	}
	for _, p := range fs.callsOf("progress") {
		if p.ctrlIndex == p.index {
			t.Fatalf("index changed before progress update: %+v", p)
		}
	}
	if c.CurrentIndex() != 1 {
		t.Fatalf("index = %d, want 1", c.CurrentIndex())
	}
}

func TestControllerChoicePayloadOmitsMissingSelection(t *testing.T) {
	fs := newFakeStore(120, 0)
	c, _ := startedController(t, fs)

	if err := c.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	a := fs.callsOf("answer")[0]
	if a.option != nil || a.text != nil {
		t.Fatalf("unanswered choice payload = %+v, want no option and no text", a)
	}
	if c.Snapshot().Answered[0] {
		t.Fatal("question without selection must not count as answered")
	}
}

func TestControllerExpiryAutoSubmit(t *testing.T) {
	fs := newFakeStore(2, 0)
	c, ticks := startedController(t, fs)

	if err := c.Jump(context.Background(), 2); err != nil {
		t.Fatalf("Jump: %v", err)
	}
	if err := c.Select(131); err != nil {
		t.Fatalf("Select: %v", err)
	}
	before := len(fs.callsOf("answer"))

	ticks <- time.Now()
	ticks <- time.Now()
	waitTerminal(t, c)

	answers := fs.callsOf("answer")[before:]
	if len(answers) != 1 || answers[0].questionID != 13 || answers[0].option == nil || *answers[0].option != 131 {
		t.Fatalf("final autosave = %+v, want one autosave for Q3 with option 131", answers)
	}
	if n := len(fs.callsOf("submit")); n != 1 {
		t.Fatalf("submit calls = %d, want 1", n)
	}
	ops := fs.ops()
	if ops[len(ops)-3] != "answer" || ops[len(ops)-2] != "submit" {
		t.Fatalf("ops = %v, want final autosave then submit", ops)
	}

	if err := c.Select(132); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("Select after expiry = %v, want ErrSessionTerminal", err)
	}
	if err := c.Submit(context.Background()); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("Submit after terminal = %v, want ErrSessionTerminal", err)
	}
	if n := len(fs.callsOf("submit")); n != 1 {
		t.Fatalf("submit calls = %d, want exactly 1", n)
	}
	if c.Snapshot().RemainingSeconds != 0 {
		t.Fatal("remaining time should be 0")
	}
}

func TestControllerResume(t *testing.T) {
	fs := newFakeStore(90, 1)
	fs.saved = []model.UserAnswer{
		{ID: 1, SessionID: 42, QuestionID: 11, SelectedOptionID: intPtr(103)},
		{ID: 2, SessionID: 42, QuestionID: 12, AnswerText: strPtr("Rome")},
		{ID: 3, SessionID: 42, QuestionID: 99, AnswerText: strPtr("stale")},
	}
	c, _ := startedController(t, fs)

	snap := c.Snapshot()
	if snap.Index != 1 || snap.Question == nil || snap.Question.ID != 12 {
		t.Fatalf("resume landed on index %d, want 1 (Q2)", snap.Index)
	}
	if snap.Text != "Rome" {
		t.Fatalf("editing text = %q, want Rome", snap.Text)
	}
	if !snap.Answered[0] || !snap.Answered[1] || snap.Answered[2] {
		t.Fatalf("answered = %v", snap.Answered)
	}

	if err := c.Previous(context.Background()); err != nil {
		t.Fatalf("Previous: %v", err)
	}
	snap = c.Snapshot()
	if snap.SelectedOptionID == nil || *snap.SelectedOptionID != 103 {
		t.Fatalf("selected option = %v, want 103", snap.SelectedOptionID)
	}
}

func TestControllerResumeIndexClamped(t *testing.T) {
	fs := newFakeStore(90, 9)
	c, _ := startedController(t, fs)
	if c.CurrentIndex() != 2 {
		t.Fatalf("index = %d, want 2", c.CurrentIndex())
	}
}

func TestControllerResumeWithoutSavedAnswers(t *testing.T) {
	fs := newFakeStore(90, 1)
	fs.listErr = errors.New("network down")
	c, _ := startedController(t, fs)

	snap := c.Snapshot()
	if snap.State != StateActive || snap.AnsweredCount != 0 {
		t.Fatalf("state=%s answered=%d", snap.State, snap.AnsweredCount)
	}
}

// ─── Failures ──────────────────────────────────────────────────────────

func TestControllerAutosaveFailureIsNonFatal(t *testing.T) {
	fs := newFakeStore(120, 0)
	fs.answerErr = errors.New("connection reset")
	c, _ := startedController(t, fs)

	if err := c.Select(101); err != nil {
		t.Fatalf("Select: %v", err)
	}
	err := c.Next(context.Background())
	var saveErr *AutosaveError
	if !errors.As(err, &saveErr) || saveErr.QuestionID != 11 {
		t.Fatalf("Next = %v, want *AutosaveError for Q1", err)
	}
	if c.CurrentIndex() != 1 {
		t.Fatalf("index = %d, want 1", c.CurrentIndex())
	}
	snap := c.Snapshot()
	if snap.Answered[0] {
		t.Fatal("failed save must not mark the question answered")
	}
	if !errors.As(snap.Err, &saveErr) {
		t.Fatalf("snapshot error = %v", snap.Err)
	}
	if n := len(fs.callsOf("progress")); n != 1 {
		t.Fatalf("progress calls = %d, want 1", n)
	}
}

func TestControllerProgressFailureIsNonFatal(t *testing.T) {
	fs := newFakeStore(120, 0)
	fs.progressErr = errors.New("timeout")
	c, _ := startedController(t, fs)

	err := c.Next(context.Background())
	var progErr *ProgressError
	if !errors.As(err, &progErr) || progErr.Index != 1 {
		t.Fatalf("Next = %v, want *ProgressError", err)
	}
	if c.CurrentIndex() != 1 {
		t.Fatalf("index = %d, want 1", c.CurrentIndex())
	}
}

func TestControllerSessionEndedElsewhere(t *testing.T) {
	fs := newFakeStore(120, 0)
	fs.answerErr = model.ErrSessionNotActive
	c, _ := startedController(t, fs)

	err := c.Next(context.Background())
	if !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("Next = %v, want ErrSessionTerminal", err)
	}
	waitTerminal(t, c)
	if c.CurrentIndex() != 0 {
		t.Fatal("index must not change once the session ended")
	}
	if n := len(fs.callsOf("progress")); n != 0 {
		t.Fatalf("progress calls = %d, want 0", n)
	}

	calls := fs.callCount()
	if err := c.Jump(context.Background(), 2); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("Jump = %v, want ErrSessionTerminal", err)
	}
	if err := c.SetText("x"); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("SetText = %v, want ErrSessionTerminal", err)
	}
	if fs.callCount() != calls {
		t.Fatal("no store call may happen after the terminal state")
	}
}

func TestControllerSubmitRetries(t *testing.T) {
	fs := newFakeStore(120, 0)
	fs.submitErrs = []error{errors.New("502"), errors.New("502")}
	c, _ := startedController(t, fs)

	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n := len(fs.callsOf("submit")); n != 3 {
		t.Fatalf("submit calls = %d, want 3", n)
	}
	if n := len(fs.callsOf("answer")); n != 1 {
		t.Fatalf("final autosave calls = %d, want 1", n)
	}
	if c.State() != StateTerminal {
		t.Fatalf("state = %s", c.State())
	}
}

func TestControllerSubmitFailureReturnsToActive(t *testing.T) {
	fs := newFakeStore(120, 0)
	fs.submitErrs = []error{errors.New("502"), errors.New("502"), errors.New("502")}
	c, _ := startedController(t, fs)
	ctx := context.Background()

	err := c.Submit(ctx)
	var subErr *SubmitError
	if !errors.As(err, &subErr) || subErr.Attempts != 3 {
		t.Fatalf("Submit = %v, want *SubmitError after 3 attempts", err)
	}
	if c.State() != StateActive {
		t.Fatalf("state = %s, want active", c.State())
	}
	if err := c.Select(101); err != nil {
		t.Fatalf("input after failed submit: %v", err)
	}

	if err := c.Submit(ctx); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if c.State() != StateTerminal {
		t.Fatalf("state = %s, want terminal", c.State())
	}
}

func TestControllerSubmitNotRetriedWhenUnauthorized(t *testing.T) {
	fs := newFakeStore(120, 0)
	fs.submitErrs = []error{model.ErrUnauthorized}
	c, _ := startedController(t, fs)

	err := c.Submit(context.Background())
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("Submit = %v, want ErrUnauthorized", err)
	}
	if n := len(fs.callsOf("submit")); n != 1 {
		t.Fatalf("submit calls = %d, want 1", n)
	}
}

func TestControllerFailedAutoSubmitAllowsOnlySubmit(t *testing.T) {
	fs := newFakeStore(1, 0)
	fs.submitErrs = []error{errors.New("502"), errors.New("502"), errors.New("502")}
	c, ticks := startedController(t, fs)

	ticks <- time.Now()
	waitFor(t, "failed auto-submit", func() bool {
		var subErr *SubmitError
		return errors.As(c.Snapshot().Err, &subErr)
	})

	if c.State() != StateActive {
		t.Fatalf("state = %s, want active", c.State())
	}
	if err := c.Select(101); !errors.Is(err, ErrTimeExpired) {
		t.Fatalf("Select = %v, want ErrTimeExpired", err)
	}
	if err := c.Next(context.Background()); !errors.Is(err, ErrTimeExpired) {
		t.Fatalf("Next = %v, want ErrTimeExpired", err)
	}

	if err := c.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if c.State() != StateTerminal {
		t.Fatalf("state = %s, want terminal", c.State())
	}
	if n := len(fs.callsOf("submit")); n != 4 {
		t.Fatalf("submit calls = %d, want 4", n)
	}
}

func TestControllerResultFetchFailure(t *testing.T) {
	fs := newFakeStore(120, 0)
	fs.resultErr = errors.New("not ready")
	c, _ := startedController(t, fs)
	ctx := context.Background()

	if err := c.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if c.Result() != nil || c.Snapshot().Err == nil {
		t.Fatal("expected missing result with an error")
	}

	fs.resultErr = nil
	if err := c.FetchResult(ctx); err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	if c.Result() == nil {
		t.Fatal("result not stored")
	}
}

// ─── Empty short answers ───────────────────────────────────────────────

func TestControllerShortAnswerPayload(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantAnswered bool
	}{
		{name: "explicit empty answer is saved but unanswered", text: "", wantAnswered: false},
		{name: "text answer counts", text: "Paris", wantAnswered: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeStore(120, 1)
			c, _ := startedController(t, fs)

			if err := c.SetText(tt.text); err != nil {
				t.Fatalf("SetText: %v", err)
			}
			if err := c.Next(context.Background()); err != nil {
				t.Fatalf("Next: %v", err)
			}

			a := fs.callsOf("answer")[0]
			if a.text == nil || *a.text != tt.text {
				t.Fatalf("payload text = %v, want %q", a.text, tt.text)
			}
			if a.option != nil {
				t.Fatal("short answer must not carry an option")
			}
			snap := c.Snapshot()
			if snap.Answered[1] != tt.wantAnswered {
				t.Fatalf("answered = %v, want %v", snap.Answered[1], tt.wantAnswered)
			}
		})
	}
}

// ─── Preconditions ─────────────────────────────────────────────────────

func TestControllerNavigationBounds(t *testing.T) {
	fs := newFakeStore(120, 0)
	c, _ := startedController(t, fs)
	ctx := context.Background()
	calls := fs.callCount()

	if err := c.Previous(ctx); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Previous at first = %v", err)
	}
	if err := c.Jump(ctx, 3); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Jump(3) = %v", err)
	}
	if err := c.Jump(ctx, -1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Jump(-1) = %v", err)
	}
	if fs.callCount() != calls {
		t.Fatal("rejected navigation must not call the store")
	}

	if err := c.Jump(ctx, 2); err != nil {
		t.Fatalf("Jump(2): %v", err)
	}
	if err := c.Next(ctx); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Next at last = %v", err)
	}
}

func TestControllerInputValidation(t *testing.T) {
	fs := newFakeStore(120, 0)
	c, _ := newTestController(t, fs)
	ctx := context.Background()

	if err := c.Start(ctx); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Start before Load = %v", err)
	}
	if err := c.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Select(101); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Select before Start = %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v", err)
	}

	if err := c.Select(999); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("Select(999) = %v", err)
	}
	if err := c.SetText("x"); !errors.Is(err, ErrWrongQuestionType) {
		t.Fatalf("SetText on choice = %v", err)
	}
	if err := c.Jump(ctx, 1); err != nil {
		t.Fatalf("Jump: %v", err)
	}
	if err := c.Select(101); !errors.Is(err, ErrWrongQuestionType) {
		t.Fatalf("Select on short answer = %v", err)
	}
}

func TestControllerLoadErrors(t *testing.T) {
	t.Run("fetch failure", func(t *testing.T) {
		fs := newFakeStore(120, 0)
		fs.loadErr = model.ErrNotFound
		c, _ := newTestController(t, fs)

		err := c.Load(context.Background())
		var loadErr *LoadError
		if !errors.As(err, &loadErr) || !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("Load = %v", err)
		}
		if err := c.Start(context.Background()); !errors.Is(err, ErrNotLoaded) {
			t.Fatalf("Start after failed load = %v", err)
		}
		if n := len(fs.callsOf("start")); n != 0 {
			t.Fatal("no session may be created after a load error")
		}
	})

	t.Run("no questions", func(t *testing.T) {
		fs := newFakeStore(120, 0)
		fs.questions = nil
		c, _ := newTestController(t, fs)

		if err := c.Load(context.Background()); !errors.Is(err, ErrNoQuestions) {
			t.Fatalf("Load = %v", err)
		}
	})
}

func TestControllerStartErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(fs *fakeStore)
	}{
		{name: "store error", setup: func(fs *fakeStore) { fs.startErr = model.ErrTestNotAvailable }},
		{name: "terminal session", setup: func(fs *fakeStore) { fs.start.Status = model.SessionStatusSubmitted }},
		{name: "no time left", setup: func(fs *fakeStore) { fs.start.RemainingTimeSeconds = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeStore(120, 0)
			tt.setup(fs)
			c, _ := newTestController(t, fs)
			if err := c.Load(context.Background()); err != nil {
				t.Fatalf("Load: %v", err)
			}

			err := c.Start(context.Background())
			var startErr *StartError
			if !errors.As(err, &startErr) {
				t.Fatalf("Start = %v, want *StartError", err)
			}
			if c.State() != StateIdle {
				t.Fatalf("state = %s, want idle", c.State())
			}
			if n := len(fs.callsOf("answer")) + len(fs.callsOf("progress")); n != 0 {
				t.Fatal("no session call may follow a start error")
			}
		})
	}
}

func TestControllerCloseDropsToken(t *testing.T) {
	fs := newFakeStore(120, 0)
	c, _ := startedController(t, fs)
	ctx := context.Background()
	before := len(fs.ops())

	c.Close()
	if err := c.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Next after Close = %v, want ErrClosed", err)
	}
	if err := c.Submit(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Close = %v, want ErrClosed", err)
	}
	if err := c.Select(101); !errors.Is(err, ErrClosed) {
		t.Fatalf("Select after Close = %v, want ErrClosed", err)
	}
	if err := c.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close = %v, want ErrClosed", err)
	}
	if after := len(fs.ops()); after != before {
		t.Fatalf("store calls after Close: %v", fs.ops()[before:])
	}
}

func TestControllerSubmitBacksOffBetweenAttempts(t *testing.T) {
	fs := newFakeStore(120, 0)
	fs.submitErrs = []error{errors.New("502"), errors.New("502")}
	ticks := make(chan time.Time)
	c := NewController(fs, 1, Options{
		SubmitTimeout: time.Second,
		SubmitRetries: 2,
		RetryBackoff:  20 * time.Millisecond,
		NewTicker:     func() (<-chan time.Time, func()) { return ticks, func() {} },
		Logger:        zerolog.Nop(),
	})
	fs.ctrl = c
	t.Cleanup(c.Close)
	ctx := context.Background()
	if err := c.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	begin := time.Now()
	if err := c.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// 20ms after the first failure, 40ms after the second.
	if elapsed := time.Since(begin); elapsed < 60*time.Millisecond {
		t.Fatalf("Submit took %v, want at least 60ms of backoff", elapsed)
	}
	if n := len(fs.callsOf("submit")); n != 3 {
		t.Fatalf("submit calls = %d, want 3", n)
	}
}

func TestControllerSubmitBackoffStopsOnCancel(t *testing.T) {
	fs := newFakeStore(120, 0)
	fs.submitErrs = []error{errors.New("502")}
	ticks := make(chan time.Time)
	c := NewController(fs, 1, Options{
		SubmitTimeout: time.Second,
		SubmitRetries: 2,
		RetryBackoff:  time.Hour,
		NewTicker:     func() (<-chan time.Time, func()) { return ticks, func() {} },
		Logger:        zerolog.Nop(),
	})
	fs.ctrl = c
	t.Cleanup(c.Close)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Submit(ctx)
	var subErr *SubmitError
	if !errors.As(err, &subErr) || subErr.Attempts != 1 {
		t.Fatalf("Submit = %v, want *SubmitError after 1 attempt", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit = %v, want context.DeadlineExceeded", err)
	}
	if c.State() != StateActive {
		t.Fatalf("state = %s, want active", c.State())
	}
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: 10 * time.Millisecond}
	for i, want := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond} {
		if got := b.NextBackOff(); got != want {
			t.Fatalf("NextBackOff #%d = %v, want %v", i+1, got, want)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != 10*time.Millisecond {
		t.Fatalf("NextBackOff after Reset = %v", got)
	}
}

func TestControllerExpiredSignalsFailedAutoSubmit(t *testing.T) {
	fs := newFakeStore(1, 0)
	fs.submitErrs = []error{errors.New("502"), errors.New("502"), errors.New("502")}
	c, ticks := startedController(t, fs)

	select {
	case <-c.Expired():
		t.Fatal("Expired closed before the countdown ran out")
	default:
	}

	ticks <- time.Now()
	select {
	case <-c.Expired():
	case <-time.After(2 * time.Second):
		t.Fatal("Expired not closed after the auto-submit")
	}

	var subErr *SubmitError
	if snap := c.Snapshot(); !errors.As(snap.Err, &subErr) || snap.State != StateActive {
		t.Fatalf("snapshot = state %s, err %v; want active with *SubmitError", snap.State, snap.Err)
	}
	select {
	case <-c.Terminal():
		t.Fatal("Terminal closed after a failed auto-submit")
	default:
	}
}
