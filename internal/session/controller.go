package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"golang.org/x/sync/errgroup"
)

// Store is the remote Session Store the controller drives. Every method is a
// network call; token is the session's bearer secret.
type Store interface {
	GetTest(ctx context.Context, testID int) (*model.Test, error)
	GetQuestions(ctx context.Context, testID int) ([]model.QuestionForStudent, error)
	StartSession(ctx context.Context, testID int) (*model.SessionState, error)
	ListAnswers(ctx context.Context, token string) ([]model.UserAnswer, error)
	SubmitAnswer(ctx context.Context, token string, req model.SubmitAnswerRequest) (*model.UserAnswer, error)
	UpdateProgress(ctx context.Context, token string, index int) error
	SubmitSession(ctx context.Context, token string) (*model.TestSession, error)
	GetResultBySession(ctx context.Context, sessionID int) (*model.TestResult, error)
}

// State is the controller's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateActive
	StateSubmitting
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateSubmitting:
		return "submitting"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options tunes submit retries and the tick source.
type Options struct {
	// SubmitTimeout bounds each submit attempt.
	SubmitTimeout time.Duration
	// SubmitRetries is the number of attempts after the first one.
	SubmitRetries int
	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration
	// NewTicker returns the countdown's tick source and a stop function.
	// Defaults to a one-second time.Ticker.
	NewTicker func() (<-chan time.Time, func())
	Logger    zerolog.Logger
}

// OptionsFromConfig builds Options from the client configuration.
func OptionsFromConfig(cfg *config.ClientConfig, log zerolog.Logger) Options {
	return Options{
		SubmitTimeout: cfg.SubmitTimeout,
		SubmitRetries: cfg.SubmitRetries,
		RetryBackoff:  cfg.RetryBackoff,
		Logger:        log,
	}
}

const defaultSubmitTimeout = 5 * time.Second

func secondTicker() (<-chan time.Time, func()) {
	t := time.NewTicker(time.Second)
	return t.C, t.Stop
}

// editing is the unsaved input for the current question.
type editing struct {
	optionID *int
	text     string
}

// Controller runs one test-taking session: it loads the test, starts or
// resumes the session, autosaves on every navigation step and submits either
// on request or when the countdown reaches zero.
//
// Operations that talk to the store are serialised, so an autosave always
// completes before the next navigation starts.
type Controller struct {
	store  Store
	testID int
	opts   Options
	log    zerolog.Logger

	// op serialises store-facing operations.
	op sync.Mutex

	mu        sync.Mutex
	state     State
	test      *model.Test
	questions []model.QuestionForStudent
	session   *model.TestSession
	token     string
	index     int
	edit      editing
	cache     *AnswerCache
	timer     *Countdown
	stopTimer context.CancelFunc
	runCtx    context.Context
	cancelRun context.CancelFunc
	result    *model.TestResult
	lastErr   error
	closed    bool
	terminal  chan struct{}
	expired   chan struct{}
}

// NewController returns an idle controller for testID.
func NewController(store Store, testID int, opts Options) *Controller {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}
	if opts.SubmitRetries < 0 {
		opts.SubmitRetries = 0
	}
	if opts.NewTicker == nil {
		opts.NewTicker = secondTicker
	}
	return &Controller{
		store:    store,
		testID:   testID,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "session_controller").Int("test_id", testID).Logger(),
		cache:    NewAnswerCache(),
		terminal: make(chan struct{}),
		expired:  make(chan struct{}),
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────────

// Load fetches the test and its questions concurrently. A failure is
// returned as *LoadError and leaves the controller without a test.
func (c *Controller) Load(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	closed, state := c.closed, c.state
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if state != StateIdle {
		return ErrAlreadyStarted
	}

	var (
		test      *model.Test
		questions []model.QuestionForStudent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		test, err = c.store.GetTest(gctx, c.testID)
		return err
	})
	g.Go(func() error {
		var err error
		questions, err = c.store.GetQuestions(gctx, c.testID)
		return err
	})
	if err := g.Wait(); err != nil {
		c.setErr(&LoadError{Err: err})
		return &LoadError{Err: err}
	}
	if len(questions) == 0 {
		c.setErr(&LoadError{Err: ErrNoQuestions})
		return &LoadError{Err: ErrNoQuestions}
	}
	slices.SortStableFunc(questions, func(a, b model.QuestionForStudent) int {
		return cmp.Compare(a.OrderIndex, b.OrderIndex)
	})

	c.mu.Lock()
	c.test = test
	c.questions = questions
	c.lastErr = nil
	c.mu.Unlock()

	c.log.Debug().Int("questions", len(questions)).Msg("Test loaded")
	return nil
}

// Start creates or resumes the session and starts the countdown from the
// server's remaining time. On resume the navigator lands on the stored
// question index and the answer cache is seeded from the server.
func (c *Controller) Start(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.test == nil:
		c.mu.Unlock()
		return ErrNotLoaded
	case c.state == StateTerminal:
		c.mu.Unlock()
		return ErrSessionTerminal
	case c.state != StateIdle:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.mu.Unlock()

	st, err := c.store.StartSession(ctx, c.testID)
	if err != nil {
		c.setErr(&StartError{Err: err})
		return &StartError{Err: err}
	}
	if st.Status != model.SessionStatusInProgress || st.RemainingTimeSeconds <= 0 {
		err := &StartError{Err: fmt.Errorf("%w: status %s", model.ErrSessionNotActive, st.Status)}
		c.setErr(err)
		return err
	}

	answers, err := c.store.ListAnswers(ctx, st.SessionToken)
	if err != nil {
		// Questions stay unanswered locally; the server copy is unaffected.
		c.log.Warn().Err(err).Int("session_id", st.ID).Msg("Could not load saved answers")
	}

	c.mu.Lock()
	known := make(map[int]struct{}, len(c.questions))
	for _, q := range c.questions {
		known[q.ID] = struct{}{}
	}
	for _, a := range answers {
		if _, ok := known[a.QuestionID]; ok {
			c.cache.Record(a.QuestionID, a)
		}
	}

	session := st.TestSession
	c.session = &session
	c.token = st.SessionToken
	c.index = min(max(st.CurrentQuestionIndex, 0), len(c.questions)-1)
	c.loadEditingLocked()
	c.timer = NewCountdown(st.RemainingTimeSeconds)
	c.runCtx, c.cancelRun = context.WithCancel(context.Background())
	timerCtx, stopTimer := context.WithCancel(c.runCtx)
	c.stopTimer = stopTimer
	c.state = StateActive
	c.lastErr = nil
	timer := c.timer
	c.mu.Unlock()

	ticks, stopTicks := c.opts.NewTicker()
	go func() {
		defer stopTicks()
		timer.Run(timerCtx, ticks)
	}()
	go c.watchExpiry(timerCtx, timer)

	c.log.Info().
		Int("session_id", session.ID).
		Int("remaining_seconds", st.RemainingTimeSeconds).
		Int("question_index", c.CurrentIndex()).
		Int("cached_answers", c.cache.Len()).
		Msg("Session active")
	return nil
}

// Terminal is closed once the session has been submitted or has ended on
// the server and the result fetch has been attempted.
func (c *Controller) Terminal() <-chan struct{} {
	return c.terminal
}

// Expired is closed once the countdown has reached zero and the automatic
// submit has run, whatever its outcome. A failed auto-submit leaves a
// *SubmitError in Snapshot().Err.
func (c *Controller) Expired() <-chan struct{} {
	return c.expired
}

// Close stops the countdown, cancels a pending auto-submit and forgets the
// session token and cached answers. Every later call returns ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.token = ""
	if c.session != nil {
		c.session.SessionToken = ""
	}
	c.cache.Reset()
}

// ─── Input ─────────────────────────────────────────────────────────────

// Select sets the selected option of the current choice question.
func (c *Controller) Select(optionID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.inputErrLocked(); err != nil {
		return err
	}
	q := &c.questions[c.index]
	if !q.QuestionType.HasOptions() {
		return ErrWrongQuestionType
	}
	if !q.HasOption(optionID) {
		return ErrUnknownOption
	}
	c.edit.optionID = &optionID
	return nil
}

// SetText sets the answer text of the current short-answer question. An
// empty string is a valid answer and is saved as such.
func (c *Controller) SetText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.inputErrLocked(); err != nil {
		return err
	}
	if c.questions[c.index].QuestionType != model.QuestionTypeShortAnswer {
		return ErrWrongQuestionType
	}
	c.edit.text = text
	return nil
}

// ─── Navigation ────────────────────────────────────────────────────────

// Next autosaves the current question and moves to the following one.
func (c *Controller) Next(ctx context.Context) error {
	return c.navigate(ctx, func(i, n int) (int, error) {
		if i >= n-1 {
			return 0, ErrOutOfRange
		}
		return i + 1, nil
	})
}

// Previous autosaves the current question and moves to the one before it.
func (c *Controller) Previous(ctx context.Context) error {
	return c.navigate(ctx, func(i, _ int) (int, error) {
		if i <= 0 {
			return 0, ErrOutOfRange
		}
		return i - 1, nil
	})
}

// Jump autosaves the current question and moves to index, regardless of
// which questions in between are answered.
func (c *Controller) Jump(ctx context.Context, index int) error {
	return c.navigate(ctx, func(_, n int) (int, error) {
		if index < 0 || index >= n {
			return 0, ErrOutOfRange
		}
		return index, nil
	})
}

// navigate runs autosave, then the progress update, then the index change,
// in that order. Autosave and progress failures are returned after the move
// has happened; a session that ended on the server stops everything.
func (c *Controller) navigate(ctx context.Context, target func(index, total int) (int, error)) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if err := c.inputErrLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	to, err := target(c.index, len(c.questions))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	req := c.payloadLocked()
	token := c.token
	c.mu.Unlock()

	saveErr := c.autosave(ctx, token, req)
	if errors.Is(saveErr, model.ErrSessionNotActive) {
		c.ended(ctx, saveErr)
		return fmt.Errorf("%w: %w", ErrSessionTerminal, saveErr)
	}

	var progErr error
	if err := c.store.UpdateProgress(ctx, token, to); err != nil {
		if errors.Is(err, model.ErrSessionNotActive) {
			c.ended(ctx, err)
			return fmt.Errorf("%w: %w", ErrSessionTerminal, err)
		}
		c.log.Warn().Err(err).Int("question_index", to).Msg("Progress update failed")
		progErr = &ProgressError{Index: to, Err: err}
	}

	c.mu.Lock()
	c.index = to
	c.loadEditingLocked()
	c.lastErr = errors.Join(saveErr, progErr)
	c.mu.Unlock()

	return errors.Join(saveErr, progErr)
}

// ─── Submit ────────────────────────────────────────────────────────────

// Submit saves the current question and submits the session, retrying with
// backoff. When every attempt fails the controller returns to the active
// state with a *SubmitError so the caller can try again.
func (c *Controller) Submit(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.submitLocked(ctx)
}

func (c *Controller) watchExpiry(ctx context.Context, timer *Countdown) {
	select {
	case <-ctx.Done():
	case <-timer.Expired():
		c.autoSubmit()
		close(c.expired)
	}
}

func (c *Controller) autoSubmit() {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	ctx := c.runCtx
	active := c.state == StateActive
	c.mu.Unlock()
	if !active || ctx.Err() != nil {
		return
	}

	c.log.Info().Msg("Time expired, submitting")
	if err := c.submitLocked(ctx); err != nil {
		c.log.Error().Err(err).Msg("Auto-submit failed")
	}
}

func (c *Controller) submitLocked(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateTerminal:
		c.mu.Unlock()
		return ErrSessionTerminal
	case StateActive:
	default:
		c.mu.Unlock()
		return ErrNotActive
	}
	c.state = StateSubmitting
	req := c.payloadLocked()
	token := c.token
	c.mu.Unlock()

	// The store decides whether a late answer still counts; submit goes ahead
	// either way.
	if err := c.autosave(ctx, token, req); err != nil {
		c.log.Warn().Err(err).Msg("Final autosave failed")
	}

	session, attempts, err := c.submitWithRetry(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotActive) {
			c.ended(ctx, err)
			return fmt.Errorf("%w: %w", ErrSessionTerminal, err)
		}
		subErr := &SubmitError{Attempts: attempts, Err: err}
		c.mu.Lock()
		c.state = StateActive
		c.lastErr = subErr
		c.mu.Unlock()
		return subErr
	}

	c.finish(ctx, session, nil)
	return nil
}

// submitWithRetry makes up to 1+SubmitRetries attempts, each bounded by
// SubmitTimeout. Errors that no retry can fix end the loop at once.
func (c *Controller) submitWithRetry(ctx context.Context, token string) (*model.TestSession, int, error) {
	attempts := 0
	session, err := backoff.Retry(ctx, func() (*model.TestSession, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
		defer cancel()
		session, err := c.store.SubmitSession(actx, token)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return session, err
	},
		backoff.WithBackOff(&linearBackOff{step: c.opts.RetryBackoff}),
		backoff.WithMaxTries(uint(1+c.opts.SubmitRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", next).Msg("Submit attempt failed")
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return session, attempts, err
}

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.step * time.Duration(b.n)
}

func (b *linearBackOff) Reset() { b.n = 0 }

func retryable(err error) bool {
	return !errors.Is(err, model.ErrSessionNotActive) &&
		!errors.Is(err, model.ErrUnauthorized) &&
		!errors.Is(err, model.ErrNotFound)
}

// ended handles a store reply that the session no longer accepts writes.
func (c *Controller) ended(ctx context.Context, cause error) {
	c.log.Warn().Err(cause).Msg("Session ended on the server")
	c.finish(ctx, nil, cause)
}

// finish moves to the terminal state and fetches the result. session is the
// submit response, or nil when the server ended the session first.
func (c *Controller) finish(ctx context.Context, session *model.TestSession, cause error) {
	c.mu.Lock()
	if c.state == StateTerminal {
		c.mu.Unlock()
		return
	}
	c.state = StateTerminal
	c.token = ""
	if session != nil {
		session.SessionToken = ""
		c.session = session
	} else if c.session != nil {
		c.session.SessionToken = ""
	}
	c.lastErr = cause
	if c.stopTimer != nil {
		c.stopTimer()
	}
	sessionID := c.session.ID
	c.mu.Unlock()
	defer close(c.terminal)

	if session != nil {
		c.log.Info().Int("session_id", sessionID).Str("status", string(session.Status)).Msg("Session submitted")
	}
	if err := c.FetchResult(ctx); err != nil {
		c.log.Warn().Err(err).Int("session_id", sessionID).Msg("Result not available yet")
	}
}

// FetchResult loads the result of a terminal session. It can be called
// again if the first fetch failed.
func (c *Controller) FetchResult(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateTerminal || c.session == nil {
		c.mu.Unlock()
		return ErrNotActive
	}
	sessionID := c.session.ID
	c.mu.Unlock()

	res, err := c.store.GetResultBySession(ctx, sessionID)
	if err != nil {
		err = fmt.Errorf("fetch result: %w", err)
		c.setErr(err)
		return err
	}

	c.mu.Lock()
	c.result = res
	c.mu.Unlock()
	return nil
}

// ─── Helpers ───────────────────────────────────────────────────────────

// autosave sends req and records the acknowledged answer. Only the answer
// returned by the store enters the cache.
func (c *Controller) autosave(ctx context.Context, token string, req model.SubmitAnswerRequest) error {
	answer, err := c.store.SubmitAnswer(ctx, token, req)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotActive) {
			return err
		}
		c.log.Warn().Err(err).Int("question_id", req.QuestionID).Msg("Autosave failed")
		return &AutosaveError{QuestionID: req.QuestionID, Err: err}
	}
	c.cache.Record(req.QuestionID, *answer)
	return nil
}

// payloadLocked builds the autosave request for the current question. Choice
// questions carry an option only when one is selected; short answers always
// carry their text.
func (c *Controller) payloadLocked() model.SubmitAnswerRequest {
	q := c.questions[c.index]
	req := model.SubmitAnswerRequest{QuestionID: q.ID}
	if q.QuestionType.HasOptions() {
		if c.edit.optionID != nil {
			id := *c.edit.optionID
			req.SelectedOptionID = &id
		}
		return req
	}
	text := c.edit.text
	req.AnswerText = &text
	return req
}

// loadEditingLocked resets the editing state to the cached answer of the
// current question.
func (c *Controller) loadEditingLocked() {
	c.edit = editing{}
	a, ok := c.cache.Get(c.questions[c.index].ID)
	if !ok {
		return
	}
	if a.SelectedOptionID != nil {
		id := *a.SelectedOptionID
		c.edit.optionID = &id
	}
	if a.AnswerText != nil {
		c.edit.text = *a.AnswerText
	}
}

func (c *Controller) inputErrLocked() error {
	if c.closed {
		return ErrClosed
	}
	switch c.state {
	case StateTerminal:
		return ErrSessionTerminal
	case StateActive:
		if c.timer.IsExpired() {
			return ErrTimeExpired
		}
		return nil
	default:
		return ErrNotActive
	}
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// ─── Read side ─────────────────────────────────────────────────────────

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentIndex returns the index of the displayed question.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Result returns the fetched result, or nil.
func (c *Controller) Result() *model.TestResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Snapshot is a consistent view of the controller for rendering.
type Snapshot struct {
	State            State
	Test             *model.Test
	SessionID        int
	Index            int
	Total            int
	Question         *model.QuestionForStudent
	SelectedOptionID *int
	Text             string
	RemainingSeconds int
	Answered         []bool
	AnsweredCount    int
	Result           *model.TestResult
	Err              error
}

// Snapshot returns the current view. Slices and pointers are copies.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:  c.state,
		Test:   c.test,
		Index:  c.index,
		Total:  len(c.questions),
		Text:   c.edit.text,
		Result: c.result,
		Err:    c.lastErr,
	}
	if c.session != nil {
		s.SessionID = c.session.ID
	}
	if c.timer != nil {
		s.RemainingSeconds = c.timer.Remaining()
	}
	if c.edit.optionID != nil {
		id := *c.edit.optionID
		s.SelectedOptionID = &id
	}
	if len(c.questions) > 0 {
		q := c.questions[c.index]
		s.Question = &q
	}
	s.Answered = make([]bool, len(c.questions))
	for i, q := range c.questions {
		if c.cache.Answered(q.ID) {
			s.Answered[i] = true
			s.AnsweredCount++
		}
	}
	return s
}
