package session

import (
	"sync"

	"github.com/stemsi/exstem-cbt/internal/model"
)

// AnswerCache maps question IDs to the last answer the server acknowledged
// for the running session. Optimistic local edits never go in here, so a
// failed save can never show a question as answered.
type AnswerCache struct {
	mu      sync.RWMutex
	answers map[int]model.UserAnswer
}

// NewAnswerCache returns an empty cache.
func NewAnswerCache() *AnswerCache {
	return &AnswerCache{answers: make(map[int]model.UserAnswer)}
}

// Record stores answer for questionID, replacing any earlier entry.
func (c *AnswerCache) Record(questionID int, answer model.UserAnswer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers[questionID] = answer
}

// Get returns the cached answer for questionID and whether one exists.
func (c *AnswerCache) Get(questionID int) (model.UserAnswer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.answers[questionID]
	return a, ok
}

// Answered reports whether questionID has an acknowledged answer with
// content. An explicitly empty text answer is cached but not answered.
func (c *AnswerCache) Answered(questionID int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.answers[questionID]
	return ok && a.HasContent()
}

// Len returns the number of cached entries, answered or not.
func (c *AnswerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.answers)
}

// AnsweredCount returns how many cached entries count as answered.
func (c *AnswerCache) AnsweredCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, a := range c.answers {
		if a.HasContent() {
			n++
		}
	}
	return n
}

// Reset drops every entry.
func (c *AnswerCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.answers)
}
