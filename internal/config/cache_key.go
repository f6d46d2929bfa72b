package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserLoginKey holds the JTI of the user's current login token.
func (r *CacheKeyStruct) UserLoginKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// TestQuestionsKey returns the cache key for a test's student-facing question payload
func (r *CacheKeyStruct) TestQuestionsKey(testID int) string {
	return fmt.Sprintf("test:%d:questions", testID)
}

// SessionAnsweredKey returns the set of answered question IDs for a session
func (r *CacheKeyStruct) SessionAnsweredKey(sessionID int) string {
	return fmt.Sprintf("session:%d:answered", sessionID)
}

// TestMonitorChannel returns the Redis PubSub channel name for a test monitor
func (r *CacheKeyStruct) TestMonitorChannel(testID int) string {
	return fmt.Sprintf("test:%d:monitor", testID)
}

var CacheKey = NewCacheKeyStruct()
