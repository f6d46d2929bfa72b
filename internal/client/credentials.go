package client

import (
	"sync"

	"github.com/stemsi/exstem-cbt/internal/model"
)

// Credentials holds the bearer token and profile of the logged-in user. It
// is set on login and cleared on logout or on any 401 from the server.
type Credentials struct {
	mu    sync.RWMutex
	token string
	user  *model.User
}

// NewCredentials returns an empty credential holder.
func NewCredentials() *Credentials {
	return &Credentials{}
}

// Set stores a fresh login.
func (c *Credentials) Set(token string, user *model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.user = user
}

// Token returns the bearer token, or "" when logged out.
func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// User returns the logged-in user, or nil.
func (c *Credentials) User() *model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Valid reports whether a token is held.
func (c *Credentials) Valid() bool {
	return c.Token() != ""
}

// Clear forgets the login.
func (c *Credentials) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.user = nil
}
