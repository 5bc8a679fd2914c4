// Package identity holds the signed in user on the client side.
package identity

import (
	"errors"
	"sync"
)

// User is the identity a session acts as.
type User struct {
	ID          string
	DisplayName string
}

var ErrSignedOut = errors.New("no user is signed in")

// Holder keeps the current user and their ID token.
// It is safe for concurrent use.
type Holder struct {
	lock  sync.RWMutex
	user  *User
	token string
}

func NewHolder() *Holder {
	return &Holder{}
}

// NewSignedInHolder returns a Holder already signed in as user.
func NewSignedInHolder(user User, token string) *Holder {
	h := NewHolder()
	h.SignIn(user, token)
	return h
}

func (h *Holder) SignIn(user User, token string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.user = &user
	h.token = token
}

func (h *Holder) SignOut() {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.user = nil
	h.token = ""
}

// CurrentUser returns a copy of the signed in user, or nil.
func (h *Holder) CurrentUser() *User {
	h.lock.RLock()
	defer h.lock.RUnlock()
	if h.user == nil {
		return nil
	}
	copy := *h.user
	return &copy
}

// Token returns the ID token of the signed in user.
func (h *Holder) Token() (string, error) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	if h.user == nil {
		return "", ErrSignedOut
	}
	return h.token, nil
}
