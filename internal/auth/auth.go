// Package auth checks login credentials for the in-process peer server.
//
// It holds no storage; callers supply the user table.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/danmuck/groupwire/internal/protocol/field"
)

var (
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrCredentialsMissing = errors.New("auth: credentials missing")
)

// Credentials are the identity and secret presented by a login request.
type Credentials struct {
	UserID   string
	Password string
}

// Validator validates login credentials.
type Validator interface {
	Validate(c Credentials) error
}

// StaticUsers validates against a fixed user id to password table. User ids
// compare ignoring ASCII case; passwords compare in constant time.
type StaticUsers map[string]string

func (s StaticUsers) Validate(c Credentials) error {
	if strings.TrimSpace(c.UserID) == "" || c.Password == "" {
		return ErrCredentialsMissing
	}
	var stored string
	found := false
	for id, pw := range s {
		if field.EqualFoldASCII(id, c.UserID) {
			stored, found = pw, true
			break
		}
	}
	if !found || stored == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(c.Password)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(c Credentials) error

func (f FuncValidator) Validate(c Credentials) error {
	return f(c)
}
