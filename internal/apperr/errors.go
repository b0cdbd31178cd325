package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuth       Kind = "auth"
	KindConnection Kind = "connection"
	KindRequest    Kind = "request"
	KindParse      Kind = "parse"
)

// Kind sentinels. errors.Is(err, ErrAuth) matches any *Error of that kind.
var (
	ErrAuth       = &Error{Kind: KindAuth}
	ErrConnection = &Error{Kind: KindConnection}
	ErrRequest    = &Error{Kind: KindRequest}
	ErrParse      = &Error{Kind: KindParse}
)

// Error is the client-side error taxonomy.
type Error struct {
	Kind    Kind
	Op      string
	Status  int    // HTTP status, zero when not applicable
	Message string // server or user-facing text
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind) + " error"
	}
	switch {
	case e.Op != "" && e.Status != 0:
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Op, msg, e.Status)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind-only sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Status == 0 && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

func Auth(op, msg string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Message: msg, Err: err}
}

func Connection(op string, err error) *Error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

func Request(op string, status int, msg string, err error) *Error {
	return &Error{Kind: KindRequest, Op: op, Status: status, Message: msg, Err: err}
}

func Parse(op string, err error) *Error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// Message returns the text a user should see for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		switch e.Kind {
		case KindAuth:
			return "Authentication failed"
		case KindConnection:
			return "Connection error"
		case KindParse:
			return "Malformed message"
		}
		return "Request failed"
	}
	return err.Error()
}

// StatusOf returns the HTTP status carried by err, or zero.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
