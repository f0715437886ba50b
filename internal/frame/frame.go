// ABOUTME: Text frame codec for the bot session protocol and the control bus.
// ABOUTME: Splits a line into verb and payload, and formats outbound frames.

package frame

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Verbs sent by the manager to a bot.
const (
	Mkdir      = "mkdir"
	Rmdir      = "rmdir"
	Update     = "update"
	Delete     = "delete"
	Reload     = "reload"
	Restart    = "restart"
	Start      = "start"
	Stop       = "stop"
	Regenerate = "regenerate"
	Kill       = "kill"
	Execute    = "execute"
	Status     = "status"
	Command    = "command"
	OK         = "OK"
	Error      = "ERROR"
	PullEnd    = "pullend"
)

// Verbs sent by a bot to the manager.
const (
	Login    = "login"
	Log      = "log"
	Running  = "running"
	Offline  = "offline"
	Starting = "starting"
	PullAll  = "pullall"
)

// ErrEmptyFrame is returned when a frame has no verb.
var ErrEmptyFrame = errors.New("empty frame")

// Frame is a single parsed protocol line.
type Frame struct {
	Verb    string
	Payload string
}

// Parse splits a raw line into its verb and payload at the first whitespace
// rune. Leading whitespace is ignored and a trailing CR/LF is stripped; the
// payload is otherwise kept verbatim.
func Parse(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	if line == "" {
		return Frame{}, ErrEmptyFrame
	}

	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return Frame{Verb: line}, nil
	}
	_, size := utf8.DecodeRuneInString(line[i:])
	return Frame{Verb: line[:i], Payload: line[i+size:]}, nil
}

// Fields tokenizes the payload on whitespace.
func (f Frame) Fields() []string {
	return strings.Fields(f.Payload)
}

// String renders the frame back into its wire form.
func (f Frame) String() string {
	if f.Payload == "" {
		return f.Verb
	}
	return f.Verb + " " + f.Payload
}

// New builds a frame from a verb and any number of arguments, joined by a
// single space. Empty arguments are preserved so that positional payloads
// keep their shape.
func New(verb string, args ...string) Frame {
	return Frame{Verb: verb, Payload: strings.Join(args, " ")}
}

// Format is shorthand for New(verb, args...).String().
func Format(verb string, args ...string) string {
	return New(verb, args...).String()
}

// LoginRequest is the decoded payload of a login frame.
type LoginRequest struct {
	UserID     string
	WorkerRef  string
	Credential string
}

// ErrMalformedLogin is returned when a login frame lacks its arguments.
var ErrMalformedLogin = errors.New("malformed login frame")

// ParseLogin decodes `login <userId> <workerUserId> <credential>`. The
// credential may be omitted by bots that predate credential checks.
func ParseLogin(f Frame) (LoginRequest, error) {
	if f.Verb != Login {
		return LoginRequest{}, ErrMalformedLogin
	}
	fields := f.Fields()
	if len(fields) < 2 {
		return LoginRequest{}, ErrMalformedLogin
	}
	req := LoginRequest{UserID: fields[0], WorkerRef: fields[1]}
	if len(fields) > 2 {
		req.Credential = fields[2]
	}
	return req, nil
}
