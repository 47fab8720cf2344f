// Package synerr defines the error kinds the room event router and the
// HTTP layer translate into structured wire-level replies.
package synerr

import "fmt"

// Kind identifies one of the error categories the server boundary handles.
// Each kind maps to a distinct behavior at the transport edge (§7).
type Kind int

const (
	KindValidation Kind = iota
	KindAuthorization
	KindNotFound
	KindExternalTool
	KindTransport
	KindRateLimit
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindExternalTool:
		return "external_tool"
	case KindTransport:
		return "transport"
	case KindRateLimit:
		return "rate_limit"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can decide the
// wire-level reply via errors.As without string-matching messages.
type Error struct {
	Kind    Kind
	Command string // command name, when relevant (admin-error replies echo it)
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string, cause error) error {
	return &Error{Kind: KindValidation, Msg: msg, Err: cause}
}

func Authorization(command, msg string) error {
	return &Error{Kind: KindAuthorization, Command: command, Msg: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func ExternalTool(msg string, cause error) error {
	return &Error{Kind: KindExternalTool, Msg: msg, Err: cause}
}

func Transport(msg string, cause error) error {
	return &Error{Kind: KindTransport, Msg: msg, Err: cause}
}

func RateLimit(msg string) error {
	return &Error{Kind: KindRateLimit, Msg: msg}
}

func Persistence(msg string, cause error) error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: cause}
}
