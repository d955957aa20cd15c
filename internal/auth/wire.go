package auth

import (
	"encoding/json"
	"fmt"

	"github.com/iamllama/aussiebot/internal/msg"
)

// RequestKind discriminates pre-auth frames.
type RequestKind int

const (
	// RequestListUsers asks for the set of operator names.
	RequestListUsers RequestKind = iota + 1
	// RequestCode asks for a one-time code to be minted and delivered.
	RequestCode
	// RequestLogin presents a code for verification.
	RequestLogin
)

// Request is a pre-auth frame. ListUsers is a bare string on the wire,
// RequestCode carries the user name, Login carries [user, code].
type Request struct {
	Kind RequestKind
	User string
	Code string
}

func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RequestListUsers:
		return msg.MarshalTagged("ListUsers", nil)
	case RequestCode:
		return msg.MarshalTagged("RequestCode", r.User)
	case RequestLogin:
		return msg.MarshalTagged("Login", []string{r.User, r.Code})
	}
	return nil, fmt.Errorf("auth: invalid request kind %d", r.Kind)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	tag, inner, err := msg.SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "ListUsers":
		r.Kind = RequestListUsers
	case "RequestCode":
		r.Kind = RequestCode
		return json.Unmarshal(inner, &r.User)
	case "Login":
		r.Kind = RequestLogin
		return msg.UnmarshalTuple(inner, &r.User, &r.Code)
	default:
		return fmt.Errorf("auth: unknown request %q", tag)
	}
	return nil
}

// ReplyKind discriminates auth responses.
type ReplyKind int

const (
	ReplyUsers ReplyKind = iota + 1
	ReplyInvalidUser
	ReplyCodeReady
	ReplyCodeExpired
	ReplyAuthSuccess
	ReplyAuthFail
	ReplyRatelimited
	ReplyServerError
)

// Reply is the response to a pre-auth frame.
type Reply struct {
	Kind  ReplyKind
	Users []string // ReplyUsers
	User  string   // ReplyAuthSuccess
}

func (r Reply) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ReplyUsers:
		return msg.MarshalTagged("Users", r.Users)
	case ReplyInvalidUser:
		return msg.MarshalTagged("InvalidUser", nil)
	case ReplyCodeReady:
		return msg.MarshalTagged("CodeReady", nil)
	case ReplyCodeExpired:
		return msg.MarshalTagged("CodeExpired", nil)
	case ReplyAuthSuccess:
		return msg.MarshalTagged("AuthSuccess", r.User)
	case ReplyAuthFail:
		return msg.MarshalTagged("AuthFail", nil)
	case ReplyRatelimited:
		return msg.MarshalTagged("AuthError", "Ratelimited")
	case ReplyServerError:
		return msg.MarshalTagged("AuthError", "ServerError")
	}
	return nil, fmt.Errorf("auth: invalid reply kind %d", r.Kind)
}

func (r *Reply) UnmarshalJSON(data []byte) error {
	tag, inner, err := msg.SplitTagged(data)
	if err != nil {
		return err
	}
	switch tag {
	case "Users":
		r.Kind = ReplyUsers
		return json.Unmarshal(inner, &r.Users)
	case "InvalidUser":
		r.Kind = ReplyInvalidUser
	case "CodeReady":
		r.Kind = ReplyCodeReady
	case "CodeExpired":
		r.Kind = ReplyCodeExpired
	case "AuthSuccess":
		r.Kind = ReplyAuthSuccess
		return json.Unmarshal(inner, &r.User)
	case "AuthFail":
		r.Kind = ReplyAuthFail
	case "AuthError":
		var which string
		if err := json.Unmarshal(inner, &which); err != nil {
			return err
		}
		switch which {
		case "Ratelimited":
			r.Kind = ReplyRatelimited
		case "ServerError":
			r.Kind = ReplyServerError
		default:
			return fmt.Errorf("auth: unknown auth error %q", which)
		}
	default:
		return fmt.Errorf("auth: unknown reply %q", tag)
	}
	return nil
}
