package gateway

import "github.com/ashureev/chatrelay/internal/domain"

const (
	frameJoin    = "join"
	frameSend    = "send"
	framePing    = "ping"
	frameJoined  = "joined"
	frameMessage = "message"
	frameSent    = "sent"
	framePong    = "pong"
	frameError   = "error"
)

// Error codes carried by error frames.
const (
	errCodeBadFrame          = "bad_frame"
	errCodeUnknownType       = "unknown_type"
	errCodeIdentityMismatch  = "identity_mismatch"
	errCodeInvalidSend       = "invalid_send"
	errCodeRecipientNotFound = "recipient_not_found"
	errCodeServer            = "server_error"
)

// inFrame is a client to server frame.
type inFrame struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id,omitempty"`
	Recipient string `json:"recipient,omitempty" validate:"required_if=Type send"`
	Content   string `json:"content,omitempty" validate:"required_if=Type send,max=4000"`
}

// outFrame is a server to client frame.
type outFrame struct {
	Type    string          `json:"type"`
	UserID  string          `json:"user_id,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}
