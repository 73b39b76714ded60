package domain

import "time"

// WebSocket command types from client.
const (
	MsgTypeJoinRoom    = "join_room"
	MsgTypeLeaveRoom   = "leave_room"
	MsgTypeSendMessage = "send_message"
	MsgTypeShareToken  = "share_token"
	MsgTypeTyping      = "typing"
	MsgTypeReaction    = "reaction"
	MsgTypeEdit        = "edit"
	MsgTypePin         = "pin"
)

// WebSocket message types to client.
const (
	MsgTypeSystem = "system"
	MsgTypeError  = "error"
)

// Error codes carried on error frames.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNotInRoom     = "NOT_IN_ROOM"
	ErrCodePersistence   = "PERSISTENCE_FAILURE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseMessage is decoded first to dispatch on the command type.
type BaseMessage struct {
	Type string `json:"type"`
}

// Envelope is the wire frame exchanged over the WebSocket connection.
// Inbound commands and outbound broadcasts share this shape; unused fields
// are omitted per command.
type Envelope struct {
	ID           string      `json:"id,omitempty"`
	Type         string      `json:"type"`
	RoomID       string      `json:"roomId,omitempty"`
	SenderID     string      `json:"senderId,omitempty"`
	SenderWallet string      `json:"senderWallet,omitempty"`
	Message      string      `json:"message,omitempty"`
	MessageID    string      `json:"messageId,omitempty"`
	Emoji        string      `json:"emoji,omitempty"`
	IsPinned     *bool       `json:"isPinned,omitempty"`
	Edited       bool        `json:"edited,omitempty"`
	Reactions    ReactionMap `json:"reactions,omitempty"`
	ReplyTo      string      `json:"replyTo,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	Timestamp    time.Time   `json:"timestamp,omitempty"`
}

// Client -> Server command payloads. Each command is re-decoded into its
// typed payload after the BaseMessage sniff; validation happens before any
// handler logic runs.

type JoinRoomCommand struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type LeaveRoomCommand struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type SendMessageCommand struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
	ReplyTo string `json:"replyTo,omitempty"`
}

type ShareTokenCommand struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	RefID   string `json:"refId"`
	Message string `json:"message,omitempty"`
}

type TypingCommand struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type ReactionCommand struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type EditCommand struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

type PinCommand struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	IsPinned  bool   `json:"isPinned"`
}

// ErrorFrame is sent to a single session, never broadcast.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// SystemEnvelope builds a member joined/left style notice for a room.
func SystemEnvelope(roomID, wallet, text string) *Envelope {
	return &Envelope{
		Type:         MsgTypeSystem,
		RoomID:       roomID,
		SenderWallet: wallet,
		Message:      text,
		Timestamp:    time.Now().UTC(),
	}
}
