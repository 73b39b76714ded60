package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/coinpulse/chat-service/pkg/database"
)

// Scan implements the sql.Scanner interface; reaction maps are stored as a
// JSON text column so they work across postgres/mysql/sqlite.
func (m *ReactionMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("ReactionMap: unsupported scan type")
	}
}

// Value implements the driver.Valuer interface.
func (m ReactionMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType returns the GORM data type hint.
func (ReactionMap) GormDataType() string {
	return "text"
}

// RoomModel is the GORM model for the rooms table.
type RoomModel struct {
	ID            string               `gorm:"type:varchar(64);primaryKey"`
	Name          string               `gorm:"type:varchar(200);not null"`
	CreatorWallet string               `gorm:"type:varchar(64);index"`
	Tags          database.StringArray `gorm:"type:text"`
	CreatedAt     time.Time            `gorm:"autoCreateTime"`
}

func (RoomModel) TableName() string {
	return "rooms"
}

func (m *RoomModel) ToDomain() *Room {
	return &Room{
		ID:            m.ID,
		Name:          m.Name,
		CreatorWallet: m.CreatorWallet,
		Tags:          []string(m.Tags),
		CreatedAt:     m.CreatedAt,
	}
}

func RoomToModel(r *Room) *RoomModel {
	return &RoomModel{
		ID:            r.ID,
		Name:          r.Name,
		CreatorWallet: r.CreatorWallet,
		Tags:          database.StringArray(r.Tags),
		CreatedAt:     r.CreatedAt,
	}
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID           string            `gorm:"type:varchar(36);primaryKey"`
	RoomID       string            `gorm:"type:varchar(64);index:idx_messages_room_created;not null"`
	SenderID     string            `gorm:"type:varchar(36);index"`
	SenderWallet string            `gorm:"type:varchar(64);index;not null"`
	Body         string            `gorm:"type:text"`
	Type         string            `gorm:"type:varchar(20);not null;default:'text'"`
	ReplyTo      string            `gorm:"type:varchar(36)"`
	Reactions    ReactionMap       `gorm:"type:text"`
	Edited       bool              `gorm:"default:false"`
	Pinned       bool              `gorm:"default:false"`
	Metadata     database.JSONText `gorm:"type:text"`
	CreatedAt    time.Time         `gorm:"autoCreateTime;index:idx_messages_room_created"`
}

func (MessageModel) TableName() string {
	return "messages"
}

func (m *MessageModel) ToDomain() *Message {
	msg := &Message{
		ID:           m.ID,
		RoomID:       m.RoomID,
		SenderID:     m.SenderID,
		SenderWallet: m.SenderWallet,
		Body:         m.Body,
		Type:         MessageType(m.Type),
		ReplyTo:      m.ReplyTo,
		Reactions:    m.Reactions,
		Edited:       m.Edited,
		Pinned:       m.Pinned,
		CreatedAt:    m.CreatedAt,
	}
	if len(m.Metadata) > 0 {
		var meta TokenMetadata
		if err := json.Unmarshal(m.Metadata, &meta); err == nil {
			msg.Metadata = &meta
		}
	}
	return msg
}

func MessageToModel(msg *Message) *MessageModel {
	model := &MessageModel{
		ID:           msg.ID,
		RoomID:       msg.RoomID,
		SenderID:     msg.SenderID,
		SenderWallet: msg.SenderWallet,
		Body:         msg.Body,
		Type:         string(msg.Type),
		ReplyTo:      msg.ReplyTo,
		Reactions:    msg.Reactions,
		Edited:       msg.Edited,
		Pinned:       msg.Pinned,
		CreatedAt:    msg.CreatedAt,
	}
	if msg.Metadata != nil {
		if data, err := json.Marshal(msg.Metadata); err == nil {
			model.Metadata = database.JSONText(data)
		}
	}
	return model
}

// UserModel is the GORM model for the users table.
type UserModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Wallet    string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Username  string    `gorm:"type:varchar(50)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToDomain() *User {
	return &User{
		ID:        m.ID,
		Wallet:    m.Wallet,
		Username:  m.Username,
		CreatedAt: m.CreatedAt,
	}
}
