package domain

import (
	"sort"
	"time"
)

// MessageType classifies a persisted message.
type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeTokenShare MessageType = "token_share"
	MessageTypeSystem     MessageType = "system"
)

// ReactionMap maps an emoji to the set of wallets that reacted with it.
type ReactionMap map[string][]string

// Toggle flips the (wallet, emoji) pair: present -> removed, absent -> added.
// Applying the same pair twice restores the map. Empty emoji entries are
// dropped so the map never carries dead keys.
func (m ReactionMap) Toggle(emoji, wallet string) ReactionMap {
	if m == nil {
		m = ReactionMap{}
	}
	wallets := m[emoji]
	for i, w := range wallets {
		if w == wallet {
			wallets = append(wallets[:i], wallets[i+1:]...)
			if len(wallets) == 0 {
				delete(m, emoji)
			} else {
				m[emoji] = wallets
			}
			return m
		}
	}
	m[emoji] = append(wallets, wallet)
	return m
}

// Has reports whether wallet reacted with emoji.
func (m ReactionMap) Has(emoji, wallet string) bool {
	for _, w := range m[emoji] {
		if w == wallet {
			return true
		}
	}
	return false
}

// Clone returns a deep copy with wallet sets sorted for stable output.
func (m ReactionMap) Clone() ReactionMap {
	if m == nil {
		return nil
	}
	out := make(ReactionMap, len(m))
	for emoji, wallets := range m {
		cp := make([]string, len(wallets))
		copy(cp, wallets)
		sort.Strings(cp)
		out[emoji] = cp
	}
	return out
}

// Message is a durable chat record. After creation only Body+Edited (edit),
// Pinned (pin), and Reactions (reaction) may change; Body and Pinned only by
// the original sender wallet.
type Message struct {
	ID           string         `json:"id"`
	RoomID       string         `json:"room_id"`
	SenderID     string         `json:"sender_id"`
	SenderWallet string         `json:"sender_wallet"`
	Body         string         `json:"body"`
	Type         MessageType    `json:"type"`
	ReplyTo      string         `json:"reply_to,omitempty"`
	Reactions    ReactionMap    `json:"reactions,omitempty"`
	Edited       bool           `json:"edited"`
	Pinned       bool           `json:"pinned"`
	Metadata     *TokenMetadata `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ToEnvelope renders the persisted message as a wire frame. Used both for
// live broadcasts and for join-time replay so clients handle one shape.
func (msg *Message) ToEnvelope() *Envelope {
	env := &Envelope{
		ID:           msg.ID,
		RoomID:       msg.RoomID,
		SenderID:     msg.SenderID,
		SenderWallet: msg.SenderWallet,
		Message:      msg.Body,
		MessageID:    msg.ID,
		Edited:       msg.Edited,
		Reactions:    msg.Reactions,
		ReplyTo:      msg.ReplyTo,
		Timestamp:    msg.CreatedAt,
	}
	if msg.Pinned {
		pinned := true
		env.IsPinned = &pinned
	}
	switch msg.Type {
	case MessageTypeTokenShare:
		env.Type = MsgTypeShareToken
		if msg.Metadata != nil {
			env.Data = msg.Metadata
		}
	case MessageTypeSystem:
		env.Type = MsgTypeSystem
	default:
		env.Type = MsgTypeSendMessage
	}
	return env
}

// Room is a named channel. The durable record lives in the store; the live
// membership set is owned by the hub and never persisted.
type Room struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CreatorWallet string    `json:"creator_wallet,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// User is a canonical identity record, lazily created from a wallet address.
type User struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenMetadata is the display snapshot embedded in token-share messages.
type TokenMetadata struct {
	RefID     string  `json:"ref_id"`
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	ImageURL  string  `json:"image_url,omitempty"`
	PriceUSD  float64 `json:"price_usd,omitempty"`
	ChainID   string  `json:"chain_id,omitempty"`
	Contract  string  `json:"contract,omitempty"`
	LaunchURL string  `json:"launch_url,omitempty"`
}
