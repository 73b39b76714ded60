package domain

import (
	"sync"
	"time"
)

// Session is the identity and room pointer of one live connection. The room
// pointer is mutated only by join/leave; a session is a member of the hub's
// room set iff that room equals CurrentRoomID.
type Session struct {
	ID            string
	UserID        string
	Username      string
	Wallet        string
	CurrentRoomID string
	CreatedAt     time.Time
	LastActiveAt  time.Time
	mu            sync.RWMutex
}

func NewSession(id, wallet string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Wallet:       wallet,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// SetIdentity records the resolved canonical user for this session.
func (s *Session) SetIdentity(userID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserID = userID
	s.Username = username
}

func (s *Session) GetWallet() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Wallet
}

func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UserID
}

func (s *Session) JoinRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentRoomID = roomID
	s.LastActiveAt = time.Now()
}

func (s *Session) LeaveRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentRoomID = ""
	s.LastActiveAt = time.Now()
}

func (s *Session) GetCurrentRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentRoomID
}

func (s *Session) IsInRoom() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentRoomID != ""
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
