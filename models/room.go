package models

import "time"

// Room is one tournament instance. Its name is unique and doubles as the
// external handle used by the transport layer and cleanup hooks.
type Room struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	Participants []RoomParticipant `json:"participants,omitempty" db:"-"`
	Nodes        []BracketNode     `json:"nodes,omitempty" db:"-"`
	Assignments  []NodeAssignment  `json:"assignments,omitempty" db:"-"`
}

// RoomParticipant binds a user to a room. IsOnline is flipped by the
// connection orchestrator; a connect for a participant that is already
// online is a duplicate session and gets rejected.
type RoomParticipant struct {
	ID        int       `json:"id" db:"id"`
	RoomID    int       `json:"room_id" db:"room_id"`
	UserID    int       `json:"user_id" db:"user_id"`
	IsOnline  bool      `json:"is_online" db:"is_online"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
