package models

import "time"

// Role distinguishes the two sides of a conversation. Role ids are only
// unique within a role, never across roles.
type Role string

const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
)

func (r Role) Valid() bool {
	return r == RoleTenant || r == RoleLandlord
}

// Participant is a role-scoped reference to an account, as supplied by
// clients before resolution.
type Participant struct {
	Role   Role `json:"role"`
	RoleID int  `json:"role_id"`
}

// Message is a decrypted message as delivered to clients. ID and RoomID are
// internal bookkeeping and never leave the server.
type Message struct {
	ID                string    `json:"-"`
	RoomID            string    `json:"-"`
	SenderAccountID   int       `json:"sender_account_id"`
	ReceiverAccountID int       `json:"receiver_account_id"`
	Body              string    `json:"body"`
	CreatedAt         time.Time `json:"created_at"`
}
