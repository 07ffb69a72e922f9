package model

import "time"

// User represents an application user record as stored in the `users`
// table. PasswordHash is never serialized; handlers can return a User
// directly without leaking the bcrypt hash.
//
// Fields:
//  ID               – primary key identifier of the user.
//  Name             – display name shown in the dashboard.
//  Email            – unique email address (exact match, as stored).
//  PasswordHash     – bcrypt hashed password.
//  IsAdmin          – grants access to the administrative endpoints.
//  NumberOfPatients – count of patients created by the user.
//  SharedUploadIDs  – uploads other users shared with this user.
//  SharedPatientIDs – patients other users shared with this user.
type User struct {
	ID               uint64    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	IsAdmin          bool      `json:"isAdmin"`
	NumberOfPatients int       `json:"numberOfPatients"`
	SharedUploadIDs  []uint64  `json:"sharedUploadIds"`
	SharedPatientIDs []uint64  `json:"sharedPatientIds"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// PasswordResetToken models an entry in the `password_reset_tokens` table.
// Only the SHA‑256 hash of the token mailed to the user is stored.
type PasswordResetToken struct {
	ID        uint64     // password_reset_tokens.id
	UserID    uint64     // password_reset_tokens.user_id
	TokenHash string     // password_reset_tokens.token_hash
	ExpiresAt time.Time  // password_reset_tokens.expires_at
	UsedAt    *time.Time // password_reset_tokens.used_at (nullable)
	CreatedAt time.Time  // password_reset_tokens.created_at
}
