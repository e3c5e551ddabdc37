package model

import "time"

// Invitation is stored under invitation:{code} until its TTL lapses.
type Invitation struct {
	Email       string    `json:"email,omitempty"`
	Mobile      string    `json:"mobile,omitempty"`
	CountryCode string    `json:"countryCode,omitempty"`
	Groups      []string  `json:"groups"`
	Roles       []string  `json:"roles"`
	InvitedBy   string    `json:"invitedBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EmailVerification is stored under verifyEmail:{email}:{code}.
type EmailVerification struct {
	UserID    string     `json:"user_id"`
	Email     string     `json:"email"`
	Name      string     `json:"name,omitempty"`
	Group     string     `json:"group,omitempty"`
	Roles     GroupRoles `json:"roles,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ResetCode is stored under resetCode:{code}.
type ResetCode struct {
	Email     string    `json:"email"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"createdAt"`
}

// TempPassword is stored under passwordTemp:{email}. One per email; a new
// request overwrites the previous value.
type TempPassword struct {
	Email        string    `json:"email"`
	PasswordTemp string    `json:"passwordTemp"`
	CreatedAt    time.Time `json:"createdAt"`
}
