package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a marketplace member as stored by the auth collaborator.
type User struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	District  string    `json:"district"`
	Rating    float64   `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName falls back to a generic label when the profile has no name.
func (u *User) DisplayName() string {
	if u.FullName == "" {
		return "Utilisateur DaloaMarket"
	}
	return u.FullName
}
