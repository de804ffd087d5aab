package models

import (
	"time"

	"github.com/google/uuid"
)

type ListingStatus string

const (
	ListingStatusPending  ListingStatus = "pending"
	ListingStatusActive   ListingStatus = "active"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusRejected ListingStatus = "rejected"
)

type Listing struct {
	ID           uuid.UUID     `json:"id"`
	UserID       uuid.UUID     `json:"user_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Price        int           `json:"price"`
	Category     string        `json:"category"`
	Condition    string        `json:"condition"`
	District     string        `json:"district"`
	Photos       []string      `json:"photos"`
	Status       ListingStatus `json:"status"`
	BoostedUntil *time.Time    `json:"boosted_until,omitempty"`
	DeletedAt    *time.Time    `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Deleted reports whether the listing has been soft-deleted.
func (l *Listing) Deleted() bool { return l.DeletedAt != nil }

// Activatable reports whether a paid effect may set the listing active.
// Sold and rejected listings never move back to active.
func (l *Listing) Activatable() bool {
	return !l.Deleted() && (l.Status == ListingStatusPending || l.Status == ListingStatusActive)
}
