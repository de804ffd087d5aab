package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Purchase is what a payer asks an invoice for. Exactly one of the
// concrete types ListingFee, Boost or CreditPack implements it.
type Purchase interface {
	Kind() TransactionKind
	Validate() error
}

type ListingFee struct {
	ListingID uuid.UUID
}

type Boost struct {
	ListingID uuid.UUID
	Option    BoostOption
}

type CreditPack struct {
	Credits int
	Label   string
}

func (ListingFee) Kind() TransactionKind { return KindListingFee }
func (Boost) Kind() TransactionKind      { return KindBoost }
func (CreditPack) Kind() TransactionKind { return KindCreditPack }

func (p ListingFee) Validate() error {
	if p.ListingID == uuid.Nil {
		return fmt.Errorf("%w: listing_id is required", ErrInvalidPurchase)
	}
	return nil
}

func (p Boost) Validate() error {
	if p.ListingID == uuid.Nil {
		return fmt.Errorf("%w: listing_id is required", ErrInvalidPurchase)
	}
	if !p.Option.Valid() {
		return fmt.Errorf("%w: unknown boost option %q", ErrInvalidPurchase, p.Option)
	}
	return nil
}

func (p CreditPack) Validate() error {
	if p.Credits <= 0 {
		return fmt.Errorf("%w: credits must be > 0", ErrInvalidPurchase)
	}
	return nil
}

// Known credit packs sold on the purchase page.
var CreditPacks = map[string]int{
	"Starter": 3,
	"Regular": 10,
	"Pro":     30,
}

// PurchaseListingID returns the listing a purchase targets, if any.
func PurchaseListingID(p Purchase) *uuid.UUID {
	switch v := p.(type) {
	case ListingFee:
		return &v.ListingID
	case Boost:
		return &v.ListingID
	}
	return nil
}
