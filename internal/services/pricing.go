package services

import (
	"fmt"
	"strconv"

	"github.com/daloamarket/backend/internal/models"
)

// Prices in XOF.
const (
	ListingFeePrice   = 200
	CreditUnitPrice   = 200
	unknownBoostPrice = 500
)

var boostPrices = map[models.BoostOption]int{
	models.Boost24h: 300,
	models.Boost7d:  800,
	models.Boost30d: 2500,
}

var packPrices = map[int]int{
	3:  500,
	10: 1500,
	30: 3500,
}

// Price returns the deterministic amount charged for a purchase.
func Price(p models.Purchase) int {
	switch v := p.(type) {
	case models.ListingFee:
		return ListingFeePrice
	case models.Boost:
		if price, ok := boostPrices[v.Option]; ok {
			return price
		}
		return unknownBoostPrice
	case models.CreditPack:
		if price, ok := packPrices[v.Credits]; ok {
			return price
		}
		return v.Credits * CreditUnitPrice
	}
	return 0
}

// InvoiceText returns the invoice description and line item name shown on
// the checkout page.
func InvoiceText(p models.Purchase) (description, itemName string) {
	switch v := p.(type) {
	case models.Boost:
		itemName = fmt.Sprintf("Boost d'annonce (%s)", v.Option)
	case models.CreditPack:
		label := v.Label
		if label == "" {
			label = strconv.Itoa(v.Credits) + " crédits"
		}
		itemName = fmt.Sprintf("Pack de crédits (%s)", label)
	default:
		itemName = "Publication d'annonce"
	}
	return itemName + " sur DaloaMarket", itemName
}
