package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/daloamarket/backend/internal/models"
)

// flexInt accepts a JSON number or a numeric string; PayDunya uses both.
// Values must be whole numbers: "1500" and "1500.00" decode, "1500.5" does not.
// Largest magnitude a float64 holds without losing integer precision.
const maxExactFloat = 1 << 53

type flexInt struct {
	value int
	set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		f.value, f.set = n, true
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	if n != math.Trunc(n) || math.Abs(n) > maxExactFloat {
		return fmt.Errorf("not a whole amount: %q", s)
	}
	f.value, f.set = int(n), true
	return nil
}

type payloadCustomData struct {
	UserID      string  `json:"user_id"`
	Type        string  `json:"type"`
	ListingID   string  `json:"listing_id"`
	BoostOption string  `json:"boost_option"`
	Credits     flexInt `json:"credits"`
	PackName    *string `json:"pack_name"`
}

type payload struct {
	ResponseCode string             `json:"response_code"`
	ResponseText string             `json:"response_text"`
	Hash         string             `json:"hash"`
	Status       string             `json:"status"`
	CustomData   *payloadCustomData `json:"custom_data"`
	Invoice      *struct {
		Token       string             `json:"token"`
		Status      string             `json:"status"`
		TotalAmount flexInt            `json:"total_amount"`
		CustomData  *payloadCustomData `json:"custom_data"`
	} `json:"invoice"`
}

// DecodeNotification parses a callback body: either a JSON document or a
// form-encoded body whose "data" field holds the JSON. It returns the
// notification and the IPN hash, if any.
func DecodeNotification(body []byte) (*models.PaymentNotification, string, error) {
	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return nil, "", fmt.Errorf("%w: empty body", models.ErrMalformedNotification)
	}
	if raw[0] != '{' {
		form, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", models.ErrMalformedNotification, err)
		}
		data := form.Get("data")
		if data == "" {
			return nil, "", fmt.Errorf("%w: missing data field", models.ErrMalformedNotification)
		}
		raw = []byte(data)
	}
	p, err := decodePayload(raw)
	if err != nil {
		return nil, "", err
	}
	n, err := p.notification()
	if err != nil {
		return nil, "", err
	}
	n.Source = models.SourceWebhook
	return n, p.Hash, nil
}

func decodePayload(raw []byte) (*payload, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedNotification, err)
	}
	return &p, nil
}

func (p *payload) notification() (*models.PaymentNotification, error) {
	if p.Invoice == nil {
		return nil, fmt.Errorf("%w: missing invoice", models.ErrMalformedNotification)
	}
	n := &models.PaymentNotification{
		Token:       p.Invoice.Token,
		Status:      p.Invoice.Status,
		TotalAmount: p.Invoice.TotalAmount.value,
	}
	if n.Status == "" {
		n.Status = p.Status
	}
	cd := p.Invoice.CustomData
	if cd == nil {
		cd = p.CustomData
	}
	if cd != nil {
		custom, err := cd.toModel()
		if err != nil {
			return nil, err
		}
		n.Custom = custom
	}
	return n, nil
}

func (cd *payloadCustomData) toModel() (models.CustomData, error) {
	out := models.CustomData{Type: cd.Type, PackName: cd.PackName}
	if cd.UserID != "" {
		id, err := uuid.Parse(cd.UserID)
		if err != nil {
			return out, fmt.Errorf("%w: invalid user_id", models.ErrMalformedNotification)
		}
		out.UserID = &id
	}
	if cd.ListingID != "" {
		id, err := uuid.Parse(cd.ListingID)
		if err != nil {
			return out, fmt.Errorf("%w: invalid listing_id", models.ErrMalformedNotification)
		}
		out.ListingID = &id
	}
	if cd.BoostOption != "" {
		opt := models.BoostOption(cd.BoostOption)
		out.BoostOption = &opt
	}
	if cd.Credits.set {
		n := cd.Credits.value
		out.Credits = &n
	}
	return out, nil
}
