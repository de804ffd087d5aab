// Package gateway talks to the PayDunya checkout-invoice API.
package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/daloamarket/backend/internal/models"
)

const (
	DefaultBaseURL = "https://app.paydunya.com/api/v1"

	responseCodeOK = "00"
	storeName      = "DaloaMarket"
	storeTagline   = "Marketplace locale de Daloa"
)

type Config struct {
	BaseURL    string
	MasterKey  string
	PrivateKey string
	PublicKey  string
	Token      string
	Mode       string
	Timeout    time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Mode == "" {
		cfg.Mode = "live"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Actions struct {
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
	CallbackURL string `json:"callback_url"`
}

// CustomData is echoed back verbatim in notifications.
type CustomData struct {
	UserID      string  `json:"user_id"`
	Type        string  `json:"type"`
	ListingID   *string `json:"listing_id"`
	BoostOption *string `json:"boost_option"`
	Credits     *int    `json:"credits"`
	PackName    *string `json:"pack_name"`
}

type InvoiceRequest struct {
	Amount      int
	Description string
	ItemName    string
	Customer    Customer
	Actions     Actions
	CustomData  CustomData
}

// Invoice is a created checkout invoice.
type Invoice struct {
	Token       string
	CheckoutURL string
}

type invoiceItem struct {
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TotalPrice  string `json:"total_price"`
	Description string `json:"description"`
}

type createInvoiceBody struct {
	Invoice struct {
		TotalAmount int                    `json:"total_amount"`
		Description string                 `json:"description"`
		Items       map[string]invoiceItem `json:"items"`
	} `json:"invoice"`
	Store struct {
		Name    string `json:"name"`
		Tagline string `json:"tagline"`
	} `json:"store"`
	Customer   Customer   `json:"customer"`
	Actions    Actions    `json:"actions"`
	CustomData CustomData `json:"custom_data"`
}

type createInvoiceResponse struct {
	ResponseCode string `json:"response_code"`
	ResponseText string `json:"response_text"`
	Description  string `json:"description"`
	Token        string `json:"token"`
}

// CreateInvoice submits an invoice. Any refusal, including transport
// failure, is reported as *models.GatewayRejectedError.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	var body createInvoiceBody
	body.Invoice.TotalAmount = req.Amount
	body.Invoice.Description = req.Description
	amount := strconv.Itoa(req.Amount)
	body.Invoice.Items = map[string]invoiceItem{
		"item_0": {Name: req.ItemName, Quantity: 1, UnitPrice: amount, TotalPrice: amount, Description: req.Description},
	}
	body.Store.Name = storeName
	body.Store.Tagline = storeTagline
	body.Customer = req.Customer
	body.Actions = req.Actions
	body.CustomData = req.CustomData

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/checkout-invoice/create", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build invoice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &models.GatewayRejectedError{Reason: "network error: " + err.Error()}
	}
	defer resp.Body.Close()

	var out createInvoiceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, &models.GatewayRejectedError{Reason: fmt.Sprintf("unreadable response (HTTP %d)", resp.StatusCode)}
	}
	if out.ResponseCode != responseCodeOK {
		reason := out.ResponseText
		if reason == "" {
			reason = fmt.Sprintf("response code %q", out.ResponseCode)
		}
		return nil, &models.GatewayRejectedError{Reason: reason}
	}
	if out.Token == "" || out.ResponseText == "" {
		return nil, &models.GatewayRejectedError{Reason: "missing token or checkout url"}
	}
	return &Invoice{Token: out.Token, CheckoutURL: out.ResponseText}, nil
}

// ConfirmInvoice fetches the provider's current view of an invoice.
func (c *Client) ConfirmInvoice(ctx context.Context, token string) (*models.PaymentNotification, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/checkout-invoice/confirm/"+token, nil)
	if err != nil {
		return nil, fmt.Errorf("build confirm request: %w", err)
	}
	c.setAuthHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("confirm invoice %s: %w", token, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("confirm invoice %s: HTTP %d", token, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read confirm response: %w", err)
	}
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	if p.ResponseCode != "" && p.ResponseCode != responseCodeOK {
		return nil, fmt.Errorf("confirm invoice %s: %s", token, p.ResponseText)
	}
	n, err := p.notification()
	if err != nil {
		return nil, err
	}
	if n.Token == "" {
		n.Token = token
	}
	n.Source = models.SourceSweep
	return n, nil
}

// VerifyHash checks the IPN hash, which PayDunya computes as the hex
// SHA-512 of the account master key.
func (c *Client) VerifyHash(hash string) bool {
	sum := sha512.Sum512([]byte(c.cfg.MasterKey))
	want := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(hash)) == 1
}

func (c *Client) setAuthHeaders(r *http.Request) {
	r.Header.Set("PAYDUNYA-MASTER-KEY", c.cfg.MasterKey)
	r.Header.Set("PAYDUNYA-PRIVATE-KEY", c.cfg.PrivateKey)
	r.Header.Set("PAYDUNYA-TOKEN", c.cfg.Token)
	r.Header.Set("PAYDUNYA-MODE", c.cfg.Mode)
}
