package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/notify"
)

// MaxScreenshotBytes bounds the decoded payment screenshot.
const MaxScreenshotBytes = 4 << 20

var dataURLPattern = regexp.MustCompile(`^data:([A-Za-z0-9.+/-]+);base64,(.+)$`)

// CreditRequest is a payer's claim to have bought a credit pack by mobile
// money outside the gateway. Staff check the screenshot and grant the
// credits through the admin endpoint.
type CreditRequest struct {
	PackName       string
	PhoneNumber    string
	Screenshot     string // data URL
	ScreenshotName string
}

// CreditRequestReceipt echoes what staff were asked to verify.
type CreditRequestReceipt struct {
	Pack        string    `json:"pack"`
	Credits     int       `json:"credits"`
	Amount      int       `json:"amount"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// CreditRequestService forwards manual credit purchases to staff.
type CreditRequestService struct {
	Users      PayerRepo
	Sender     notify.Sender
	StaffEmail string
	Logger     *slog.Logger

	now func() time.Time
}

// Submit validates the request, emails staff with the screenshot attached
// and confirms receipt to the payer. Only the staff email is required to
// succeed.
func (s *CreditRequestService) Submit(ctx context.Context, userID uuid.UUID, req CreditRequest) (*CreditRequestReceipt, error) {
	credits, ok := models.CreditPacks[req.PackName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pack %q", models.ErrInvalidPurchase, req.PackName)
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return nil, fmt.Errorf("%w: phone number required", models.ErrInvalidPurchase)
	}
	shot, err := decodeScreenshot(req.Screenshot, req.ScreenshotName)
	if err != nil {
		return nil, err
	}
	payer, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	rec := &CreditRequestReceipt{
		Pack:        req.PackName,
		Credits:     credits,
		Amount:      Price(models.CreditPack{Credits: credits, Label: req.PackName}),
		SubmittedAt: now().UTC(),
	}
	view := creditRequestView{
		Pack:    rec.Pack,
		Credits: rec.Credits,
		Amount:  rec.Amount,
		Name:    payer.DisplayName(),
		Email:   payer.Email,
		UserID:  payer.ID.String(),
		Phone:   req.PhoneNumber,
		Date:    rec.SubmittedAt.Format("02/01/2006 15:04"),
	}

	staff, err := render(staffRequestTmpl, view)
	if err != nil {
		return nil, err
	}
	err = s.Sender.Send(ctx, notify.Message{
		Kind:        "credit_request",
		To:          s.StaffEmail,
		Subject:     "Demande d'achat de crédits - Pack " + rec.Pack,
		HTML:        staff,
		Attachments: []notify.Attachment{shot},
	})
	if err != nil {
		return nil, fmt.Errorf("notify staff: %w", err)
	}

	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("credit request submitted", "user_id", userID, "pack", rec.Pack, "amount", rec.Amount)

	if payer.Email == "" {
		return rec, nil
	}
	confirm, err := render(payerConfirmTmpl, view)
	if err == nil {
		err = s.Sender.Send(ctx, notify.Message{
			Kind:    "credit_request_confirmation",
			To:      payer.Email,
			Subject: "Confirmation - Demande de pack " + rec.Pack + " reçue",
			HTML:    confirm,
		})
	}
	if err != nil {
		log.Warn("credit request confirmation not sent", "user_id", userID, "error", err)
	}
	return rec, nil
}

func decodeScreenshot(dataURL, name string) (notify.Attachment, error) {
	m := dataURLPattern.FindStringSubmatch(dataURL)
	if m == nil {
		return notify.Attachment{}, fmt.Errorf("%w: screenshot must be a base64 data URL", models.ErrInvalidPurchase)
	}
	if base64.StdEncoding.DecodedLen(len(m[2])) > MaxScreenshotBytes+3 {
		return notify.Attachment{}, fmt.Errorf("%w: screenshot too large", models.ErrInvalidPurchase)
	}
	content, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return notify.Attachment{}, fmt.Errorf("%w: screenshot is not valid base64", models.ErrInvalidPurchase)
	}
	if name == "" {
		ext := "jpg"
		if _, sub, ok := strings.Cut(m[1], "/"); ok && sub != "" {
			ext = sub
		}
		name = "transaction." + ext
	}
	return notify.Attachment{Filename: name, Content: content}, nil
}

type creditRequestView struct {
	Pack    string
	Credits int
	Amount  int
	Name    string
	Email   string
	UserID  string
	Phone   string
	Date    string
}

func render(t *template.Template, v creditRequestView) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

var staffRequestTmpl = template.Must(template.New("staff_credit_request").Parse(`<h2>Nouvelle demande d'achat de crédits</h2>
<p><strong>Pack :</strong> {{.Pack}} ({{.Credits}} crédits, {{.Amount}} FCFA)</p>
<p><strong>Client :</strong> {{.Name}} &lt;{{.Email}}&gt;<br>
<strong>Identifiant :</strong> <code>{{.UserID}}</code><br>
<strong>Numéro débité :</strong> {{.Phone}}<br>
<strong>Date :</strong> {{.Date}}</p>
<ol>
<li>Vérifier la capture d'écran en pièce jointe</li>
<li>Confirmer le paiement sur Orange Money/MTN</li>
<li>Ajouter {{.Credits}} crédits au compte {{.UserID}}</li>
</ol>`))

var payerConfirmTmpl = template.Must(template.New("payer_credit_request").Parse(`<h2>Bonjour {{.Name}},</h2>
<p>Nous avons bien reçu votre demande d'achat du pack <strong>{{.Pack}}</strong> ({{.Credits}} crédits, {{.Amount}} FCFA).</p>
<p>Notre équipe vérifie votre paiement depuis le {{.Phone}} dans les 24h. Vos crédits seront ensuite ajoutés à votre compte.</p>`))
