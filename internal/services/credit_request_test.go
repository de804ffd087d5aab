package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/notify"
)

type mockSender struct {
	sent []notify.Message
	// failTo makes sends to that address fail.
	failTo string
}

func (m *mockSender) Send(_ context.Context, msg notify.Message) error {
	if msg.To == m.failTo {
		return errors.New("resend unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

// "png-bytes" in base64.
const pngDataURL = "data:image/png;base64,cG5nLWJ5dGVz"

func newCreditRequestFixture() (*CreditRequestService, *mockSender, *models.User) {
	user := &models.User{ID: uuid.New(), FullName: "Awa Traoré", Email: "awa@example.com"}
	sender := &mockSender{}
	svc := &CreditRequestService{
		Users:      newMockUsers(user),
		Sender:     sender,
		StaffEmail: "staff@daloamarket.com",
		now:        func() time.Time { return time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC) },
	}
	return svc, sender, user
}

func TestCreditRequest_NotifiesStaffAndPayer(t *testing.T) {
	svc, sender, user := newCreditRequestFixture()

	rec, err := svc.Submit(context.Background(), user.ID, CreditRequest{
		PackName: "Regular", PhoneNumber: "+225 07 00 00 00 00", Screenshot: pngDataURL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Credits != 10 || rec.Amount != 1500 {
		t.Errorf("expected 10 credits for 1500, got %d for %d", rec.Credits, rec.Amount)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected staff and payer emails, got %d", len(sender.sent))
	}

	staff := sender.sent[0]
	if staff.To != "staff@daloamarket.com" || staff.Kind != "credit_request" {
		t.Errorf("unexpected staff message %+v", staff)
	}
	if len(staff.Attachments) != 1 || string(staff.Attachments[0].Content) != "png-bytes" {
		t.Fatalf("expected decoded screenshot attachment, got %+v", staff.Attachments)
	}
	if staff.Attachments[0].Filename != "transaction.png" {
		t.Errorf("expected default filename, got %q", staff.Attachments[0].Filename)
	}
	for _, want := range []string{user.ID.String(), "+225 07 00 00 00 00", "1500 FCFA", "02/03/2026 09:15"} {
		if !strings.Contains(staff.HTML, want) {
			t.Errorf("staff email missing %q", want)
		}
	}

	if sender.sent[1].To != "awa@example.com" {
		t.Errorf("expected confirmation to payer, got %q", sender.sent[1].To)
	}
}

func TestCreditRequest_Rejected(t *testing.T) {
	svc, sender, user := newCreditRequestFixture()

	cases := map[string]CreditRequest{
		"unknown pack":   {PackName: "Mega", PhoneNumber: "0700000000", Screenshot: pngDataURL},
		"no phone":       {PackName: "Pro", PhoneNumber: " ", Screenshot: pngDataURL},
		"not a data url": {PackName: "Pro", PhoneNumber: "0700000000", Screenshot: "https://example.com/x.png"},
		"bad base64":     {PackName: "Pro", PhoneNumber: "0700000000", Screenshot: "data:image/png;base64,@@@"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), user.ID, req)
			if !errors.Is(err, models.ErrInvalidPurchase) {
				t.Errorf("expected ErrInvalidPurchase, got %v", err)
			}
		})
	}
	if len(sender.sent) != 0 {
		t.Errorf("rejected requests must not send email, sent %d", len(sender.sent))
	}
}

func TestCreditRequest_UnknownPayer(t *testing.T) {
	svc, _, _ := newCreditRequestFixture()
	_, err := svc.Submit(context.Background(), uuid.New(), CreditRequest{PackName: "Starter", PhoneNumber: "0700000000", Screenshot: pngDataURL})
	if !errors.Is(err, models.ErrUnknownPayer) {
		t.Errorf("expected ErrUnknownPayer, got %v", err)
	}
}

func TestCreditRequest_StaffEmailFailureFails(t *testing.T) {
	svc, sender, user := newCreditRequestFixture()
	sender.failTo = "staff@daloamarket.com"

	_, err := svc.Submit(context.Background(), user.ID, CreditRequest{PackName: "Starter", PhoneNumber: "0700000000", Screenshot: pngDataURL})
	if err == nil {
		t.Fatal("expected an error when staff cannot be notified")
	}
	if len(sender.sent) != 0 {
		t.Errorf("payer must not be told the request was received, sent %d", len(sender.sent))
	}
}

func TestCreditRequest_ConfirmationFailureIsNotFatal(t *testing.T) {
	svc, sender, user := newCreditRequestFixture()
	sender.failTo = user.Email

	rec, err := svc.Submit(context.Background(), user.ID, CreditRequest{
		PackName: "Starter", PhoneNumber: "0700000000", Screenshot: pngDataURL, ScreenshotName: "orange.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Amount != 500 {
		t.Errorf("expected 500, got %d", rec.Amount)
	}
	if len(sender.sent) != 1 || sender.sent[0].Attachments[0].Filename != "orange.png" {
		t.Errorf("expected only the staff email with the given filename, got %+v", sender.sent)
	}
}
