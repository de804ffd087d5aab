package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/daloamarket/backend/internal/models"
)

func TestListingCreate_PurgesPendingDuplicates(t *testing.T) {
	user := uuid.New()
	dup := &models.Listing{ID: uuid.New(), UserID: user, Title: "Frigo LG", Price: 90000, Category: "electromenager",
		Condition: "bon", District: "Lobia", Status: models.ListingStatusPending}
	other := &models.Listing{ID: uuid.New(), UserID: user, Title: "Frigo LG", Price: 85000, Category: "electromenager",
		Condition: "bon", District: "Lobia", Status: models.ListingStatusPending}
	repo := newMockListings(dup, other)
	pool := &mockPool{}
	svc := &ListingService{Pool: pool, Repo: repo}

	l, err := svc.Create(context.Background(), user, NewListingInput{
		Title: "Frigo LG", Price: 90000, Category: "electromenager", Condition: "bon", District: "Lobia",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l.Status != models.ListingStatusPending {
		t.Errorf("status = %s, want pending", l.Status)
	}
	if !repo.listings[dup.ID].Deleted() {
		t.Errorf("identical pending listing should be purged")
	}
	if repo.listings[other.ID].Deleted() {
		t.Errorf("listing with a different price must survive")
	}
	if pool.commits() != 1 {
		t.Errorf("commits = %d, want 1", pool.commits())
	}
}

func TestListingMarkSoldAndDelete(t *testing.T) {
	user := uuid.New()
	active := &models.Listing{ID: uuid.New(), UserID: user, Status: models.ListingStatusActive}
	pending := &models.Listing{ID: uuid.New(), UserID: user, Status: models.ListingStatusPending}
	svc := &ListingService{Pool: &mockPool{}, Repo: newMockListings(active, pending)}
	ctx := context.Background()

	if err := svc.MarkSold(ctx, user, active.ID); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}
	if err := svc.MarkSold(ctx, user, pending.ID); !errors.Is(err, models.ErrListingNotPublishable) {
		t.Errorf("pending listing cannot be sold, got %v", err)
	}
	if err := svc.Delete(ctx, uuid.New(), pending.ID); !errors.Is(err, models.ErrListingNotFound) {
		t.Errorf("foreign delete should look like not found, got %v", err)
	}
	if err := svc.Delete(ctx, user, pending.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, user, pending.ID); !errors.Is(err, models.ErrListingNotFound) {
		t.Errorf("double delete should report not found, got %v", err)
	}
}
