package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/reelgate/climaxpay-go/internal/model"
)

func pending(txn, user, content string) model.PaymentRecord {
	now := time.Now().UTC()
	return model.PaymentRecord{
		ID: txn, TransactionID: txn, UserID: user, ContentID: content,
		Amount: 49, Currency: "INR", Status: model.StatusPending, Gateway: "razorpay",
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestMemoryActivePairIsUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if err := s.CreatePayment(ctx, pending("txn_1", "u1", "c1")); err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}
	if err := s.CreatePayment(ctx, pending("txn_2", "u1", "c1")); !errors.Is(err, ErrConflict) {
		t.Fatalf("second CreatePayment() error = %v, want ErrConflict", err)
	}
	if err := s.CreatePayment(ctx, pending("txn_3", "u2", "c1")); err != nil {
		t.Fatalf("other user CreatePayment() error = %v", err)
	}

	// Declining frees the slot.
	if _, err := s.TransitionPayment(ctx, "txn_1", model.Transition{
		From: []model.PaymentStatus{model.StatusPending}, To: model.StatusDeclined, Reason: model.ReasonExpired,
	}); err != nil {
		t.Fatalf("TransitionPayment() error = %v", err)
	}
	if err := s.CreatePayment(ctx, pending("txn_4", "u1", "c1")); err != nil {
		t.Fatalf("CreatePayment() after decline error = %v", err)
	}
}

func TestMemoryConcurrentCreateOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreatePayment(ctx, pending(fmt.Sprintf("txn_%d", i), "u1", "c1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != 15 {
		t.Errorf("wins = %d conflicts = %d, want 1 and 15", wins, conflicts)
	}
}

func TestMemoryTransitionCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_ = s.CreatePayment(ctx, pending("txn_1", "u1", "c1"))

	approve := model.Transition{From: []model.PaymentStatus{model.StatusPending}, To: model.StatusApproved, ProviderRef: "pay_1"}
	rec, err := s.TransitionPayment(ctx, "txn_1", approve)
	if err != nil {
		t.Fatalf("TransitionPayment() error = %v", err)
	}
	if rec.Status != model.StatusApproved || rec.ProviderRef != "pay_1" || rec.ConfirmedAt == nil {
		t.Errorf("TransitionPayment() = %+v", rec)
	}

	rec, err = s.TransitionPayment(ctx, "txn_1", approve)
	if !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("repeat TransitionPayment() error = %v, want ErrStaleStatus", err)
	}
	if rec == nil || rec.Status != model.StatusApproved {
		t.Errorf("stale transition should return current record, got %+v", rec)
	}

	if _, err := s.TransitionPayment(ctx, "missing", approve); !errors.Is(err, ErrNotFound) {
		t.Errorf("TransitionPayment(missing) error = %v, want ErrNotFound", err)
	}

	active, err := s.FindActivePayment(ctx, "u1", "c1")
	if err != nil || active.TransactionID != "txn_1" {
		t.Errorf("FindActivePayment() = %v, %v", active, err)
	}
}

func TestMemoryListContentsHidesInactive(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Now().UTC()
	for i, active := range []bool{true, false, true} {
		item := model.ContentItem{
			ID: fmt.Sprintf("c%d", i), Title: "t", DurationSeconds: 100, ClimaxTimestampSeconds: 50,
			Category: "drama", Genre: []string{"Thriller"}, IsActive: active, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateContent(ctx, item); err != nil {
			t.Fatalf("CreateContent() error = %v", err)
		}
	}

	items, err := s.ListContents(ctx, model.ContentQuery{Genre: "thriller"})
	if err != nil {
		t.Fatalf("ListContents() error = %v", err)
	}
	if len(items) != 2 || items[0].ID != "c2" {
		t.Errorf("ListContents() = %v, want [c2 c0]", items)
	}

	all, _ := s.ListContents(ctx, model.ContentQuery{IncludeInactive: true, Limit: 2, Offset: 1})
	if len(all) != 2 || all[0].ID != "c1" {
		t.Errorf("ListContents(all, offset 1) = %v", all)
	}

	if _, err := s.GetContent(ctx, "c1"); err != nil {
		t.Errorf("GetContent(inactive) error = %v, want inactive items fetchable by id", err)
	}
}

func TestMemoryWebhookDedup(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if seen, _ := s.WebhookProcessed(ctx, "stripe", "evt_1"); seen {
		t.Fatal("WebhookProcessed() = true before marking")
	}
	if err := s.MarkWebhookProcessed(ctx, "stripe", "evt_1"); err != nil {
		t.Fatalf("first mark error = %v", err)
	}
	if seen, _ := s.WebhookProcessed(ctx, "stripe", "evt_1"); !seen {
		t.Error("WebhookProcessed() = false after marking")
	}
	if err := s.MarkWebhookProcessed(ctx, "stripe", "evt_1"); !errors.Is(err, ErrConflict) {
		t.Errorf("second mark error = %v, want ErrConflict", err)
	}
	if err := s.MarkWebhookProcessed(ctx, "razorpay", "evt_1"); err != nil {
		t.Errorf("other gateway mark error = %v", err)
	}
}

func TestMemoryIdempotentResponseExpires(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_ = s.StoreIdempotentResponse(ctx, "k1", []byte(`{"ok":true}`), 200, time.Now().Add(time.Hour))
	_ = s.StoreIdempotentResponse(ctx, "k2", []byte(`{}`), 200, time.Now().Add(-time.Second))

	body, status, err := s.GetIdempotentResponse(ctx, "k1")
	if err != nil || status != 200 || string(body) != `{"ok":true}` {
		t.Errorf("GetIdempotentResponse(k1) = %s %d %v", body, status, err)
	}
	if _, _, err := s.GetIdempotentResponse(ctx, "k2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetIdempotentResponse(expired) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryUsersCaseInsensitiveEmail(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if err := s.CreateUser(ctx, model.User{ID: "u1", Email: "Viewer@Example.com", Role: model.RoleUser}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := s.CreateUser(ctx, model.User{ID: "u2", Email: "viewer@example.com"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate email error = %v, want ErrConflict", err)
	}
	u, err := s.GetUserByEmail(ctx, "VIEWER@example.com")
	if err != nil || u.ID != "u1" {
		t.Errorf("GetUserByEmail() = %v, %v", u, err)
	}
}

func TestMemoryContentReadsDoNotAliasGenre(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if err := s.CreateContent(ctx, model.ContentItem{ID: "c1", Title: "Night", Genre: []string{"Thriller", "Drama"}, IsActive: true}); err != nil {
		t.Fatalf("CreateContent() error = %v", err)
	}

	got, err := s.GetContent(ctx, "c1")
	if err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	got.Genre[0] = "Comedy"

	listed, err := s.ListContents(ctx, model.ContentQuery{})
	if err != nil {
		t.Fatalf("ListContents() error = %v", err)
	}
	if len(listed) != 1 || listed[0].Genre[0] != "Thriller" {
		t.Fatalf("ListContents() genre = %v, want store unchanged by GetContent caller", listed)
	}
	listed[0].Genre[1] = "Horror"

	again, err := s.GetContent(ctx, "c1")
	if err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if again.Genre[0] != "Thriller" || again.Genre[1] != "Drama" {
		t.Errorf("GetContent() genre = %v, want [Thriller Drama]", again.Genre)
	}
}
