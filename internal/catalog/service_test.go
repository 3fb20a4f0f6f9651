package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/model"
	"github.com/reelgate/climaxpay-go/internal/storage"
)

type stubResolver struct {
	missing bool
}

func (s stubResolver) PlaybackURL(ctx context.Context, videoURL string) (string, time.Time, error) {
	return "https://signed.test/" + videoURL, time.Unix(1700000000, 0), nil
}

func (s stubResolver) ObjectExists(ctx context.Context, videoURL string) error {
	if s.missing {
		return errors.New("404")
	}
	return nil
}

func input(price int64) model.ContentInput {
	return model.ContentInput{
		ID: "c1", Title: "The Long Night", VideoURL: "videos/c1.m3u8",
		DurationSeconds: 200, ClimaxTimestampSeconds: 100, PremiumPrice: price,
		Category: "drama", Genre: []string{"Thriller"},
	}
}

func TestCreateAndList(t *testing.T) {
	ctx := context.Background()
	svc := NewService(storage.NewMemory(), stubResolver{}, nil)

	item, err := svc.Create(ctx, input(49))
	require.NoError(t, err)
	assert.True(t, item.IsActive)

	hidden := input(0)
	hidden.ID = "c2"
	inactive := false
	hidden.IsActive = &inactive
	_, err = svc.Create(ctx, hidden)
	require.NoError(t, err)

	public, err := svc.List(ctx, model.ContentQuery{IncludeInactive: true}, Viewer{})
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, "c1", public[0].ID)

	all, err := svc.List(ctx, model.ContentQuery{IncludeInactive: true}, Viewer{Admin: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.Create(ctx, input(49))
	assert.True(t, errordefs.HasCode(err, errordefs.OTT_CONFLICT))
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(storage.NewMemory(), stubResolver{}, nil)

	bad := input(49)
	bad.ClimaxTimestampSeconds = 300
	_, err := svc.Create(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, "climaxTimestampSeconds", errordefs.From(err).Field)

	bad = input(-1)
	_, err = svc.Create(context.Background(), bad)
	assert.Equal(t, "premiumPrice", errordefs.From(err).Field)

	missing := NewService(storage.NewMemory(), stubResolver{missing: true}, nil)
	_, err = missing.Create(context.Background(), input(49))
	assert.Equal(t, "videoUrl", errordefs.From(err).Field)
}

func TestGetInactiveVisibility(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	svc := NewService(store, stubResolver{}, nil)
	_, err := svc.Create(ctx, input(49))
	require.NoError(t, err)
	require.NoError(t, store.CreatePayment(ctx, model.PaymentRecord{
		ID: "txn_1", TransactionID: "txn_1", UserID: "buyer", ContentID: "c1", Amount: 49,
		Status: model.StatusApproved, Gateway: "razorpay", CreatedAt: time.Now(),
	}))

	off := false
	update := input(49)
	update.IsActive = &off
	_, err = svc.Update(ctx, "c1", update)
	require.NoError(t, err)

	_, err = svc.Get(ctx, "c1", Viewer{})
	assert.True(t, errordefs.HasCode(err, errordefs.OTT_NOT_FOUND))
	_, err = svc.Get(ctx, "c1", Viewer{UserID: "stranger"})
	assert.True(t, errordefs.HasCode(err, errordefs.OTT_NOT_FOUND))
	_, err = svc.Get(ctx, "c1", Viewer{UserID: "buyer"})
	assert.NoError(t, err)
	_, err = svc.Get(ctx, "c1", Viewer{Admin: true})
	assert.NoError(t, err)
}

func TestUpdateLocksGatingFieldsOncePaid(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	svc := NewService(store, stubResolver{}, nil)
	_, err := svc.Create(ctx, input(49))
	require.NoError(t, err)

	// Unpaid items may be repriced.
	repriced, err := svc.Update(ctx, "c1", input(59))
	require.NoError(t, err)
	assert.EqualValues(t, 59, repriced.PremiumPrice)

	require.NoError(t, store.CreatePayment(ctx, model.PaymentRecord{
		ID: "txn_1", TransactionID: "txn_1", UserID: "u1", ContentID: "c1", Amount: 59,
		Status: model.StatusPending, Gateway: "razorpay", CreatedAt: time.Now(),
	}))

	_, err = svc.Update(ctx, "c1", input(99))
	assert.True(t, errordefs.HasCode(err, errordefs.OTT_CONFLICT))

	moved := input(59)
	moved.ClimaxTimestampSeconds = 150
	_, err = svc.Update(ctx, "c1", moved)
	assert.True(t, errordefs.HasCode(err, errordefs.OTT_CONFLICT))

	retitled := input(59)
	retitled.Title = "The Longest Night"
	item, err := svc.Update(ctx, "c1", retitled)
	require.NoError(t, err)
	assert.Equal(t, "The Longest Night", item.Title)
	assert.True(t, item.IsActive, "omitted isActive keeps the current value")

	_, err = svc.Update(ctx, "missing", input(59))
	assert.True(t, errordefs.HasCode(err, errordefs.OTT_NOT_FOUND))
}

func TestPlayback(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	svc := NewService(store, stubResolver{}, nil)
	_, err := svc.Create(ctx, input(49))
	require.NoError(t, err)

	info, err := svc.Playback(ctx, "c1", Viewer{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "https://signed.test/videos/c1.m3u8", info.PlaybackURL)
	assert.EqualValues(t, 100, info.ClimaxTimestampSeconds)
	assert.False(t, info.Unlocked)

	require.NoError(t, store.CreatePayment(ctx, model.PaymentRecord{
		ID: "txn_1", TransactionID: "txn_1", UserID: "u1", ContentID: "c1", Amount: 49,
		Status: model.StatusApproved, Gateway: "razorpay", CreatedAt: time.Now(),
	}))
	info, err = svc.Playback(ctx, "c1", Viewer{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, info.Unlocked)
}
