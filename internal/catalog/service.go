// Package catalog serves content metadata and the admin upsert path.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/event"
	"github.com/reelgate/climaxpay-go/internal/media"
	"github.com/reelgate/climaxpay-go/internal/model"
	"github.com/reelgate/climaxpay-go/internal/storage"
	"github.com/reelgate/climaxpay-go/internal/telemetry"
)

var tracer = otel.Tracer("climaxpay/catalog")

// Viewer identifies who is asking. The zero value is an anonymous caller.
type Viewer struct {
	UserID string
	Admin  bool
}

type Service struct {
	store  storage.Store
	media  media.Resolver
	events event.Publisher
	now    func() time.Time
}

func NewService(store storage.Store, resolver media.Resolver, events event.Publisher) *Service {
	if resolver == nil {
		resolver = media.Passthrough{}
	}
	if events == nil {
		events = event.Noop{}
	}
	return &Service{store: store, media: resolver, events: events, now: func() time.Time { return time.Now().UTC() }}
}

// List returns catalog items. Only admins may include inactive items.
func (s *Service) List(ctx context.Context, q model.ContentQuery, v Viewer) ([]model.ContentItem, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, errordefs.Validation("limit", "limit and offset must not be negative")
	}
	if !v.Admin {
		q.IncludeInactive = false
	}
	items, err := s.store.ListContents(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	return items, nil
}

// Get returns one item. Inactive items are visible to admins and to viewers
// who hold a payment record for them.
func (s *Service) Get(ctx context.Context, id string, v Viewer) (*model.ContentItem, error) {
	item, err := s.store.GetContent(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("content not found")
		}
		return nil, fmt.Errorf("load content: %w", err)
	}
	if item.IsActive || v.Admin {
		return item, nil
	}
	if v.UserID != "" {
		recs, err := s.store.ListPayments(ctx, model.PaymentQuery{UserID: v.UserID, ContentID: id, Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("list payments: %w", err)
		}
		if len(recs) > 0 {
			return item, nil
		}
	}
	return nil, errordefs.NotFound("content not found")
}

// Playback resolves a streamable URL for the viewer together with the
// gating parameters the player needs.
func (s *Service) Playback(ctx context.Context, id string, v Viewer) (*model.PlaybackInfo, error) {
	ctx, span := tracer.Start(ctx, "catalog.Playback")
	defer span.End()
	span.SetAttributes(attribute.String("content_id", id))

	item, err := s.Get(ctx, id, v)
	if err != nil {
		return nil, err
	}
	url, expires, err := s.media.PlaybackURL(ctx, item.VideoURL)
	if err != nil {
		return nil, errordefs.New(errordefs.OTT_UNAVAILABLE, "playback is temporarily unavailable", "").Wrap(err)
	}

	unlocked := item.Free()
	if !unlocked && v.UserID != "" {
		rec, err := s.store.FindActivePayment(ctx, v.UserID, id)
		switch {
		case err == nil:
			unlocked = rec.Status == model.StatusApproved
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("find active payment: %w", err)
		}
	}

	return &model.PlaybackInfo{
		ContentID:              item.ID,
		PlaybackURL:            url,
		ExpiresAt:              expires,
		DurationSeconds:        item.DurationSeconds,
		ClimaxTimestampSeconds: item.ClimaxTimestampSeconds,
		PremiumPrice:           item.PremiumPrice,
		Unlocked:               unlocked,
	}, nil
}

// Create adds a catalog item.
func (s *Service) Create(ctx context.Context, in model.ContentInput) (*model.ContentItem, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.checkMedia(ctx, in.VideoURL); err != nil {
		return nil, err
	}

	now := s.now()
	item := fromInput(in, now)
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = now
	if in.IsActive == nil {
		item.IsActive = true
	}
	if err := s.store.CreateContent(ctx, item); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, errordefs.Conflict("content id already exists")
		}
		return nil, fmt.Errorf("create content: %w", err)
	}
	s.publish(ctx, item)
	return &item, nil
}

// Update replaces an item. Once any payment references it, the price, climax,
// duration and video may no longer change; descriptive fields and the active
// flag still may.
func (s *Service) Update(ctx context.Context, id string, in model.ContentInput) (*model.ContentItem, error) {
	if in.ID != "" && in.ID != id {
		return nil, errordefs.Validation("id", "does not match the path")
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	current, err := s.store.GetContent(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("content not found")
		}
		return nil, fmt.Errorf("load content: %w", err)
	}

	now := s.now()
	in.ID = id
	item := fromInput(in, now)
	item.CreatedAt = current.CreatedAt
	if in.IsActive == nil {
		item.IsActive = current.IsActive
	}

	if !item.GatingFieldsEqual(*current) {
		n, err := s.store.CountPaymentsForContent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("count payments: %w", err)
		}
		if n > 0 {
			return nil, errordefs.Conflict("price, climax, duration and video are locked once payments exist").
				WithDetail("payments", n)
		}
		if item.VideoURL != current.VideoURL {
			if err := s.checkMedia(ctx, item.VideoURL); err != nil {
				return nil, err
			}
		}
	}

	if err := s.store.UpdateContent(ctx, item); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errordefs.NotFound("content not found")
		}
		return nil, fmt.Errorf("update content: %w", err)
	}
	s.publish(ctx, item)
	return &item, nil
}

func (s *Service) checkMedia(ctx context.Context, videoURL string) error {
	if err := s.media.ObjectExists(ctx, videoURL); err != nil {
		return errordefs.Validation("videoUrl", "video object not found").Wrap(err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, item model.ContentItem) {
	if err := s.events.PublishContent(ctx, item); err != nil {
		telemetry.LoggerFrom(ctx).Warn("failed to publish content event", "content_id", item.ID, "error", err)
	}
}

func validateInput(in model.ContentInput) error {
	if err := model.Validate(in); err != nil {
		return err
	}
	if strings.TrimSpace(in.Title) == "" {
		return errordefs.Validation("title", "is required")
	}
	if in.ClimaxTimestampSeconds > in.DurationSeconds {
		return errordefs.Validation("climaxTimestampSeconds", "must not exceed durationSeconds")
	}
	return nil
}

func fromInput(in model.ContentInput, now time.Time) model.ContentItem {
	item := model.ContentItem{
		ID:                     in.ID,
		Title:                  strings.TrimSpace(in.Title),
		Description:            in.Description,
		VideoURL:               in.VideoURL,
		Thumbnail:              in.Thumbnail,
		DurationSeconds:        in.DurationSeconds,
		ClimaxTimestampSeconds: in.ClimaxTimestampSeconds,
		PremiumPrice:           in.PremiumPrice,
		Category:               in.Category,
		Genre:                  append([]string(nil), in.Genre...),
		UpdatedAt:              now,
	}
	if in.IsActive != nil {
		item.IsActive = *in.IsActive
	}
	return item
}
