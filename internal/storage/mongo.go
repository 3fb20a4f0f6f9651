// internal/storage/mongo.go
// MongoDB implementation of the Store interface, for deployments that keep the
// catalog in a document store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/reelgate/climaxpay-go/internal/model"
)

type mongoStore struct {
	client      *mongo.Client
	contents    *mongo.Collection
	users       *mongo.Collection
	payments    *mongo.Collection
	webhooks    *mongo.Collection
	idempotency *mongo.Collection
}

// paymentDoc adds the derived active flag that backs the partial unique index.
type paymentDoc struct {
	model.PaymentRecord `bson:",inline"`
	Active              bool `bson:"active"`
}

type userDoc struct {
	model.User `bson:",inline"`
	EmailLower string `bson:"emailLower"`
}

type idempotencyDoc struct {
	KeyHash   string    `bson:"_id"`
	Body      []byte    `bson:"body"`
	Status    int       `bson:"status"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// NewMongo connects to MongoDB and ensures indexes.
func NewMongo(uri, database string) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &mongoStore{
		client:      client,
		contents:    db.Collection("contents"),
		users:       db.Collection("users"),
		payments:    db.Collection("payments"),
		webhooks:    db.Collection("webhook_events"),
		idempotency: db.Collection("idempotency"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "transactionId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "contentId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("ux_active_pair").
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{Keys: bson.D{{Key: "gateway", Value: 1}, {Key: "orderRef", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
	}); err != nil {
		return err
	}
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "emailLower", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.contents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "createdAt", Value: -1}},
	}); err != nil {
		return err
	}
	_, err := s.idempotency.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

func (s *mongoStore) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

func (s *mongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (s *mongoStore) CreateContent(ctx context.Context, item model.ContentItem) error {
	item.Genre = nonNilStrings(item.Genre)
	if _, err := s.contents.InsertOne(ctx, item); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create content: %w", err)
	}
	return nil
}

func (s *mongoStore) UpdateContent(ctx context.Context, item model.ContentItem) error {
	item.Genre = nonNilStrings(item.Genre)
	res, err := s.contents.ReplaceOne(ctx, bson.M{"_id": item.ID}, item)
	if err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) GetContent(ctx context.Context, id string) (*model.ContentItem, error) {
	var item model.ContentItem
	if err := s.contents.FindOne(ctx, bson.M{"_id": id}).Decode(&item); err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (s *mongoStore) ListContents(ctx context.Context, query model.ContentQuery) ([]model.ContentItem, error) {
	filter := bson.M{}
	if !query.IncludeInactive {
		filter["isActive"] = true
	}
	if query.Category != "" {
		filter["category"] = query.Category
	}
	if query.Genre != "" {
		filter["genre"] = bson.M{"$regex": "^" + regexp.QuoteMeta(query.Genre) + "$", "$options": "i"}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(clampLimit(query.Limit, 50, 200))).
		SetSkip(int64(max(query.Offset, 0)))

	cur, err := s.contents.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	items := make([]model.ContentItem, 0)
	if err := cur.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode contents: %w", err)
	}
	return items, nil
}

func (s *mongoStore) CreateUser(ctx context.Context, user model.User) error {
	if _, err := s.users.InsertOne(ctx, userDoc{User: user, EmailLower: strings.ToLower(user.Email)}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *mongoStore) findUser(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return &doc.User, nil
}

func (s *mongoStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"emailLower": strings.ToLower(email)})
}

func (s *mongoStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *mongoStore) findPayment(ctx context.Context, filter bson.M) (*model.PaymentRecord, error) {
	var doc paymentDoc
	if err := s.payments.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return &doc.PaymentRecord, nil
}

func (s *mongoStore) CreatePayment(ctx context.Context, rec model.PaymentRecord) error {
	if _, err := s.payments.InsertOne(ctx, paymentDoc{PaymentRecord: rec, Active: rec.Status.Active()}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *mongoStore) GetPayment(ctx context.Context, transactionID string) (*model.PaymentRecord, error) {
	return s.findPayment(ctx, bson.M{"transactionId": transactionID})
}

func (s *mongoStore) GetPaymentByOrderRef(ctx context.Context, gateway, orderRef string) (*model.PaymentRecord, error) {
	if orderRef == "" {
		return nil, ErrNotFound
	}
	return s.findPayment(ctx, bson.M{"gateway": gateway, "orderRef": orderRef})
}

func (s *mongoStore) SetPaymentOrderRef(ctx context.Context, transactionID, orderRef string) error {
	res, err := s.payments.UpdateOne(ctx, bson.M{"transactionId": transactionID},
		bson.M{"$set": bson.M{"orderRef": orderRef, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to set order ref: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) FindActivePayment(ctx context.Context, userID, contentID string) (*model.PaymentRecord, error) {
	return s.findPayment(ctx, bson.M{"userId": userID, "contentId": contentID, "active": true})
}

func (s *mongoStore) TransitionPayment(ctx context.Context, transactionID string, t model.Transition) (*model.PaymentRecord, error) {
	now := time.Now().UTC()
	set := bson.M{
		"status":    t.To,
		"active":    t.To.Active(),
		"updatedAt": now,
	}
	if t.To == model.StatusDeclined {
		set["reason"] = t.Reason
	}
	if t.ProviderRef != "" {
		set["providerRef"] = t.ProviderRef
	}
	if t.To != model.StatusPending {
		set["confirmedAt"] = now
	}

	var doc paymentDoc
	err := s.payments.FindOneAndUpdate(ctx,
		bson.M{"transactionId": transactionID, "status": bson.M{"$in": t.From}},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return &doc.PaymentRecord, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrConflict
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to transition payment: %w", err)
	}

	current, err := s.GetPayment(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return current, ErrStaleStatus
}

func (s *mongoStore) ListPayments(ctx context.Context, query model.PaymentQuery) ([]model.PaymentRecord, error) {
	filter := bson.M{}
	if query.UserID != "" {
		filter["userId"] = query.UserID
	}
	if query.ContentID != "" {
		filter["contentId"] = query.ContentID
	}
	if query.Status != "" {
		filter["status"] = query.Status
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "transactionId", Value: -1}}).
		SetLimit(int64(clampLimit(query.Limit, 100, 1000)))

	cur, err := s.payments.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	var docs []paymentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode payments: %w", err)
	}
	out := make([]model.PaymentRecord, len(docs))
	for i, d := range docs {
		out[i] = d.PaymentRecord
	}
	return out, nil
}

func (s *mongoStore) CountPaymentsForContent(ctx context.Context, contentID string) (int, error) {
	n, err := s.payments.CountDocuments(ctx, bson.M{"contentId": contentID})
	if err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return int(n), nil
}

func (s *mongoStore) WebhookProcessed(ctx context.Context, gateway, eventID string) (bool, error) {
	n, err := s.webhooks.CountDocuments(ctx, bson.M{"_id": gateway + "|" + eventID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to look up webhook event: %w", err)
	}
	return n > 0, nil
}

func (s *mongoStore) MarkWebhookProcessed(ctx context.Context, gateway, eventID string) error {
	_, err := s.webhooks.InsertOne(ctx, bson.M{"_id": gateway + "|" + eventID, "processedAt": time.Now().UTC()})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

func (s *mongoStore) StoreIdempotentResponse(ctx context.Context, keyHash string, responseBody []byte, statusCode int, expiresAt time.Time) error {
	doc := idempotencyDoc{KeyHash: keyHash, Body: responseBody, Status: statusCode, ExpiresAt: expiresAt}
	_, err := s.idempotency.ReplaceOne(ctx, bson.M{"_id": keyHash}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	return nil
}

func (s *mongoStore) GetIdempotentResponse(ctx context.Context, keyHash string) ([]byte, int, error) {
	var doc idempotencyDoc
	err := s.idempotency.FindOne(ctx, bson.M{"_id": keyHash, "expiresAt": bson.M{"$gt": time.Now().UTC()}}).Decode(&doc)
	if err != nil {
		return nil, 0, notFound(err)
	}
	return doc.Body, doc.Status, nil
}
