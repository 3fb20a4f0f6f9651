// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reelgate/climaxpay-go/internal/model"
)

// memory implements the Store interface using in-memory storage.
// It's intended for development and testing purposes.
type memory struct {
	mu          sync.RWMutex                    // Protects concurrent access to maps
	contents    map[string]*model.ContentItem   // Map of content ID to item
	users       map[string]*model.User          // Map of user ID to user
	usersEmail  map[string]string               // Map of lowercased email to user ID
	payments    map[string]*model.PaymentRecord // Map of transaction ID to record
	activePair  map[string]string               // Map of user|content to the active transaction ID
	webhooks    map[string]struct{}             // Processed gateway|event ids
	idempotency map[string]*IdempotentResponse  // Map of key hash to idempotent responses
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		contents:    make(map[string]*model.ContentItem),
		users:       make(map[string]*model.User),
		usersEmail:  make(map[string]string),
		payments:    make(map[string]*model.PaymentRecord),
		activePair:  make(map[string]string),
		webhooks:    make(map[string]struct{}),
		idempotency: make(map[string]*IdempotentResponse),
	}
}

func pairKey(userID, contentID string) string { return userID + "|" + contentID }

func (m *memory) CreateContent(ctx context.Context, item model.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.contents[item.ID]; exists {
		return ErrConflict
	}
	itemCopy := item
	itemCopy.Genre = append([]string(nil), item.Genre...)
	m.contents[item.ID] = &itemCopy
	return nil
}

func (m *memory) UpdateContent(ctx context.Context, item model.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.contents[item.ID]; !exists {
		return ErrNotFound
	}
	itemCopy := item
	itemCopy.Genre = append([]string(nil), item.Genre...)
	m.contents[item.ID] = &itemCopy
	return nil
}

func (m *memory) GetContent(ctx context.Context, id string) (*model.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, exists := m.contents[id]
	if !exists {
		return nil, ErrNotFound
	}
	itemCopy := *item
	itemCopy.Genre = append([]string(nil), item.Genre...)
	return &itemCopy, nil
}

func (m *memory) ListContents(ctx context.Context, query model.ContentQuery) ([]model.ContentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]model.ContentItem, 0, len(m.contents))
	for _, item := range m.contents {
		if !query.IncludeInactive && !item.IsActive {
			continue
		}
		if query.Category != "" && item.Category != query.Category {
			continue
		}
		if query.Genre != "" && !hasGenre(item.Genre, query.Genre) {
			continue
		}
		itemCopy := *item
		itemCopy.Genre = append([]string(nil), item.Genre...)
		items = append(items, itemCopy)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if query.Offset >= len(items) {
		return []model.ContentItem{}, nil
	}
	items = items[query.Offset:]
	if limit := clampLimit(query.Limit, 50, 200); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func hasGenre(genres []string, want string) bool {
	for _, g := range genres {
		if strings.EqualFold(g, want) {
			return true
		}
	}
	return false
}

func (m *memory) CreateUser(ctx context.Context, user model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := m.usersEmail[email]; exists {
		return ErrConflict
	}
	if _, exists := m.users[user.ID]; exists {
		return ErrConflict
	}
	userCopy := user
	m.users[user.ID] = &userCopy
	m.usersEmail[email] = user.ID
	return nil
}

func (m *memory) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.usersEmail[strings.ToLower(email)]
	if !exists {
		return nil, ErrNotFound
	}
	userCopy := *m.users[id]
	return &userCopy, nil
}

func (m *memory) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, exists := m.users[id]
	if !exists {
		return nil, ErrNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

func (m *memory) CreatePayment(ctx context.Context, record model.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.payments[record.TransactionID]; exists {
		return ErrConflict
	}
	key := pairKey(record.UserID, record.ContentID)
	if record.Status.Active() {
		if _, exists := m.activePair[key]; exists {
			return ErrConflict
		}
		m.activePair[key] = record.TransactionID
	}
	recordCopy := record
	m.payments[record.TransactionID] = &recordCopy
	return nil
}

func (m *memory) GetPayment(ctx context.Context, transactionID string) (*model.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.payments[transactionID]
	if !exists {
		return nil, ErrNotFound
	}
	recCopy := *rec
	return &recCopy, nil
}

func (m *memory) GetPaymentByOrderRef(ctx context.Context, gateway, orderRef string) (*model.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if orderRef == "" {
		return nil, ErrNotFound
	}
	for _, rec := range m.payments {
		if rec.Gateway == gateway && rec.OrderRef == orderRef {
			recCopy := *rec
			return &recCopy, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memory) SetPaymentOrderRef(ctx context.Context, transactionID, orderRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.payments[transactionID]
	if !exists {
		return ErrNotFound
	}
	rec.OrderRef = orderRef
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memory) FindActivePayment(ctx context.Context, userID, contentID string) (*model.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, exists := m.activePair[pairKey(userID, contentID)]
	if !exists {
		return nil, ErrNotFound
	}
	recCopy := *m.payments[txn]
	return &recCopy, nil
}

func (m *memory) TransitionPayment(ctx context.Context, transactionID string, t model.Transition) (*model.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.payments[transactionID]
	if !exists {
		return nil, ErrNotFound
	}
	if !containsStatus(t.From, rec.Status) {
		recCopy := *rec
		return &recCopy, ErrStaleStatus
	}

	key := pairKey(rec.UserID, rec.ContentID)
	if t.To.Active() && !rec.Status.Active() {
		if _, taken := m.activePair[key]; taken {
			return nil, ErrConflict
		}
		m.activePair[key] = rec.TransactionID
	}
	if !t.To.Active() && m.activePair[key] == rec.TransactionID {
		delete(m.activePair, key)
	}

	applyTransition(rec, t, time.Now().UTC())
	recCopy := *rec
	return &recCopy, nil
}

func (m *memory) ListPayments(ctx context.Context, query model.PaymentQuery) ([]model.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.PaymentRecord, 0)
	for _, rec := range m.payments {
		if query.UserID != "" && rec.UserID != query.UserID {
			continue
		}
		if query.ContentID != "" && rec.ContentID != query.ContentID {
			continue
		}
		if query.Status != "" && rec.Status != query.Status {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TransactionID > out[j].TransactionID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := clampLimit(query.Limit, 100, 1000); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memory) CountPaymentsForContent(ctx context.Context, contentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rec := range m.payments {
		if rec.ContentID == contentID {
			n++
		}
	}
	return n, nil
}

func (m *memory) WebhookProcessed(ctx context.Context, gateway, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, seen := m.webhooks[gateway+"|"+eventID]
	return seen, nil
}

func (m *memory) MarkWebhookProcessed(ctx context.Context, gateway, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := gateway + "|" + eventID
	if _, seen := m.webhooks[key]; seen {
		return ErrConflict
	}
	m.webhooks[key] = struct{}{}
	return nil
}

// StoreIdempotentResponse stores an idempotent response in memory
func (m *memory) StoreIdempotentResponse(ctx context.Context, keyHash string, responseBody []byte, statusCode int, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.idempotency[keyHash] = &IdempotentResponse{
		ResponseBody: append([]byte(nil), responseBody...),
		StatusCode:   statusCode,
		ExpiresAt:    expiresAt,
	}
	return nil
}

// GetIdempotentResponse retrieves a cached idempotent response from memory
func (m *memory) GetIdempotentResponse(ctx context.Context, keyHash string) ([]byte, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	response, exists := m.idempotency[keyHash]
	if !exists {
		return nil, 0, ErrNotFound
	}
	if time.Now().UTC().After(response.ExpiresAt) {
		delete(m.idempotency, keyHash)
		return nil, 0, ErrNotFound
	}
	return append([]byte(nil), response.ResponseBody...), response.StatusCode, nil
}

func (m *memory) Ping(ctx context.Context) error { return nil }

func (m *memory) Close() {}
