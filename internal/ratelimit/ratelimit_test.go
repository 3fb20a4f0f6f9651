package ratelimit

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type memStore struct {
	mu     sync.Mutex
	counts map[string]int64
	ttl    map[string]time.Duration
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{counts: map[string]int64{}, ttl: map[string]time.Duration{}}
}

func (m *memStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("redis down")
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl[key] = ttl
	return nil
}

func (m *memStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttl[key], nil
}

func TestAllowWithinAndOverLimit(t *testing.T) {
	l := New(newMemStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(ctx, "login", "1.2.3.4", 3, time.Minute)
		assert.True(t, ok, "request %d should pass", i+1)
	}
	ok, retry := l.Allow(ctx, "login", "1.2.3.4", 3, time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 60, retry)

	ok, _ = l.Allow(ctx, "login", "5.6.7.8", 3, time.Minute)
	assert.True(t, ok, "other keys have their own window")
}

func TestNilStoreAndFailuresFailOpen(t *testing.T) {
	ok, _ := New(nil).Allow(context.Background(), "x", "k", 1, time.Minute)
	assert.True(t, ok)
	assert.False(t, New(nil).Enabled())

	s := newMemStore()
	s.fail = true
	ok, _ = New(s).Allow(context.Background(), "x", "k", 1, time.Minute)
	assert.True(t, ok)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}
