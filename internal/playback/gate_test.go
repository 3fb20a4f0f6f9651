package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	paused   bool
	playing  bool
	position float64
	seeks    []float64
}

func (p *fakePlayer) Pause() { p.paused, p.playing = true, false }
func (p *fakePlayer) Play()  { p.paused, p.playing = false, true }

func (p *fakePlayer) Seek(pos float64) {
	p.position = pos
	p.seeks = append(p.seeks, pos)
}

type fakePrompt struct {
	shown  int
	hidden int
}

func (p *fakePrompt) ShowPaymentPrompt(string, int64) { p.shown++ }
func (p *fakePrompt) HidePaymentPrompt()              { p.hidden++ }

type fakeChecker struct {
	mu   sync.Mutex
	paid bool
	err  error
	hits int
}

func (c *fakeChecker) CheckUnlocked(ctx context.Context, userID, contentID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits++
	return c.paid, c.err
}

func (c *fakeChecker) set(paid bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paid, c.err = paid, err
}

func newGate(climax float64, checker UnlockChecker) (*Gate, *fakePlayer, *fakePrompt) {
	player, prompt := &fakePlayer{}, &fakePrompt{}
	g := NewGate(Content{ID: "c1", DurationSeconds: 200, ClimaxSeconds: climax, Price: 49}, "u1", player, checker, prompt, nil)
	return g, player, prompt
}

func TestSeekPastClimaxIsBlocked(t *testing.T) {
	ctx := context.Background()
	g, player, prompt := newGate(120, &fakeChecker{})
	require.Equal(t, BeforeClimax, g.Start(ctx))

	g.OnTimeUpdate(ctx, 30)
	st := g.OnSeek(ctx, 150)

	assert.Equal(t, AtGate, st)
	assert.True(t, player.paused)
	assert.Less(t, player.position, 120.0)
	assert.Equal(t, 30.0, player.position)
	assert.Equal(t, 1, prompt.shown)
}

func TestPlayingIntoClimaxRewindsBelowIt(t *testing.T) {
	ctx := context.Background()
	g, player, prompt := newGate(100, &fakeChecker{})
	g.Start(ctx)

	for pos := 0.0; pos <= 100.5; pos += 0.25 {
		g.OnTimeUpdate(ctx, pos)
	}
	assert.Equal(t, AtGate, g.State())
	assert.Less(t, player.position, 100.0)

	// The rewind's own seek event keeps the gate closed, and further ticks
	// do not re-prompt.
	assert.Equal(t, AtGate, g.OnSeek(ctx, player.position))
	g.OnTimeUpdate(ctx, 101)
	assert.Less(t, player.position, 100.0)
	assert.Equal(t, 1, prompt.shown)
}

func TestCheckerErrorFailsClosed(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{paid: true, err: errors.New("connection refused")}
	g, player, _ := newGate(120, checker)

	assert.Equal(t, BeforeClimax, g.Start(ctx))
	assert.Equal(t, AtGate, g.OnSeek(ctx, 150))
	assert.True(t, player.paused)
	assert.Equal(t, AtGate, g.Refresh(ctx))
}

func TestRefreshUnlocksAndResumes(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{}
	g, player, prompt := newGate(120, checker)
	g.Start(ctx)
	g.OnSeek(ctx, 150)

	checker.set(true, nil)
	assert.Equal(t, Unlocked, g.Refresh(ctx))
	assert.True(t, player.playing)
	assert.Equal(t, 1, prompt.hidden)

	assert.Equal(t, Unlocked, g.OnSeek(ctx, 190))
	assert.Equal(t, Unlocked, g.Refresh(ctx), "unlocked is terminal")
}

func TestFreeContentStartsUnlocked(t *testing.T) {
	checker := &fakeChecker{}
	player, prompt := &fakePlayer{}, &fakePrompt{}
	g := NewGate(Content{ID: "free", DurationSeconds: 60, ClimaxSeconds: 30}, "u1", player, checker, prompt, nil)

	assert.Equal(t, Unlocked, g.Start(context.Background()))
	assert.Equal(t, 0, checker.hits)
	assert.Equal(t, Unlocked, g.OnSeek(context.Background(), 59))
}

func TestPollStopsWhenUnlocked(t *testing.T) {
	checker := &fakeChecker{}
	g, _, _ := newGate(120, checker)
	g.Start(context.Background())

	go func() {
		time.Sleep(30 * time.Millisecond)
		checker.set(true, nil)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Equal(t, Unlocked, g.Poll(ctx, 5*time.Millisecond))
}

func TestAPICheckerFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("contentId") == "broken" {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"code":"OTT_UNAVAILABLE","message":"down"}}`)
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":{"paid":true}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	c.SetToken("tok")
	checker := APIChecker{Client: c}

	paid, err := checker.CheckUnlocked(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.True(t, paid)

	_, err = checker.CheckUnlocked(context.Background(), "u1", "broken")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "OTT_UNAVAILABLE", apiErr.Code)

	g, _, _ := newGate(120, APIChecker{Client: NewClient("http://127.0.0.1:1", 100*time.Millisecond)})
	assert.Equal(t, BeforeClimax, g.Start(context.Background()))
}

func TestAPICheckerAppliesItsOwnDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		fmt.Fprint(w, `{"data":{"paid":true}}`)
	}))
	defer srv.Close()
	defer close(release)

	checker := APIChecker{Client: NewClient(srv.URL, 10*time.Second), Timeout: 50 * time.Millisecond}
	start := time.Now()
	paid, err := checker.CheckUnlocked(context.Background(), "u1", "c1")
	require.Error(t, err)
	assert.False(t, paid)
	assert.Less(t, time.Since(start), 2*time.Second)

	g, player, _ := newGate(120, checker)
	g.Start(context.Background())
	g.OnSeek(context.Background(), 150)
	assert.Equal(t, AtGate, g.Refresh(context.Background()))
	assert.False(t, player.playing)
}
