// Package playback holds the client-side climax gate. The gate watches the
// playback position and refuses to let it reach the climax until the viewer
// has a confirmed payment. Every failed unlock check leaves the gate locked.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the gate's position in the unlock flow.
type State int

const (
	BeforeClimax State = iota
	AtGate
	Unlocked
)

func (s State) String() string {
	switch s {
	case BeforeClimax:
		return "before_climax"
	case AtGate:
		return "at_gate"
	case Unlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// rewindMargin keeps the rewound position strictly before the climax.
const rewindMargin = 1.0

// Player is the video element the gate controls.
type Player interface {
	Pause()
	Play()
	Seek(position float64)
}

// UnlockChecker answers whether a viewer has paid for a title.
type UnlockChecker interface {
	CheckUnlocked(ctx context.Context, userID, contentID string) (bool, error)
}

// Prompter shows and hides the payment prompt.
type Prompter interface {
	ShowPaymentPrompt(contentID string, price int64)
	HidePaymentPrompt()
}

// Content is what the gate needs to know about a title.
type Content struct {
	ID              string
	DurationSeconds float64
	ClimaxSeconds   float64
	Price           int64
}

// Free reports whether the title is never gated.
func (c Content) Free() bool { return c.Price == 0 || c.ClimaxSeconds >= c.DurationSeconds }

type Gate struct {
	content Content
	userID  string
	player  Player
	checker UnlockChecker
	prompt  Prompter
	logger  *slog.Logger

	mu        sync.Mutex
	state     State
	lastValid float64
}

// NewGate builds a locked gate. Call Start before playback begins.
func NewGate(content Content, userID string, player Player, checker UnlockChecker, prompt Prompter, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		content: content,
		userID:  userID,
		player:  player,
		checker: checker,
		prompt:  prompt,
		logger:  logger.With("content_id", content.ID),
		state:   BeforeClimax,
	}
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Start runs the initial unlock check. Free titles unlock without a check.
func (g *Gate) Start(ctx context.Context) State {
	if g.content.Free() {
		g.mu.Lock()
		g.state = Unlocked
		g.mu.Unlock()
		return Unlocked
	}
	if g.check(ctx) {
		g.mu.Lock()
		g.state = Unlocked
		g.mu.Unlock()
		return Unlocked
	}
	return g.State()
}

// OnTimeUpdate is called as playback advances.
func (g *Gate) OnTimeUpdate(ctx context.Context, position float64) State {
	return g.enforce(position)
}

// OnSeek is called when the viewer jumps. Seeking past the climax is held to
// the same rule as playing into it.
func (g *Gate) OnSeek(ctx context.Context, position float64) State {
	return g.enforce(position)
}

func (g *Gate) enforce(position float64) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Unlocked {
		g.lastValid = position
		return g.state
	}
	if position < g.content.ClimaxSeconds {
		// The prompt stays up at the gate; only a successful Refresh clears it.
		g.lastValid = position
		return g.state
	}

	rewind := g.lastValid
	if limit := g.content.ClimaxSeconds - rewindMargin; rewind > limit {
		rewind = limit
	}
	if rewind < 0 {
		rewind = 0
	}
	g.player.Pause()
	g.player.Seek(rewind)
	g.lastValid = rewind
	if g.state != AtGate {
		g.state = AtGate
		g.prompt.ShowPaymentPrompt(g.content.ID, g.content.Price)
		g.logger.Info("climax gate reached", "position", position, "rewound_to", rewind)
	}
	return g.state
}

// Refresh re-runs the unlock check. It is the retry path after a payment or
// after a failed check. Unlocked is terminal.
func (g *Gate) Refresh(ctx context.Context) State {
	if g.State() == Unlocked {
		return Unlocked
	}
	if !g.check(ctx) {
		return g.State()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	wasGated := g.state == AtGate
	g.state = Unlocked
	if wasGated {
		g.prompt.HidePaymentPrompt()
		g.player.Play()
	}
	g.logger.Info("content unlocked")
	return g.state
}

// Poll calls Refresh every interval until the gate unlocks or ctx ends.
func (g *Gate) Poll(ctx context.Context, interval time.Duration) State {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if st := g.Refresh(ctx); st == Unlocked {
			return st
		}
		select {
		case <-ctx.Done():
			return g.State()
		case <-ticker.C:
		}
	}
}

func (g *Gate) check(ctx context.Context) bool {
	paid, err := g.checker.CheckUnlocked(ctx, g.userID, g.content.ID)
	if err != nil {
		g.logger.Warn("unlock check failed, staying locked", "error", err)
		return false
	}
	return paid
}
