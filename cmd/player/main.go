// cmd/player/main.go
// Package main is a headless reference player. It plays a title on a
// simulated clock, enforces the climax gate, starts a purchase when the gate
// closes and waits for the unlock before playing on.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/reelgate/climaxpay-go/internal/model"
	"github.com/reelgate/climaxpay-go/internal/playback"
	"github.com/reelgate/climaxpay-go/internal/telemetry"
)

// simPlayer advances a virtual playhead while playing.
type simPlayer struct {
	position float64
	playing  bool
}

func (p *simPlayer) Pause() { p.playing = false }
func (p *simPlayer) Play()  { p.playing = true }

func (p *simPlayer) Seek(pos float64) { p.position = pos }

// consolePrompt prints the payment prompt instead of drawing it.
type consolePrompt struct {
	shown bool
}

func (c *consolePrompt) ShowPaymentPrompt(contentID string, price int64) {
	c.shown = true
	fmt.Printf(">> payment required to continue %s: %d\n", contentID, price)
}

func (c *consolePrompt) HidePaymentPrompt() {
	c.shown = false
	fmt.Println(">> payment confirmed, resuming")
}

func main() {
	var (
		apiURL      = flag.String("api", "http://localhost:8080", "paywall API base URL")
		email       = flag.String("email", "", "viewer email")
		password    = flag.String("password", "", "viewer password")
		contentID   = flag.String("content", "", "content id to play")
		gatewayName = flag.String("gateway", "razorpay", "payment gateway to use at the gate")
		seekTo      = flag.Float64("seek", -1, "seek to this position after the first tick")
		step        = flag.Float64("step", 1, "seconds of playback per tick")
		tick        = flag.Duration("tick", 50*time.Millisecond, "wall time per tick")
		pollEvery   = flag.Duration("poll", 3*time.Second, "unlock poll interval at the gate")
		checkWait   = flag.Duration("check-timeout", playback.DefaultCheckTimeout, "deadline for a single unlock check")
		waitFor     = flag.Duration("wait", 10*time.Minute, "how long to wait for payment at the gate")
	)
	flag.Parse()

	logger := telemetry.NewLogger(os.Stderr, os.Getenv("OTT_ENV"))
	slog.SetDefault(logger)

	if *contentID == "" || *email == "" {
		fmt.Fprintln(os.Stderr, "usage: player -email you@example.com -password ... -content <id>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := playback.NewClient(*apiURL, 10*time.Second)
	tok, err := client.Login(ctx, *email, *password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	info, err := client.Playback(ctx, *contentID)
	if err != nil {
		// No metadata means no gating parameters, so nothing is played.
		fmt.Fprintln(os.Stderr, "content unavailable")
		logger.Debug("playback lookup failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("playing %s from %s (climax at %.0fs of %.0fs)\n",
		info.ContentID, info.PlaybackURL, info.ClimaxTimestampSeconds, info.DurationSeconds)

	player := &simPlayer{playing: true}
	prompt := &consolePrompt{}
	gate := playback.NewGate(playback.Content{
		ID:              info.ContentID,
		DurationSeconds: info.DurationSeconds,
		ClimaxSeconds:   info.ClimaxTimestampSeconds,
		Price:           info.PremiumPrice,
	}, tok.User.ID, player, playback.APIChecker{Client: client, Timeout: *checkWait}, prompt, logger)
	gate.Start(ctx)

	if err := run(ctx, client, gate, player, info, runOptions{
		userID:  tok.User.ID,
		gateway: *gatewayName,
		seekTo:  *seekTo,
		step:    *step,
		tick:    *tick,
		poll:    *pollEvery,
		wait:    *waitFor,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "playback stopped: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("playback finished")
}

type runOptions struct {
	userID  string
	gateway string
	seekTo  float64
	step    float64
	tick    time.Duration
	poll    time.Duration
	wait    time.Duration
}

func run(ctx context.Context, client *playback.Client, gate *playback.Gate, player *simPlayer, info *model.PlaybackInfo, opts runOptions) error {
	ticker := time.NewTicker(opts.tick)
	defer ticker.Stop()

	seeked := opts.seekTo < 0
	purchased := false
	for player.position < info.DurationSeconds {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if !seeked {
			seeked = true
			player.Seek(opts.seekTo)
			gate.OnSeek(ctx, opts.seekTo)
			continue
		}
		if player.playing {
			player.position += opts.step
		}
		if gate.OnTimeUpdate(ctx, player.position) != playback.AtGate {
			continue
		}

		if !purchased {
			if err := purchase(ctx, client, info.ContentID, info.PremiumPrice, opts); err != nil {
				return err
			}
			purchased = true
		}
		waitCtx, cancel := context.WithTimeout(ctx, opts.wait)
		st := gate.Poll(waitCtx, opts.poll)
		cancel()
		if st != playback.Unlocked {
			return errors.New("payment not confirmed")
		}
	}
	return nil
}

// purchase starts a payment and prints how to complete it.
func purchase(ctx context.Context, client *playback.Client, contentID string, price int64, opts runOptions) error {
	resp, err := client.Initiate(ctx, model.InitiateRequest{
		UserID:    opts.userID,
		ContentID: contentID,
		Amount:    price,
		Gateway:   opts.gateway,
	})
	if err != nil {
		var apiErr *playback.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "OTT_CONFLICT" {
			fmt.Println(">> a payment is already in progress, waiting for it")
			return nil
		}
		return fmt.Errorf("initiate payment: %w", err)
	}
	if resp.AlreadyPaid {
		fmt.Println(">> already paid")
		return nil
	}

	fmt.Printf(">> transaction %s via %s\n", resp.TransactionID, resp.Gateway)
	if resp.RedirectURL != "" {
		fmt.Printf(">> complete the payment at %s\n", resp.RedirectURL)
	}
	if resp.SessionToken != "" {
		fmt.Printf(">> checkout session %s (key %s)\n", resp.SessionToken, resp.KeyID)
	}
	if len(resp.FormFields) > 0 {
		keys := make([]string, 0, len(resp.FormFields))
		for k := range resp.FormFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println(">> post these fields to the checkout page:")
		for _, k := range keys {
			fmt.Printf("   %s=%s\n", k, resp.FormFields[k])
		}
	}
	return nil
}
