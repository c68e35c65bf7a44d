package captcha

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/geo"
	"github.com/locplace/mapscan/internal/webhook"
)

// Mode selects how challenges are handled.
type Mode string

// Captcha modes.
const (
	ModeDisabled Mode = "disabled"
	ModeManual   Mode = "manual"
	ModeAuto     Mode = "auto"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode validates a captcha mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDisabled, ModeManual, ModeAuto, ModeHybrid:
		return m, nil
	case "":
		return ModeDisabled, nil
	}
	return "", fmt.Errorf("unknown captcha mode %q", s)
}

// Webhook status values.
const (
	StatusEncounter = "encounter"
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusError     = "error"
)

// Webhook mode values.
const (
	webhookManual   = "manual"
	webhookAuto     = "2captcha"
	webhookDisabled = "disabled"
)

// MaxTokens caps how many manual tokens one overseer cycle asks for.
const MaxTokens = 15

// TokenSource hands out manually supplied tokens. Tokens are consumed when
// read.
type TokenSource interface {
	ValidTokens(ctx context.Context, n int) ([]string, error)
}

// Verifier logs a held identity back in at coord and submits token.
type Verifier interface {
	Verify(ctx context.Context, id *account.Identity, coord geo.Coordinate, token string) (bool, error)
}

// Events receives captcha webhook messages.
type Events interface {
	Enqueue(kind webhook.Kind, payload map[string]any)
}

// Config holds captcha configuration.
type Config struct {
	Mode           Mode
	ManualTimeout  time.Duration // hybrid: hold time before an auto solver takes over
	StatusName     string
	Cycle          time.Duration
	LaunchSpacing  time.Duration
	MaxAutoSolvers int
}

// DefaultConfig returns the default captcha configuration.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeDisabled,
		Cycle:          15 * time.Second,
		LaunchSpacing:  time.Second,
		MaxAutoSolvers: 5,
	}
}

// Overseer periodically matches held identities with tokens and launches
// solvers for them.
type Overseer struct {
	config    Config
	holding   *Holding
	pool      Pool
	tokens    TokenSource
	requester TokenRequester
	verifier  Verifier
	events    Events
	log       *zap.SugaredLogger
	now       func() time.Time

	wg sync.WaitGroup
}

// NewOverseer creates an overseer. requester may be nil when no solver key
// is configured; events may be nil.
func NewOverseer(config Config, holding *Holding, pool Pool, tokens TokenSource, requester TokenRequester, verifier Verifier, events Events, logger *zap.SugaredLogger) *Overseer {
	def := DefaultConfig()
	if config.Cycle <= 0 {
		config.Cycle = def.Cycle
	}
	if config.LaunchSpacing <= 0 {
		config.LaunchSpacing = def.LaunchSpacing
	}
	if config.MaxAutoSolvers <= 0 {
		config.MaxAutoSolvers = def.MaxAutoSolvers
	}
	return &Overseer{
		config:    config,
		holding:   holding,
		pool:      pool,
		tokens:    tokens,
		requester: requester,
		verifier:  verifier,
		events:    events,
		log:       logger,
		now:       time.Now,
	}
}

// Run starts the overseer loop. It blocks until the context is canceled and
// running solvers have finished.
func (o *Overseer) Run(ctx context.Context) {
	o.log.Infof("Captcha overseer started: mode=%s, cycle=%s", o.config.Mode, o.config.Cycle)
	defer o.wg.Wait()

	for {
		wait := o.config.Cycle - time.Duration(o.cycle(ctx))*o.config.LaunchSpacing
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			o.log.Info("Captcha overseer stopped")
			return
		case <-time.After(wait):
		}
	}
}

// cycle runs one overseer pass and returns the number of manual-token
// solvers launched.
func (o *Overseer) cycle(ctx context.Context) int {
	needed := o.holding.Len()
	if needed == 0 {
		return 0
	}

	var tokens []string
	if o.tokens != nil {
		var err error
		tokens, err = o.tokens.ValidTokens(ctx, min(needed, MaxTokens))
		if err != nil {
			o.log.Errorf("Failed to load captcha tokens: %v", err)
			tokens = nil
		}
	}
	o.log.Debugf("Captcha overseer running. Captchas: %d - Tokens: %d", needed, len(tokens))

	limiter := rate.NewLimiter(rate.Every(o.config.LaunchSpacing), 1)
	launched := 0
	for _, token := range tokens {
		held, ok := o.holding.Pop()
		if !ok {
			break
		}
		if limiter.Wait(ctx) != nil {
			o.holding.Push(held)
			return launched
		}
		o.launch(ctx, held, token)
		launched++
	}

	if o.config.Mode == ModeHybrid && o.requester != nil && o.config.ManualTimeout > 0 {
		remaining := min(needed-len(tokens), o.config.MaxAutoSolvers)
		for i := 0; i < remaining; i++ {
			held, ok := o.holding.PopIfHeldLonger(o.config.ManualTimeout)
			if !ok {
				break
			}
			if limiter.Wait(ctx) != nil {
				o.holding.Push(held)
				break
			}
			o.launch(ctx, held, "")
		}
	}
	return launched
}

func (o *Overseer) launch(ctx context.Context, held Held, token string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.solve(ctx, held, token)
	}()
}

// solve verifies one held identity. An empty token means ask the automated
// solver for one.
func (o *Overseer) solve(ctx context.Context, held Held, token string) {
	id := held.ID
	o.log.Infof("Waking up account %s to verify captcha token", id.Username)

	mode := webhookManual
	if token == "" {
		mode = webhookAuto
		var err error
		token, err = o.requester.RequestToken(ctx, held.URL)
		if err != nil {
			o.log.Warnf("Unable to resolve captcha for %s, check the solver key and balance: %v", id.Username, err)
			o.holding.Push(held)
			o.notify(id, StatusError, mode, o.now().Sub(held.Since))
			return
		}
	}

	ok, err := o.verifier.Verify(ctx, id, held.Coord, token)
	elapsed := o.now().Sub(held.Since)
	switch {
	case err != nil:
		o.log.Warnf("Account %s could not verify challenge: %v", id.Username, err)
		o.holding.Push(held)
		o.notify(id, StatusError, mode, elapsed)
	case ok:
		o.log.Infof("Account %s successfully uncaptcha'd, returning to active duty", id.Username)
		o.pool.Return(id)
		o.notify(id, StatusSuccess, mode, elapsed)
	default:
		o.log.Warnf("Account %s failed verifyChallenge, putting back in captcha queue", id.Username)
		o.holding.Push(held)
		o.notify(id, StatusFailure, mode, elapsed)
	}
}

func (o *Overseer) notify(id *account.Identity, status, mode string, elapsed time.Duration) {
	if o.events == nil {
		return
	}
	o.events.Enqueue(webhook.KindCaptcha, Message(o.config.StatusName, status, mode, id.Username, o.pool.CaptchaCount(id), elapsed))
}

// Message builds a captcha webhook payload.
func Message(statusName, status, mode, username string, captchas int, elapsed time.Duration) map[string]any {
	return map[string]any{
		"status_name": statusName,
		"status":      status,
		"mode":        mode,
		"account":     username,
		"captcha":     captchas,
		"time":        int(elapsed.Seconds()),
	}
}
