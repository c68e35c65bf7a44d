package captcha

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/rpc"
	"github.com/locplace/mapscan/internal/webhook"
)

// Decision is what a worker does with an identity after a challenge.
type Decision int

// Handler decisions.
const (
	// Solved: the challenge was verified inline, keep scanning.
	Solved Decision = iota
	// Hold: park the identity in the holding area.
	Hold
	// Cooldown: inline solving failed, rest the identity.
	Cooldown
)

// Handler makes the inline decision when a worker is served a challenge.
type Handler struct {
	config    Config
	requester TokenRequester
	pool      Pool
	events    Events
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewHandler creates a handler. requester is required for ModeAuto.
func NewHandler(config Config, requester TokenRequester, pool Pool, events Events, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		config:    config,
		requester: requester,
		pool:      pool,
		events:    events,
		log:       logger,
		now:       time.Now,
	}
}

// Mode returns the configured mode.
func (h *Handler) Mode() Mode { return h.config.Mode }

// Handle decides what happens to id, whose ChallengeURL is set. In auto mode
// it solves the challenge through client before returning.
func (h *Handler) Handle(ctx context.Context, client rpc.Client, id *account.Identity) Decision {
	// The pool counts the challenge on release; count it here for messages.
	captchas := h.pool.CaptchaCount(id) + 1

	switch {
	case h.config.Mode == ModeDisabled:
		h.log.Warnf("Account %s has encountered a captcha. Putting account away", id.Username)
		h.notify(StatusEncounter, webhookDisabled, id.Username, captchas, 0)
		return Hold

	case h.config.Mode == ModeAuto && h.requester != nil:
		return h.solveInline(ctx, client, id, captchas)

	default:
		h.log.Warnf("Account %s has encountered a captcha. Waiting for token", id.Username)
		h.notify(StatusEncounter, webhookManual, id.Username, captchas, h.config.ManualTimeout)
		return Hold
	}
}

func (h *Handler) solveInline(ctx context.Context, client rpc.Client, id *account.Identity, captchas int) Decision {
	h.log.Warnf("Account %s is encountering a captcha, starting 2captcha sequence", id.Username)
	h.notify(StatusEncounter, webhookAuto, id.Username, captchas, 0)

	start := h.now()
	token, err := h.requester.RequestToken(ctx, id.ChallengeURL)
	if err != nil {
		h.log.Warnf("Unable to resolve captcha, please check your 2captcha API key and/or wallet balance: %v", err)
		h.notify(StatusError, webhookAuto, id.Username, captchas, h.now().Sub(start))
		return Cooldown
	}

	h.log.Infof("Retrieved captcha token, attempting to verify challenge for %s", id.Username)
	ok, err := VerifyChallenge(ctx, client, token)
	elapsed := h.now().Sub(start)
	if err != nil || !ok {
		h.log.Infof("Account %s failed verifyChallenge, putting away account for now", id.Username)
		h.notify(StatusFailure, webhookAuto, id.Username, captchas, elapsed)
		return Cooldown
	}

	h.log.Infof("Account %s successfully uncaptcha'd", id.Username)
	id.ChallengeURL = ""
	h.notify(StatusSuccess, webhookAuto, id.Username, captchas, elapsed)
	return Solved
}

func (h *Handler) notify(status, mode, username string, captchas int, elapsed time.Duration) {
	if h.events == nil {
		return
	}
	h.events.Enqueue(webhook.KindCaptcha, Message(h.config.StatusName, status, mode, username, captchas, elapsed))
}

// VerifyChallenge submits token for the challenge the session was served.
func VerifyChallenge(ctx context.Context, client rpc.Client, token string) (bool, error) {
	resp, err := client.Call(ctx, rpc.Request{Calls: []rpc.Call{{
		Method: rpc.MethodVerifyChallenge,
		Params: map[string]any{"token": token},
	}}})
	if err != nil {
		return false, err
	}
	var result rpc.VerifyChallengeResult
	ok, err := resp.Decode(rpc.MethodVerifyChallenge, &result)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: no verify challenge result", rpc.ErrUnexpectedResponse)
	}
	return result.Success, nil
}
