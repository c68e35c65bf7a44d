package scanner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/account"
	"github.com/locplace/mapscan/internal/rpc"
)

// Pause after a fresh login before the first call.
const (
	postLoginMin = 2 * time.Second
	postLoginMax = 4 * time.Second
)

// retrier returns the transient-failure wrapper for calls made on behalf of
// id. Failures rotate the identity's proxy when rotation is configured.
func (s *Scanner) retrier(client rpc.Client, id *account.Identity, log *zap.SugaredLogger) *rpc.Retrier {
	return &rpc.Retrier{
		Retries: s.config.APIRetries,
		Clock:   s.rt.Clock,
		Rotate: func() {
			client.SetProxy(s.rt.Pool.AssignProxy(id, true))
		},
		Log: log,
	}
}

// checkLogin makes sure id holds a ticket valid for at least another
// minute, logging in with up to LoginRetries retries, and plays the login
// sequence after a fresh login. It reports whether a login happened.
func (s *Scanner) checkLogin(ctx context.Context, client rpc.Client, id *account.Identity, log *zap.SugaredLogger) (bool, error) {
	clock := s.rt.Clock
	if id.TicketValid(clock.Now()) {
		log.Debugf("Credentials of %s remain valid until %s", id.Username, id.TicketExpiry.Format(time.RFC3339))
		return false, nil
	}

	id.ResetSession()
	start := clock.Now()
	attempts := s.config.LoginRetries + 1
	for i := 1; ; i++ {
		expiry, err := client.Login(ctx)
		if err == nil {
			id.TicketExpiry = expiry
			break
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if i >= attempts {
			s.observeLogin(start, false)
			return false, fmt.Errorf("%w: %s: %w", ErrTooManyLoginAttempts, id.Username, err)
		}
		log.Errorf("Failed to login with account %s. Trying again in %s: %v", id.Username, s.config.LoginDelay, err)
		if err := clock.Sleep(ctx, s.config.LoginDelay); err != nil {
			return false, err
		}
	}
	log.Debugf("Login for account %s successful", id.Username)

	if err := clock.Sleep(ctx, rpc.Uniform(postLoginMin, postLoginMax)); err != nil {
		return true, err
	}

	if !id.Warmed {
		seq := rpc.NewLoginSequence(clock, s.retrier(client, id, log), log)
		if err := seq.Run(ctx, client, id); err != nil {
			s.observeLogin(start, false)
			return true, err
		}
	}
	s.observeLogin(start, true)
	return true, nil
}

func (s *Scanner) observeLogin(start time.Time, ok bool) {
	if s.metrics == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	s.metrics.LoginDuration.WithLabelValues(result).Observe(s.rt.Clock.Now().Sub(start).Seconds())
}
