package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	api2captcha "github.com/2captcha/2captcha-go"
	"go.uber.org/zap"
)

// ErrSolver means the solving service refused or failed the job.
var ErrSolver = errors.New("captcha solver error")

// TokenRequester obtains a challenge token from an automated service.
type TokenRequester interface {
	RequestToken(ctx context.Context, pageURL string) (string, error)
}

// TwoCaptcha requests recaptcha tokens from 2captcha.
type TwoCaptcha struct {
	Key          string
	SiteKey      string
	BaseURL      string
	PollInterval time.Duration // rounded down to whole seconds
	Log          *zap.SugaredLogger
}

// NewTwoCaptcha creates a client with the default endpoint.
func NewTwoCaptcha(key, siteKey string, logger *zap.SugaredLogger) *TwoCaptcha {
	return &TwoCaptcha{
		Key:          key,
		SiteKey:      siteKey,
		BaseURL:      "https://2captcha.com/",
		PollInterval: 5 * time.Second,
		Log:          logger,
	}
}

// RequestToken submits the challenge page and waits until a token is ready
// or ctx ends.
func (c *TwoCaptcha) RequestToken(ctx context.Context, pageURL string) (string, error) {
	client, err := c.client()
	if err != nil {
		return "", err
	}
	recaptcha := api2captcha.ReCaptcha{SiteKey: c.SiteKey, Url: pageURL}
	req := recaptcha.ToRequest()

	type result struct {
		token string
		err   error
	}
	// The SDK blocks without a context; an abandoned solve finishes in the
	// background.
	done := make(chan result, 1)
	go func() {
		token, err := client.Solve(req)
		done <- result{token, err}
	}()

	c.Log.Debugf("Submitted captcha for %s", pageURL)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("%w: %v", ErrSolver, r.err)
		}
		if r.token == "" {
			return "", fmt.Errorf("%w: empty token", ErrSolver)
		}
		return r.token, nil
	}
}

func (c *TwoCaptcha) client() (*api2captcha.Client, error) {
	base := c.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse captcha API base %q: %w", c.BaseURL, err)
	}
	client := api2captcha.NewClient(c.Key)
	client.BaseURL = u
	client.PollingInterval = int(c.PollInterval / time.Second)
	return client, nil
}
