package rpc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/locplace/mapscan/internal/account"
)

// Pause is a random sleep window.
type Pause struct {
	Min, Max time.Duration
}

// Step is one scripted call of the login sequence.
type Step struct {
	Name string
	// Needed decides whether the step runs; nil means always.
	Needed func(st *SequenceState) bool
	// Build produces the envelope. For paged steps it is called once per
	// page with the offset and timestamp of the previous page.
	Build  func(st *SequenceState, page PageResult) Request
	Handle func(st *SequenceState, resp *Response) error
	Before Pause
	After  Pause

	// Paged steps repeat while the result asks for another page. Every
	// fourth page sleeps LongPage instead of Page.
	Paged    bool
	Page     Pause
	LongPage Pause
	// Done runs after the last page.
	Done func(st *SequenceState)
}

// SequenceState is what the steps share while the sequence runs.
type SequenceState struct {
	ID             *account.Identity
	AssetTimeMs    int64
	TemplateTimeMs int64
	Log            *zap.SugaredLogger
}

// TailPause is the idle time after the last call of the sequence.
var TailPause = Pause{Min: 10 * time.Second, Max: 20 * time.Second}

// LoginSequence replays the calls a freshly started client makes, with
// human-like spacing.
type LoginSequence struct {
	Steps   []Step
	Tail    Pause
	Clock   Clock
	Retrier *Retrier
	Jitter  func(lo, hi time.Duration) time.Duration
	Log     *zap.SugaredLogger
}

// NewLoginSequence returns the standard login sequence.
func NewLoginSequence(clock Clock, retrier *Retrier, logger *zap.SugaredLogger) *LoginSequence {
	return &LoginSequence{
		Steps:   LoginSteps(),
		Tail:    TailPause,
		Clock:   clock,
		Retrier: retrier,
		Log:     logger,
	}
}

// Run plays every step against client and marks id warmed on success. Any
// failure is wrapped in ErrLoginSequence.
func (s *LoginSequence) Run(ctx context.Context, client Client, id *account.Identity) error {
	st := &SequenceState{ID: id, Log: s.Log}
	for _, step := range s.Steps {
		if step.Needed != nil && !step.Needed(st) {
			continue
		}
		if err := s.runStep(ctx, client, st, step); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrLoginSequence, step.Name, err)
		}
	}
	if err := s.sleep(ctx, s.Tail); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginSequence, err)
	}
	id.Warmed = true
	return nil
}

func (s *LoginSequence) runStep(ctx context.Context, client Client, st *SequenceState, step Step) error {
	if err := s.sleep(ctx, step.Before); err != nil {
		return err
	}
	if !step.Paged {
		resp, err := s.call(ctx, client, step.Build(st, PageResult{}))
		if err != nil {
			return err
		}
		if err := s.handle(st, step, resp); err != nil {
			return err
		}
		return s.sleep(ctx, step.After)
	}

	var page PageResult
	for n := 1; ; n++ {
		req := step.Build(st, page)
		resp, err := s.call(ctx, client, req)
		if err != nil {
			return err
		}
		if err := s.handle(st, step, resp); err != nil {
			return err
		}
		ok, err := resp.Decode(req.Calls[0].Method, &page)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: missing page result", ErrUnexpectedResponse)
		}

		pause := step.Page
		if n%4 == 0 {
			pause = step.LongPage
		}
		if err := s.sleep(ctx, pause); err != nil {
			return err
		}
		if page.Result != PageResultMore {
			break
		}
	}
	if step.Done != nil {
		step.Done(st)
	}
	return nil
}

func (s *LoginSequence) handle(st *SequenceState, step Step, resp *Response) error {
	if err := Absorb(st.ID, resp); err != nil {
		return err
	}
	if step.Handle != nil {
		return step.Handle(st, resp)
	}
	return nil
}

func (s *LoginSequence) call(ctx context.Context, client Client, req Request) (*Response, error) {
	var resp *Response
	fn := func(ctx context.Context) error {
		var err error
		resp, err = client.Call(ctx, req)
		return err
	}
	var err error
	if s.Retrier == nil {
		err = fn(ctx)
	} else {
		err = s.Retrier.Do(ctx, fn)
	}
	return resp, err
}

func (s *LoginSequence) sleep(ctx context.Context, p Pause) error {
	if p.Max <= 0 {
		return nil
	}
	jitter := s.Jitter
	if jitter == nil {
		jitter = Uniform
	}
	clock := s.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return clock.Sleep(ctx, jitter(p.Min, p.Max))
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func withBuddy(extra ...Method) []Method {
	out := append([]Method(nil), CommonCompanions...)
	out = append(out, MethodGetBuddyWalked)
	return append(out, extra...)
}

// LoginSteps returns the scripted calls of a fresh client start.
func LoginSteps() []Step {
	return []Step{
		{
			Name:  "empty request",
			Build: func(*SequenceState, PageResult) Request { return Request{} },
			After: Pause{ms(430), ms(970)},
		},
		{
			Name: "get player",
			Build: func(*SequenceState, PageResult) Request {
				return Request{Calls: []Call{{Method: MethodGetPlayer, Params: map[string]any{
					"player_locale": map[string]string{"country": "US", "language": "en", "timezone": "America/Denver"},
				}}}}
			},
			Handle: checkPlayer,
			After:  Pause{ms(530), ms(1100)},
		},
		{
			Name: "remote config version",
			Build: func(st *SequenceState, _ PageResult) Request {
				return NewRequest(st.ID, Call{Method: MethodRemoteConfigVersion, Params: map[string]any{
					"platform":    "IOS",
					"app_version": AppVersion,
				}}, CommonCompanions...)
			},
			Handle: recordRemoteConfig,
			After:  Pause{ms(530), ms(1100)},
		},
		{
			Name:   "asset digest",
			Needed: func(st *SequenceState) bool { return st.AssetTimeMs > st.ID.RemoteConfig.AssetTimeMs },
			Build: func(st *SequenceState, page PageResult) Request {
				return NewRequest(st.ID, pagedCall(MethodGetAssetDigest, page), CommonCompanions...)
			},
			Before:   Pause{ms(700), ms(1200)},
			Paged:    true,
			Page:     Pause{ms(300), ms(500)},
			LongPage: Pause{ms(1400), ms(1600)},
			Done:     func(st *SequenceState) { st.ID.RemoteConfig.AssetTimeMs = st.AssetTimeMs },
		},
		{
			Name:   "item templates",
			Needed: func(st *SequenceState) bool { return st.TemplateTimeMs > st.ID.RemoteConfig.TemplateTimeMs },
			Build: func(st *SequenceState, page PageResult) Request {
				return NewRequest(st.ID, pagedCall(MethodItemTemplates, page), CommonCompanions...)
			},
			Paged:    true,
			Page:     Pause{ms(250), ms(500)},
			LongPage: Pause{ms(1400), ms(1600)},
			Done:     func(st *SequenceState) { st.ID.RemoteConfig.TemplateTimeMs = st.TemplateTimeMs },
		},
		{
			Name: "player profile",
			Build: func(st *SequenceState, _ PageResult) Request {
				return NewRequest(st.ID, Call{Method: MethodGetPlayerProfile}, withBuddy()...)
			},
			After: Pause{ms(200), ms(300)},
		},
		{
			Name: "store items",
			Build: func(*SequenceState, PageResult) Request {
				return Request{Calls: []Call{{Method: MethodGetStoreItems}}}
			},
			After: Pause{ms(600), ms(1100)},
		},
		{
			Name: "level up rewards",
			Build: func(st *SequenceState, _ PageResult) Request {
				return NewRequest(st.ID, Call{Method: MethodLevelUpRewards, Params: map[string]any{"level": st.ID.Level}},
					withBuddy(MethodGetInbox)...)
			},
			After: Pause{ms(450), ms(700)},
		},
	}
}

// AppVersion is the client version presented to the remote service.
const AppVersion = 8300

func pagedCall(m Method, page PageResult) Call {
	return Call{Method: m, Params: map[string]any{
		"paginate":       true,
		"page_offset":    page.PageOffset,
		"page_timestamp": page.TimestampMs,
	}}
}

func checkPlayer(st *SequenceState, resp *Response) error {
	var player PlayerResult
	ok, err := resp.Decode(MethodGetPlayer, &player)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no player result", ErrUnexpectedResponse)
	}
	if player.Banned {
		return ErrBanned
	}
	if player.Warn {
		st.ID.Warned = true
		if st.Log != nil {
			st.Log.Warnf("Account %s has received a warning", st.ID.Username)
		}
	}
	return nil
}

func recordRemoteConfig(st *SequenceState, resp *Response) error {
	var rc RemoteConfigResult
	ok, err := resp.Decode(MethodRemoteConfigVersion, &rc)
	if err != nil {
		return err
	}
	if !ok || rc.AssetDigestTimestampMs == nil || rc.ItemTemplatesTimestampMs == nil {
		return fmt.Errorf("%w: remote config time is null", ErrUnexpectedResponse)
	}
	st.ID.RemoteConfig.Hash = rc.Hash
	st.AssetTimeMs = *rc.AssetDigestTimestampMs
	st.TemplateTimeMs = *rc.ItemTemplatesTimestampMs
	return nil
}
