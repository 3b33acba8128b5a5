// Package dispatch delivers a fired job's side effect: re-emitting a slash
// command into a channel or invoking a named action.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

// Routing tells the dispatcher where a job's output goes.
type Routing struct {
	Channel     string   // channel identifier
	Users       []string // additional participants
	PostingMode string   // storage.PostingBot or storage.PostingUser
	Session     string   // optional topic thread within the channel
}

// Dispatcher is the external collaborator invoked when a job fires.
// Both calls are I/O-bound and may fail; the job controller converts
// failures into the record's failure state.
type Dispatcher interface {
	EmitCommand(ctx context.Context, user, command, text string, r Routing) error
	EmitAction(ctx context.Context, user, command, action string, args map[string]any, r Routing) error
}

// Sender dispatches over a chat transport, rate limited so a burst of
// simultaneously firing jobs cannot flood the platform.
type Sender struct {
	ad  transport.Adapter
	log logx.Logger
	lim *rate.Limiter
}

// NewSender builds a transport-backed dispatcher. ratePerSec bounds outgoing
// messages; values <= 0 default to 5/s.
func NewSender(ad transport.Adapter, ratePerSec int, log logx.Logger) *Sender {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		ad:  ad,
		log: log,
		lim: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

func (s *Sender) EmitCommand(ctx context.Context, user, command, text string, r Routing) error {
	body := strings.TrimSpace(text)
	if body == "" && command != "" {
		body = "/" + command
	}
	return s.send(ctx, user, body, r)
}

func (s *Sender) EmitAction(ctx context.Context, user, command, action string, args map[string]any, r Routing) error {
	var b strings.Builder
	b.WriteString(action)
	if command != "" {
		fmt.Fprintf(&b, " (%s)", command)
	}
	if len(args) > 0 {
		enc, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("dispatch: encode args: %w", err)
		}
		b.WriteString(" ")
		b.Write(enc)
	}
	return s.send(ctx, user, b.String(), r)
}

func (s *Sender) send(ctx context.Context, user, body string, r Routing) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(r.Channel), 10, 64)
	if err != nil {
		return fmt.Errorf("dispatch: bad channel %q: %w", r.Channel, err)
	}
	if err := s.lim.Wait(ctx); err != nil {
		return err
	}

	// Telegram cannot impersonate operators, so operator-attributed posts
	// carry an explicit byline instead.
	if r.PostingMode == "user" && user != "" {
		body = fmt.Sprintf("%s (via %s)", body, user)
	}
	if len(r.Users) > 0 {
		body = strings.Join(prefixAll(r.Users, "@"), " ") + "\n" + body
	}

	var opt *transport.SendOptions
	if sess := strings.TrimSpace(r.Session); sess != "" {
		tid, err := strconv.Atoi(sess)
		if err != nil {
			return fmt.Errorf("dispatch: bad session %q: %w", r.Session, err)
		}
		opt = &transport.SendOptions{ThreadID: tid}
	}

	err = s.ad.SendText(ctx, transport.ChatTarget{ChatID: chatID}, body, opt)
	if err != nil {
		return err
	}
	s.log.Debug("dispatched", logx.String("channel", r.Channel), logx.String("user", user))
	return nil
}

func prefixAll(in []string, prefix string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = prefix + strings.TrimPrefix(v, prefix)
	}
	return out
}
