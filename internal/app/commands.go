package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/dispatch"
	"schedbot/internal/jobs"
	"schedbot/internal/storage"
	"schedbot/internal/transport"
	"schedbot/pkg/logx"
)

const helpText = `schedbot commands:
/schedule <when> | <text>  schedule a persisted job (when: timestamp or cron pattern)
/timer <when> | <text>     schedule an in-memory timer (lost on restart)
/cancel <id> [reason]      cancel one job by id
/cancel user <name> [reason]  cancel all pending jobs for a user
/jobs                      list pending jobs`

// commandLoop consumes inbound chat messages and bridges slash commands onto
// the controller.
func (a *App) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-a.updates:
			if !ok {
				return
			}
			if reply := a.handleMessage(ctx, m); reply != "" {
				a.reply(ctx, m, reply)
			}
		}
	}
}

func (a *App) reply(ctx context.Context, m transport.Message, text string) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.adapter.SendText(sctx, transport.ChatTarget{ChatID: m.ChatID}, text, nil); err != nil {
		a.log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

func (a *App) handleMessage(ctx context.Context, m transport.Message) string {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	// strip @botname suffixes in groups
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/schedule":
		return a.cmdSchedule(ctx, m, rest, false)
	case "/timer":
		return a.cmdSchedule(ctx, m, rest, true)
	case "/cancel":
		return a.cmdCancel(ctx, rest)
	case "/jobs":
		return a.cmdJobs(ctx)
	case "/help", "/start":
		return helpText
	default:
		return ""
	}
}

// cmdSchedule parses "<when> | <text>". The pipe keeps cron patterns with
// spaces unambiguous.
func (a *App) cmdSchedule(ctx context.Context, m transport.Message, rest string, ephemeral bool) string {
	when, body, found := strings.Cut(rest, "|")
	if !found || strings.TrimSpace(when) == "" || strings.TrimSpace(body) == "" {
		return "usage: /schedule <when> | <text>"
	}
	when = strings.TrimSpace(when)
	body = strings.TrimSpace(body)
	command, _, _ := strings.Cut(body, " ")

	req := jobs.Request{
		When:    when,
		User:    userOf(m),
		Command: strings.TrimPrefix(command, "/"),
		Text:    body,
		Routing: dispatch.Routing{
			Channel:     strconv.FormatInt(m.ChatID, 10),
			PostingMode: storage.PostingBot,
		},
	}

	var (
		id  jobs.ID
		err error
	)
	if ephemeral {
		id, err = a.ctl.SetTimer(req)
	} else {
		id, err = a.ctl.ScheduleTask(ctx, req)
	}
	if err != nil {
		return "schedule failed: " + err.Error()
	}
	return fmt.Sprintf("scheduled %s for %s", id.Key(), when)
}

func (a *App) cmdCancel(ctx context.Context, rest string) string {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "usage: /cancel <id> [reason] or /cancel user <name> [reason]"
	}

	if fields[0] == "user" {
		if len(fields) < 2 {
			return "usage: /cancel user <name> [reason]"
		}
		reason := strings.Join(fields[2:], " ")
		if err := a.ctl.CancelWhere(ctx, jobs.Filter{User: fields[1]}, reason); err != nil {
			return "cancel failed: " + err.Error()
		}
		return "cancelled pending jobs for " + fields[1]
	}

	id, err := jobs.ParseKey(fields[0])
	if err != nil {
		return "bad job id: " + fields[0]
	}
	reason := strings.Join(fields[1:], " ")
	if err := a.ctl.CancelID(ctx, id, reason); err != nil {
		return "cancel failed: " + err.Error()
	}
	return "cancelled " + id.Key()
}

func (a *App) cmdJobs(ctx context.Context) string {
	recs, err := a.ctl.Pending(ctx)
	if err != nil {
		return "listing failed: " + err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d pending, %d live timers\n", len(recs), a.reg.Len())
	for _, rec := range recs {
		fmt.Fprintf(&b, "job:%d %s user=%s %s\n", rec.ID, rec.TimeSpec, rec.User, rec.Text)
	}

	counts := a.statCounts()
	if len(counts) > 0 {
		types := make([]string, 0, len(counts))
		for k := range counts {
			types = append(types, k)
		}
		sort.Strings(types)
		b.WriteString("events:")
		for _, k := range types {
			fmt.Fprintf(&b, " %s=%d", k, counts[k])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func userOf(m transport.Message) string {
	if m.FromUsername != "" {
		return m.FromUsername
	}
	return strconv.FormatInt(m.FromID, 10)
}
