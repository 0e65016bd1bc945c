// Package pipeline turns one inbound chat message into at most one outbound
// reply: session, AI reply, tool calls, follow-up reply and delivery.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/campusline/intake/internal/ai"
	"github.com/campusline/intake/internal/booking"
	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/idempotency"
	"github.com/campusline/intake/internal/metrics"
	"github.com/campusline/intake/internal/models"
	"github.com/campusline/intake/internal/notify"
	"github.com/campusline/intake/internal/session"
	"github.com/campusline/intake/internal/tools"
)

const (
	StatusSent          = "sent"
	StatusDuplicate     = "duplicate"
	StatusHandoffActive = "handoff_active"
	StatusAIDisabled    = "ai_disabled"
	StatusEmptyReply    = "empty_reply"
)

var (
	ErrChatNotFound         = errors.New("chat not found")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrMisconfigured        = errors.New("organization messaging not configured")
	ErrUpstream             = errors.New("ai engine failure")
)

type Inbound struct {
	ChatID    string
	Text      string
	MessageID string
}

type Result struct {
	Status    string `json:"status"`
	ChatID    string `json:"chat_id"`
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	ToolCalls int    `json:"tool_calls"`
	Handoff   bool   `json:"handoff"`
	// Redelivered is set when a retry resent a reply produced by an earlier
	// attempt whose delivery failed.
	Redelivered bool `json:"redelivered,omitempty"`
}

// undelivered is a reply whose tools already ran but whose send failed.
type undelivered struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Handoff   bool   `json:"handoff"`
	ToolCalls int    `json:"tool_calls"`
}

type Options struct {
	HandoffMessage string
	// RequireOrgCredentials makes a missing organization phone number id or
	// access token a configuration error. The WhatsApp gateway sends with the
	// organization's credentials; Twilio uses account-wide ones.
	RequireOrgCredentials bool
	DefaultTimezone       string
	// Locations is shared with other components; built from DefaultTimezone
	// when nil.
	Locations *booking.Locations
	// Model overrides the engine's model for tool follow-ups.
	Model string
}

type Pipeline struct {
	Repo     db.Repository
	Sessions *session.Manager
	Engine   ai.Engine
	Tools    *tools.Dispatcher
	Notifier *notify.Dispatcher
	Guard    idempotency.Guard
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Options  Options
}

func New(repo db.Repository, sessions *session.Manager, engine ai.Engine, dispatcher *tools.Dispatcher, notifier *notify.Dispatcher, guard idempotency.Guard, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Pipeline {
	if opts.Locations == nil {
		opts.Locations = booking.NewLocations(opts.DefaultTimezone, logger)
	}
	return &Pipeline{
		Repo:     repo,
		Sessions: sessions,
		Engine:   engine,
		Tools:    dispatcher,
		Notifier: notifier,
		Guard:    guard,
		Metrics:  m,
		Logger:   logger.With().Str("component", "pipeline").Logger(),
		Options:  opts,
	}
}

// Process handles one inbound message. Business outcomes come back as a
// Result; infrastructure failures come back as errors and release the
// idempotency claim so the webhook can retry.
func (p *Pipeline) Process(ctx context.Context, in Inbound) (res Result, err error) {
	res.ChatID = in.ChatID
	key := ""
	if in.MessageID != "" && p.Guard != nil {
		key = idempotency.InboundKey(in.ChatID, in.MessageID)
		ok, err := p.Guard.Claim(ctx, key)
		if err != nil {
			p.Metrics.RecordInbound("error")
			return res, err
		}
		if !ok {
			res.Status = StatusDuplicate
			p.Metrics.RecordInbound(res.Status)
			return res, nil
		}
	}

	res, err = p.process(ctx, in, key)
	if err != nil {
		p.Metrics.RecordInbound("error")
		p.Logger.Error().Err(err).Str("chat_id", in.ChatID).Msg("inbound processing failed")
		if key != "" {
			if rerr := p.Guard.Release(context.WithoutCancel(ctx), key); rerr != nil {
				p.Logger.Warn().Err(rerr).Str("key", key).Msg("release claim")
			}
		}
		return res, err
	}
	p.Metrics.RecordInbound(res.Status)
	if key != "" {
		if cerr := p.Guard.Complete(context.WithoutCancel(ctx), key); cerr != nil {
			p.Logger.Warn().Err(cerr).Str("key", key).Msg("complete claim")
		}
	}
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, in Inbound, key string) (Result, error) {
	res := Result{ChatID: in.ChatID}

	chat, err := p.Repo.GetChat(ctx, in.ChatID)
	if errors.Is(err, db.ErrNotFound) {
		return res, ErrChatNotFound
	}
	if err != nil {
		return res, fmt.Errorf("load chat: %w", err)
	}
	org, err := p.Repo.GetOrganization(ctx, chat.OrganizationID)
	if errors.Is(err, db.ErrNotFound) {
		return res, ErrOrganizationNotFound
	}
	if err != nil {
		return res, fmt.Errorf("load organization: %w", err)
	}
	if p.Options.RequireOrgCredentials && (org.WAPhoneNumberID == "" || org.WAAccessToken == "") {
		return res, fmt.Errorf("%w: %s", ErrMisconfigured, org.ID)
	}

	if key != "" {
		if pending, ok := p.stashed(ctx, key); ok {
			return p.redeliver(ctx, chat, org, pending)
		}
	}

	s, err := p.Sessions.EnsureActiveSession(ctx, chat, org.AITopic)
	switch {
	case errors.Is(err, session.ErrHandoffActive):
		res.Status = StatusHandoffActive
		return res, nil
	case errors.Is(err, session.ErrAIDisabled):
		res.Status = StatusAIDisabled
		res.SessionID = s.ID
		return res, nil
	case err != nil:
		return res, err
	}
	res.SessionID = s.ID

	sessionID := s.ID
	if _, err := p.Repo.InsertMessage(ctx, models.Message{
		OrganizationID: org.ID,
		ChatID:         chat.ID,
		SessionID:      &sessionID,
		Direction:      models.DirectionInbound,
		Body:           in.Text,
		ExternalID:     in.MessageID,
	}); err != nil {
		return res, fmt.Errorf("store inbound message: %w", err)
	}

	conversationID := ""
	if s.ConversationID != nil {
		conversationID = *s.ConversationID
	}
	rc := ai.ReplyContext{OrganizationID: org.ID, ChatID: chat.ID, SessionID: s.ID}

	started := time.Now()
	reply, err := p.Engine.GenerateReply(ctx, in.Text, conversationID, rc)
	p.Metrics.RecordAI("generate_reply", time.Since(started))
	if errors.Is(err, ai.ErrConversationNotFound) && conversationID != "" {
		s, err = p.Sessions.ResetConversation(ctx, chat, s, org.AITopic)
		if err != nil {
			return res, err
		}
		if s.ConversationID != nil {
			conversationID = *s.ConversationID
		}
		started = time.Now()
		reply, err = p.Engine.GenerateReply(ctx, in.Text, conversationID, rc)
		p.Metrics.RecordAI("generate_reply", time.Since(started))
	}
	if err != nil {
		return res, fmt.Errorf("%w: generate reply: %w", ErrUpstream, err)
	}

	text := reply.Text
	handoff := reply.HandoffRequested
	if len(reply.FunctionCalls) > 0 {
		scope := tools.Scope{
			OrganizationID: org.ID,
			ChatID:         chat.ID,
			WAChatID:       chat.WAChatID,
			WAID:           chat.WAChatID,
			Location:       p.Options.Locations.For(org.Timezone),
		}
		calls := make([]tools.Call, 0, len(reply.FunctionCalls))
		for _, fc := range reply.FunctionCalls {
			calls = append(calls, tools.Call{ID: fc.CallID, Name: fc.Name, Arguments: fc.Arguments})
		}
		outputs, toolHandoff := p.Tools.DispatchAll(ctx, scope, calls)
		res.ToolCalls = len(outputs)
		handoff = handoff || toolHandoff

		submitted := make([]ai.ToolOutput, 0, len(outputs))
		for _, o := range outputs {
			submitted = append(submitted, ai.ToolOutput{CallID: o.CallID, Output: o.JSON()})
		}
		started = time.Now()
		follow, err := p.Engine.SubmitToolOutputs(ctx, conversationID, submitted, p.Options.Model)
		p.Metrics.RecordAI("submit_tool_outputs", time.Since(started))
		if err != nil {
			return res, fmt.Errorf("%w: submit tool outputs: %w", ErrUpstream, err)
		}
		text = follow.Text
		handoff = handoff || follow.HandoffRequested
	}

	if handoff {
		text = p.Options.HandoffMessage
	}
	res.Handoff = handoff
	if strings.TrimSpace(text) == "" {
		res.Status = StatusEmptyReply
		return res, nil
	}

	msgID, err := p.deliver(ctx, chat, s, org, text, handoff)
	if err != nil {
		var se *notify.SendError
		if key != "" && res.ToolCalls > 0 && errors.As(err, &se) {
			p.stash(ctx, key, undelivered{SessionID: s.ID, Text: text, Handoff: handoff, ToolCalls: res.ToolCalls})
		}
		return res, err
	}
	res.Status = StatusSent
	res.MessageID = msgID
	return res, nil
}

// deliver sends the reply. Once the gateway has accepted it the turn counts
// as delivered: bookkeeping failures are logged and reported but not
// returned, so the claim completes and a retry never runs the tools again.
func (p *Pipeline) deliver(ctx context.Context, chat models.Chat, s models.ChatSession, org models.Organization, text string, handoff bool) (string, error) {
	msgID, err := p.Notifier.Send(ctx, chat, s, org, text, handoff)
	var re *notify.RecordError
	if errors.As(err, &re) {
		p.Logger.Error().Err(re.Err).
			Str("chat_id", chat.ID).
			Str("session_id", s.ID).
			Str("message_id", re.MessageID).
			Msg("reply delivered but not recorded")
		sentry.CaptureException(err)
		return re.MessageID, nil
	}
	return msgID, err
}

// stash keeps a reply whose tool calls already ran so the webhook retry
// resends it instead of running the tools again.
func (p *Pipeline) stash(ctx context.Context, key string, u undelivered) {
	b, err := json.Marshal(u)
	if err == nil {
		err = p.Guard.Stash(context.WithoutCancel(ctx), key, b)
	}
	if err != nil {
		p.Logger.Warn().Err(err).Str("key", key).Msg("stash undelivered reply")
	}
}

func (p *Pipeline) stashed(ctx context.Context, key string) (undelivered, bool) {
	var u undelivered
	b, ok, err := p.Guard.Stashed(ctx, key)
	if err != nil {
		p.Logger.Warn().Err(err).Str("key", key).Msg("read undelivered reply")
		return u, false
	}
	if !ok || json.Unmarshal(b, &u) != nil || u.Text == "" {
		return u, false
	}
	return u, true
}

func (p *Pipeline) redeliver(ctx context.Context, chat models.Chat, org models.Organization, u undelivered) (Result, error) {
	res := Result{ChatID: chat.ID, SessionID: u.SessionID, ToolCalls: u.ToolCalls, Handoff: u.Handoff, Redelivered: true}
	s, err := p.Repo.GetSession(ctx, u.SessionID)
	if err != nil {
		return res, fmt.Errorf("load session: %w", err)
	}
	msgID, err := p.deliver(ctx, chat, s, org, u.Text, u.Handoff)
	if err != nil {
		return res, err
	}
	p.Logger.Info().Str("chat_id", chat.ID).Msg("undelivered reply resent")
	res.Status = StatusSent
	res.MessageID = msgID
	return res, nil
}
