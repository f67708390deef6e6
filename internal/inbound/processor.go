// Package inbound applies normalized webhook batches: messages, reactions and
// delivery receipts, plus the side effects of newly stored messages.
package inbound

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/memohai/wadesk/internal/conversation"
	"github.com/memohai/wadesk/internal/message"
	"github.com/memohai/wadesk/internal/metrics"
	"github.com/memohai/wadesk/internal/whatsapp"
)

type Conversations interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	TouchInbound(ctx context.Context, id, displayName string, at time.Time) (conversation.Conversation, error)
}

type Assigner interface {
	Assign(ctx context.Context, conversationID string) (string, bool, error)
}

// Processor implements whatsapp.BatchProcessor. Each item is applied on its
// own; a failure is logged and the rest of the batch continues.
type Processor struct {
	messages      message.Writer
	conversations Conversations
	assigner      Assigner
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewProcessor(log *slog.Logger, messages message.Writer, conversations Conversations, assigner Assigner, m *metrics.Metrics) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		messages:      messages,
		conversations: conversations,
		assigner:      assigner,
		metrics:       m,
		logger:        log.With(slog.String("service", "inbound")),
	}
}

func (p *Processor) Process(ctx context.Context, batch whatsapp.Batch) {
	for _, in := range batch.Messages {
		p.processMessage(ctx, in)
	}
	for _, r := range batch.Reactions {
		p.processReaction(ctx, r)
	}
	for _, s := range batch.Statuses {
		p.processStatus(ctx, s)
	}
	for _, f := range batch.Failures {
		attrs := []any{
			slog.String("conversation_id", f.ConversationID),
			slog.String("message_id", f.ProviderMessageID),
			slog.String("status", f.Status),
		}
		for _, e := range f.Errors {
			attrs = append(attrs, slog.Group("provider_error", slog.Int("code", e.Code), slog.String("title", e.Title)))
		}
		p.metrics.StatusApplied(f.Status, "not_stored")
		p.logger.Warn("provider reported undeliverable message", attrs...)
	}
}

func (p *Processor) processMessage(ctx context.Context, in message.InboundInput) {
	log := p.logger.With(
		slog.String("conversation_id", in.ConversationID),
		slog.String("message_id", in.ProviderMessageID),
	)
	contentType := "unknown"
	if in.Content != nil {
		contentType = string(in.Content.Type())
	}

	msg, created, err := p.messages.Ingest(ctx, in)
	if err != nil {
		p.metrics.MessageIngested(contentType, "error")
		log.Error("ingest message failed", slog.Any("error", err))
		return
	}
	if !created {
		p.metrics.MessageIngested(contentType, "duplicate")
		// A redelivery repairs a conversation row lost to an earlier touch
		// failure. An existing row means the side effects already ran.
		if _, err := p.conversations.Get(ctx, in.ConversationID); !errors.Is(err, conversation.ErrNotFound) {
			if err != nil {
				log.Error("load conversation failed", slog.Any("error", err))
			}
			log.Debug("duplicate message ignored")
			return
		}
		log.Warn("conversation missing for stored message, replaying side effects")
	} else {
		p.metrics.MessageIngested(contentType, "created")
	}
	p.applySideEffects(ctx, log, in, msg)
}

// applySideEffects touches the conversation (unread++) and routes it to an
// agent when it has no owner yet.
func (p *Processor) applySideEffects(ctx context.Context, log *slog.Logger, in message.InboundInput, msg message.Message) {
	conv, err := p.conversations.TouchInbound(ctx, in.ConversationID, in.SenderDisplayName, msg.OccurredAt)
	if err != nil {
		log.Error("touch conversation failed", slog.Any("error", err))
		return
	}
	if conv.Assigned() || p.assigner == nil {
		return
	}
	if _, _, err := p.assigner.Assign(ctx, conv.ID); err != nil {
		log.Error("assign conversation failed", slog.Any("error", err))
	}
}

func (p *Processor) processReaction(ctx context.Context, r message.ReactionInput) {
	_, changed, err := p.messages.ApplyReaction(ctx, r)
	if err != nil {
		p.metrics.ReactionApplied(string(r.Direction), "error")
		p.logger.Error("apply reaction failed",
			slog.String("conversation_id", r.ConversationID),
			slog.String("target_id", r.TargetID),
			slog.Any("error", err),
		)
		return
	}
	if changed {
		p.metrics.ReactionApplied(string(r.Direction), "applied")
	} else {
		p.metrics.ReactionApplied(string(r.Direction), "unchanged")
	}
}

func (p *Processor) processStatus(ctx context.Context, s message.StatusInput) {
	_, changed, err := p.messages.ApplyStatus(ctx, s)
	if err != nil {
		p.metrics.StatusApplied(string(s.Status), "error")
		p.logger.Error("apply status failed",
			slog.String("conversation_id", s.ConversationID),
			slog.String("message_id", s.ProviderMessageID),
			slog.Any("error", err),
		)
		return
	}
	if changed {
		p.metrics.StatusApplied(string(s.Status), "applied")
	} else {
		p.metrics.StatusApplied(string(s.Status), "unchanged")
	}
}
