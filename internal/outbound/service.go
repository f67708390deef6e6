// Package outbound sends agent replies through the provider and records them
// locally once the provider has assigned a message id.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/memohai/wadesk/internal/config"
	"github.com/memohai/wadesk/internal/conversation"
	"github.com/memohai/wadesk/internal/media"
	"github.com/memohai/wadesk/internal/message"
	"github.com/memohai/wadesk/internal/metrics"
	"github.com/memohai/wadesk/internal/whatsapp"
)

// ErrInvalidInput is returned for empty or oversized send requests.
var ErrInvalidInput = errors.New("invalid send request")

// MaxTextRunes is the provider limit for a text body.
const MaxTextRunes = 4096

// Client is the provider surface used for sending.
type Client interface {
	Configured() bool
	PhoneNumberID() string
	SendMessage(ctx context.Context, msg whatsapp.OutgoingMessage) (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, file media.LocalFile) (media.Uploaded, error)
}

type Conversations interface {
	TouchOutbound(ctx context.Context, id string, at time.Time) (conversation.Conversation, error)
}

type SendTextInput struct {
	ConversationID string
	Text           string
	QuotedID       string
}

type SendMediaInput struct {
	ConversationID string
	Files          []media.LocalFile
	Caption        string
	QuotedID       string
}

type SendReactionInput struct {
	ConversationID string
	TargetID       string
	// Emoji empty removes our reaction.
	Emoji string
}

type Service struct {
	client        Client
	uploader      Uploader
	messages      message.Writer
	conversations Conversations
	pool          *semaphore.Weighted
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(log *slog.Logger, cfg config.OutboundConfig, client Client, uploader Uploader, messages message.Writer, conversations Conversations, m *metrics.Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		client:        client,
		uploader:      uploader,
		messages:      messages,
		conversations: conversations,
		pool:          semaphore.NewWeighted(int64(workers)),
		metrics:       m,
		logger:        log.With(slog.String("service", "outbound")),
		now:           time.Now,
	}
}

// SendText sends a text reply and returns the stored message.
func (s *Service) SendText(ctx context.Context, in SendTextInput) (message.Message, error) {
	phone, err := s.recipient(in.ConversationID)
	if err != nil {
		return message.Message{}, err
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return message.Message{}, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > MaxTextRunes {
		return message.Message{}, fmt.Errorf("%w: text exceeds %d characters", ErrInvalidInput, MaxTextRunes)
	}
	quotedID := strings.TrimSpace(in.QuotedID)

	id, err := s.send(ctx, "text", whatsapp.TextMessage(phone, text, quotedID))
	if err != nil {
		return message.Message{}, err
	}
	return s.record(ctx, in.ConversationID, id, message.Text{Body: text}, quotedID), nil
}

// SendMedia uploads and sends each file in order. Only the first file
// carries the caption and the quote. On failure the messages already sent
// are returned with the error.
func (s *Service) SendMedia(ctx context.Context, in SendMediaInput) ([]message.Message, error) {
	phone, err := s.recipient(in.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(in.Files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", ErrInvalidInput)
	}
	for _, f := range in.Files {
		if strings.TrimSpace(f.Path) == "" {
			return nil, fmt.Errorf("%w: file path is required", ErrInvalidInput)
		}
	}

	sent := make([]message.Message, 0, len(in.Files))
	caption := strings.TrimSpace(in.Caption)
	quotedID := strings.TrimSpace(in.QuotedID)
	for i, file := range in.Files {
		if i > 0 {
			caption, quotedID = "", ""
		}
		uploaded, err := s.upload(ctx, file)
		if err != nil {
			return sent, err
		}
		content, outgoing := mediaContent(uploaded, caption)
		id, err := s.send(ctx, string(uploaded.Kind), whatsapp.MediaMessage(phone, string(uploaded.Kind), outgoing, quotedID))
		if err != nil {
			return sent, err
		}
		sent = append(sent, s.record(ctx, in.ConversationID, id, content, quotedID))
	}
	return sent, nil
}

// SendReaction reacts to a message in the conversation and folds the
// reaction into the local copy.
func (s *Service) SendReaction(ctx context.Context, in SendReactionInput) error {
	phone, err := s.recipient(in.ConversationID)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(in.TargetID)
	if target == "" {
		return fmt.Errorf("%w: target message id is required", ErrInvalidInput)
	}
	emoji := strings.TrimSpace(in.Emoji)

	if _, err := s.send(ctx, "reaction", whatsapp.ReactionMessage(phone, target, emoji)); err != nil {
		return err
	}
	_, _, err = s.messages.ApplyReaction(ctx, message.ReactionInput{
		ConversationID: in.ConversationID,
		TargetID:       target,
		Emoji:          emoji,
		Direction:      message.DirectionOutbound,
		By:             s.client.PhoneNumberID(),
		OccurredAt:     s.now(),
	})
	if err != nil {
		s.logger.Error("record reaction failed",
			slog.String("conversation_id", in.ConversationID),
			slog.String("target_id", target),
			slog.Any("error", err),
		)
	}
	return nil
}

func (s *Service) recipient(conversationID string) (string, error) {
	if s.client == nil || !s.client.Configured() {
		return "", whatsapp.ErrNotConfigured
	}
	return whatsapp.PhoneFromConversationID(conversationID)
}

// acquire takes a worker slot. Giving up while waiting is reported as a
// transient failure since nothing reached the provider.
func (s *Service) acquire(ctx context.Context) error {
	if err := s.pool.Acquire(ctx, 1); err != nil {
		return &whatsapp.SendError{Kind: whatsapp.ErrTransientSend, Message: "no outbound worker available", Err: err}
	}
	return nil
}

func (s *Service) send(ctx context.Context, kind string, msg whatsapp.OutgoingMessage) (string, error) {
	if err := s.acquire(ctx); err != nil {
		s.metrics.OutboundSend(kind, resultLabel(err))
		return "", err
	}
	defer s.pool.Release(1)

	id, err := s.client.SendMessage(ctx, msg)
	s.metrics.OutboundSend(kind, resultLabel(err))
	if err != nil {
		s.logger.Warn("send failed", slog.String("kind", kind), slog.Any("error", err))
		return "", err
	}
	return id, nil
}

func (s *Service) upload(ctx context.Context, file media.LocalFile) (media.Uploaded, error) {
	if err := s.acquire(ctx); err != nil {
		s.metrics.OutboundSend("upload", resultLabel(err))
		return media.Uploaded{}, err
	}
	defer s.pool.Release(1)

	uploaded, err := s.uploader.Upload(ctx, file)
	if err != nil {
		s.metrics.OutboundSend("upload", resultLabel(err))
		return media.Uploaded{}, err
	}
	s.metrics.OutboundSend("upload", "ok")
	return uploaded, nil
}

// record stores an accepted send optimistically as sent and touches the
// conversation. Local failures are logged only.
func (s *Service) record(ctx context.Context, conversationID, providerID string, content message.Content, quotedID string) message.Message {
	now := s.now()
	msg, _, err := s.messages.RecordOutbound(ctx, message.OutboundInput{
		ConversationID:    conversationID,
		ProviderMessageID: providerID,
		Content:           content,
		QuotedID:          quotedID,
		OccurredAt:        now,
	})
	if err != nil {
		// The provider already accepted the message. Failing here would make
		// the caller resend it, so answer with what was sent and let a later
		// status receipt create the row.
		s.logger.Error("record outbound message failed",
			slog.String("conversation_id", conversationID),
			slog.String("message_id", providerID),
			slog.Any("error", err),
		)
		msg = unrecorded(conversationID, providerID, content, quotedID, now)
	}
	if _, err := s.conversations.TouchOutbound(ctx, conversationID, now); err != nil {
		s.logger.Error("touch conversation failed",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
	}
	return msg
}

func unrecorded(conversationID, providerID string, content message.Content, quotedID string, at time.Time) message.Message {
	msg := message.Message{
		ConversationID:    conversationID,
		ProviderMessageID: providerID,
		Direction:         message.DirectionOutbound,
		Content:           content,
		OccurredAt:        at,
		DeliveryStatus:    message.StatusSent,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
	if quotedID != "" {
		msg.Quoted = &message.Quoted{ID: quotedID}
	}
	return msg
}

func mediaContent(u media.Uploaded, caption string) (message.Content, whatsapp.OutgoingMedia) {
	ref := message.Media{MediaID: u.MediaID, MimeType: u.MimeType}
	out := whatsapp.OutgoingMedia{ID: u.MediaID, Caption: caption}
	switch u.Kind {
	case media.KindImage:
		return message.Image{Media: ref, Caption: caption}, out
	case media.KindSticker:
		out.Caption = ""
		return message.Image{Media: ref, Sticker: true}, out
	case media.KindVideo:
		return message.Video{Media: ref, Caption: caption}, out
	case media.KindAudio:
		out.Caption = ""
		return message.Audio{Media: ref, Voice: u.Voice}, out
	default:
		out.Filename = u.Filename
		return message.Document{Media: ref, Filename: u.Filename, Caption: caption}, out
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, whatsapp.ErrTransientSend):
		return "transient"
	case errors.Is(err, whatsapp.ErrProviderAuth):
		return "provider_auth"
	case errors.Is(err, whatsapp.ErrMissingProviderID):
		return "missing_id"
	case errors.Is(err, whatsapp.ErrPermanentSend):
		return "permanent"
	case errors.Is(err, media.ErrFileTooLarge), errors.Is(err, media.ErrEmptyFile):
		return "rejected"
	default:
		return "error"
	}
}
