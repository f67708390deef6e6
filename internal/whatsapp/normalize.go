package whatsapp

import (
	"strconv"
	"strings"
	"time"

	"github.com/memohai/wadesk/internal/message"
)

// Batch is everything one webhook change asks the engine to apply.
type Batch struct {
	PhoneNumberID string
	Messages      []message.InboundInput
	Reactions     []message.ReactionInput
	Statuses      []message.StatusInput
	Failures      []StatusFailure
}

// Empty reports whether the batch carries nothing to apply.
func (b Batch) Empty() bool {
	return len(b.Messages) == 0 && len(b.Reactions) == 0 && len(b.Statuses) == 0 && len(b.Failures) == 0
}

// StatusFailure is a provider receipt that cannot be stored as a delivery
// status, such as "failed". It is only logged.
type StatusFailure struct {
	ConversationID    string
	ProviderMessageID string
	Status            string
	Errors            []WireError
}

// Normalize turns one webhook change value into domain inputs. It never
// fails: unknown message types become Unsupported content and receipts we
// cannot store become Failures.
func Normalize(value ChangeValue, receivedAt time.Time) Batch {
	batch := Batch{PhoneNumberID: value.Metadata.PhoneNumberID}

	names := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		if name := strings.TrimSpace(c.Profile.Name); name != "" {
			names[normalizePhone(c.WaID)] = name
		}
	}

	for _, m := range value.Messages {
		from := normalizePhone(m.From)
		if from == "" || strings.TrimSpace(m.ID) == "" {
			continue
		}
		conversationID := ConversationID(from)
		occurredAt := parseTimestamp(m.Timestamp, receivedAt)

		if m.Type == "reaction" && m.Reaction != nil {
			batch.Reactions = append(batch.Reactions, message.ReactionInput{
				ConversationID: conversationID,
				TargetID:       m.Reaction.MessageID,
				Emoji:          m.Reaction.Emoji,
				Direction:      message.DirectionInbound,
				By:             from,
				OccurredAt:     occurredAt,
			})
			continue
		}

		input := message.InboundInput{
			ConversationID:    conversationID,
			ProviderMessageID: m.ID,
			Content:           normalizeContent(m),
			SenderDisplayName: names[from],
			OccurredAt:        occurredAt,
		}
		if m.Context != nil {
			input.QuotedID = strings.TrimSpace(m.Context.ID)
		}
		batch.Messages = append(batch.Messages, input)
	}

	for _, s := range value.Statuses {
		recipient := normalizePhone(s.RecipientID)
		if recipient == "" || strings.TrimSpace(s.ID) == "" {
			continue
		}
		conversationID := ConversationID(recipient)
		status, ok := message.ParseDeliveryStatus(strings.ToLower(strings.TrimSpace(s.Status)))
		if !ok {
			batch.Failures = append(batch.Failures, StatusFailure{
				ConversationID:    conversationID,
				ProviderMessageID: s.ID,
				Status:            s.Status,
				Errors:            s.Errors,
			})
			continue
		}
		batch.Statuses = append(batch.Statuses, message.StatusInput{
			ConversationID:    conversationID,
			ProviderMessageID: s.ID,
			Status:            status,
			OccurredAt:        parseTimestamp(s.Timestamp, receivedAt),
		})
	}
	return batch
}

func normalizeContent(m WireMessage) message.Content {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return message.Text{Body: m.Text.Body}
		}
	case "image":
		if m.Image != nil {
			return message.Image{Media: wireMedia(m.Image), Caption: m.Image.Caption}
		}
	case "sticker":
		if m.Sticker != nil {
			return message.Image{Media: wireMedia(m.Sticker), Sticker: true}
		}
	case "video":
		if m.Video != nil {
			return message.Video{Media: wireMedia(m.Video), Caption: m.Video.Caption}
		}
	case "audio":
		if m.Audio != nil {
			return message.Audio{Media: wireMedia(m.Audio), Voice: m.Audio.Voice}
		}
	case "document":
		if m.Document != nil {
			return message.Document{Media: wireMedia(m.Document), Filename: m.Document.Filename, Caption: m.Document.Caption}
		}
	case "location":
		if m.Location != nil {
			return message.Location{
				Latitude:  m.Location.Latitude,
				Longitude: m.Location.Longitude,
				Name:      m.Location.Name,
				Address:   m.Location.Address,
				URL:       m.Location.URL,
			}
		}
	case "interactive":
		if c, ok := normalizeInteractive(m.Interactive); ok {
			return c
		}
	case "button":
		if m.Button != nil {
			return message.Interactive{Kind: "button", ReplyID: m.Button.Payload, Title: m.Button.Text}
		}
	default:
		return message.Unsupported{Kind: m.Type, Reason: errorTitle(m.Errors)}
	}
	return message.Unsupported{Kind: m.Type, Reason: "missing " + m.Type + " payload"}
}

func normalizeInteractive(in *WireInteractive) (message.Content, bool) {
	if in == nil {
		return nil, false
	}
	switch in.Type {
	case "button_reply":
		if in.ButtonReply != nil {
			return message.Interactive{Kind: in.Type, ReplyID: in.ButtonReply.ID, Title: in.ButtonReply.Title}, true
		}
	case "list_reply":
		if in.ListReply != nil {
			return message.Interactive{
				Kind:        in.Type,
				ReplyID:     in.ListReply.ID,
				Title:       in.ListReply.Title,
				Description: in.ListReply.Description,
			}, true
		}
	case "nfm_reply":
		if in.NfmReply != nil {
			return message.Interactive{
				Kind:        in.Type,
				ReplyID:     in.NfmReply.Name,
				Title:       in.NfmReply.Body,
				Description: in.NfmReply.ResponseJSON,
			}, true
		}
	default:
		return message.Unsupported{Kind: "interactive:" + in.Type, Reason: "unknown interactive reply"}, true
	}
	return nil, false
}

func wireMedia(m *WireMedia) message.Media {
	return message.Media{MediaID: m.ID, MimeType: m.MimeType, SHA256: m.SHA256}
}

func errorTitle(errs []WireError) string {
	for _, e := range errs {
		if t := strings.TrimSpace(e.Title); t != "" {
			return t
		}
		if msg := strings.TrimSpace(e.Message); msg != "" {
			return msg
		}
	}
	return ""
}

func parseTimestamp(raw string, fallback time.Time) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Unix(secs, 0).UTC()
}
